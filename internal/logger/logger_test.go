package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/phuslu/log"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected log.Level
	}{
		{"DEBUG", log.DebugLevel},
		{"debug", log.DebugLevel},
		{"Debug", log.DebugLevel},
		{"INFO", log.InfoLevel},
		{"info", log.InfoLevel},
		{"WARN", log.WarnLevel},
		{"WARNING", log.WarnLevel},
		{"warn", log.WarnLevel},
		{"ERROR", log.ErrorLevel},
		{"error", log.ErrorLevel},
		{"FATAL", log.FatalLevel},
		{"fatal", log.FatalLevel},
		{"INVALID", log.InfoLevel}, // default fallback
		{"", log.InfoLevel},        // default fallback
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			result := ParseLevel(tc.input)
			if result != tc.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, result, tc.expected)
			}
		})
	}
}

// captureStdout runs fn with os.Stdout redirected to a pipe and returns
// everything written.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	originalStdout := os.Stdout
	defer func() { os.Stdout = originalStdout }()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w

	fn()

	w.Close()
	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String()
}

func TestInit_JSONFormat(t *testing.T) {
	output := captureStdout(t, func() {
		Init(LogConfig{Level: "INFO", Format: "json"})
		Logger.Info().Msg("test message")
	})

	if !strings.Contains(output, `"level":"info"`) {
		t.Error("Expected JSON formatted log output")
	}
	if !strings.Contains(output, `"message":"test message"`) {
		t.Error("Expected message in JSON output")
	}
}

func TestInit_ConsoleFormat(t *testing.T) {
	output := captureStdout(t, func() {
		Init(LogConfig{Level: "DEBUG", Format: "console", Color: false})
		Logger.Info().Msg("console test message")
	})

	if !strings.Contains(output, "console test message") {
		t.Error("Expected console formatted log output")
	}
	if !strings.Contains(output, ":") {
		t.Error("Expected timestamp in console output")
	}
}

func TestInit_LevelFiltering(t *testing.T) {
	output := captureStdout(t, func() {
		Init(LogConfig{Level: "WARN", Format: "console", Color: false})
		Logger.Debug().Msg("debug message")
		Logger.Info().Msg("info message")
		Logger.Warn().Msg("warn message")
		Logger.Error().Msg("error message")
	})

	if strings.Contains(output, "debug message") {
		t.Error("Debug message should be filtered out at WARN level")
	}
	if strings.Contains(output, "info message") {
		t.Error("Info message should be filtered out at WARN level")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("Warn message should be included at WARN level")
	}
	if !strings.Contains(output, "error message") {
		t.Error("Error message should be included at WARN level")
	}
}

func TestInit_DefaultFormat(t *testing.T) {
	// Empty format falls back to console
	Init(LogConfig{Level: "INFO", Format: "", Color: false})

	if Logger.Level != log.InfoLevel {
		t.Error("Logger level not set correctly")
	}
}
