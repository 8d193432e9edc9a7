// Package logger configures the phuslu structured logger for the
// whole process.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/phuslu/log"
)

// Logger is the package level instance set up by Init.
var Logger log.Logger

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // console, json
	Color  bool   // enable color output for console
}

var levelNames = map[string]log.Level{
	"DEBUG":   log.DebugLevel,
	"INFO":    log.InfoLevel,
	"WARN":    log.WarnLevel,
	"WARNING": log.WarnLevel,
	"ERROR":   log.ErrorLevel,
	"FATAL":   log.FatalLevel,
}

// ParseLevel maps a level name to its phuslu level. Unrecognized names
// fall back to INFO.
func ParseLevel(name string) log.Level {
	if lvl, ok := levelNames[strings.ToUpper(name)]; ok {
		return lvl
	}
	return log.InfoLevel
}

// Init configures the package and default loggers. Format "json" emits
// one object per line for log collectors, anything else gets the human
// console writer.
func Init(cfg LogConfig) {
	level := ParseLevel(cfg.Level)

	var writer log.Writer
	timeFormat := time.RFC3339
	if strings.ToLower(cfg.Format) == "json" {
		writer = &log.IOWriter{Writer: os.Stdout}
	} else {
		timeFormat = "15:04:05.000"
		writer = &log.ConsoleWriter{
			ColorOutput:    cfg.Color && log.IsTerminal(os.Stdout.Fd()),
			QuoteString:    true,
			EndWithMessage: true,
			Writer:         os.Stdout,
		}
	}

	Logger = log.Logger{
		Level:      level,
		TimeFormat: timeFormat,
		Writer:     writer,
	}

	// log.Info() style calls everywhere else go through the default
	log.DefaultLogger = Logger
	log.DefaultLogger.SetLevel(level)
}
