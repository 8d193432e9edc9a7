// Package config loads process configuration from the environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// SAP tenant configuration
	APIBaseURL   string
	TokenURL     string
	ClientID     string
	ClientSecret string

	// Catalog configuration
	CatalogTTL time.Duration
	Prefetch   bool

	// Backend call tuning
	RequestTimeout  time.Duration
	FlowConcurrency int

	// Export storage configuration
	StorageType       string // "local" or "s3"
	ExportDir         string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Prefix          string
	S3ForcePathStyle  bool
	S3UseSSL          bool

	// Server configuration
	Port        string
	CORSOrigins []string
	LogLevel    string
	LogFormat   string // console or json
	LogColor    bool   // enable color for console logs
	Metrics     bool
}

// Load reads every setting from the environment, falling back to
// defaults that run against a local tenant out of the box. It panics on
// an S3 selection with incomplete credentials, there is no sane way to
// continue without a working store.
func Load() *Config {
	cfg := &Config{
		APIBaseURL:   getEnv("CPIDASH_API_BASE_URL", ""),
		TokenURL:     getEnv("CPIDASH_TOKEN_URL", ""),
		ClientID:     getEnv("CPIDASH_CLIENT_ID", ""),
		ClientSecret: getEnv("CPIDASH_CLIENT_SECRET", ""),

		CatalogTTL: getSecondsEnv("CPIDASH_CATALOG_TTL", 5*time.Minute),
		Prefetch:   getBoolEnv("CPIDASH_PREFETCH", true),

		RequestTimeout:  getSecondsEnv("CPIDASH_REQUEST_TIMEOUT", 30*time.Second),
		FlowConcurrency: getIntEnv("CPIDASH_FLOW_CONCURRENCY", 5),

		StorageType:       getEnv("CPIDASH_STORAGE_TYPE", "local"),
		ExportDir:         getEnv("CPIDASH_EXPORT_DIR", ""),
		S3Endpoint:        getEnv("AWS_ENDPOINT_URL", ""),
		S3AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		S3Region:          getEnv("AWS_REGION", "us-east-1"),
		S3Bucket:          getEnv("CPIDASH_S3_BUCKET", ""),
		S3Prefix:          getEnv("CPIDASH_S3_PREFIX", "cpidash"),
		S3ForcePathStyle:  getBoolEnv("CPIDASH_S3_FORCE_PATH_STYLE", false),
		S3UseSSL:          getBoolEnv("CPIDASH_S3_USE_SSL", true),

		Port:      getEnv("PORT", "8000"),
		LogLevel:  getEnv("CPIDASH_LOGGING_LEVEL", "INFO"),
		LogFormat: getEnv("CPIDASH_LOG_FORMAT", "console"),
		LogColor:  getBoolEnv("CPIDASH_LOG_COLOR", true),
		Metrics:   getBoolEnv("CPIDASH_METRICS", true),
	}

	cfg.CORSOrigins = []string{"*"}
	if origins := getEnv("CPIDASH_CORS_ORIGINS", ""); origins != "" {
		cfg.CORSOrigins = splitAndTrim(origins, ",")
	}

	if cfg.FlowConcurrency < 1 {
		cfg.FlowConcurrency = 1
	}

	if cfg.ExportDir == "" {
		cfg.ExportDir = filepath.Join(os.TempDir(), "cpidash-exports")
	}

	if cfg.StorageType == "s3" {
		if cfg.S3Endpoint == "" {
			cfg.S3Endpoint = "s3.amazonaws.com"
		}
		if cfg.S3Bucket == "" {
			panic("CPIDASH_S3_BUCKET must be set when using S3 storage")
		}
		if cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "" {
			panic("S3 storage needs AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY")
		}
	}

	return cfg
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// getSecondsEnv reads a duration given as a number of seconds, integer
// or fractional.
func getSecondsEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "0", "no", "off", "false":
		return false
	}
	return true
}

func splitAndTrim(s, sep string) []string {
	out := make([]string, 0, 4)
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
