// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxConcurrentRuns bounds simultaneous verification runs; each one
	// holds a browser.
	MaxConcurrentRuns   int
	VerifyTimeout       time.Duration // Per-run wall-clock budget.
	MaxRequestBodyBytes int64         // Maximum request body size in bytes.
	// CORSAllowedOrigins lists origins allowed to call the API. Empty
	// means any origin.
	CORSAllowedOrigins []string

	// Browser settings.
	ChromePath         string // Empty means look up the default executable.
	Headless           bool
	NavTimeout         time.Duration
	NavFallbackTimeout time.Duration

	// Run phase settings.
	SettleWait      time.Duration // Post-navigation wait before detection.
	ConsentWait     time.Duration // Post-accept wait for a tracking beacon.
	LinkObserveWait time.Duration // Per-link beacon observation window.
	FormObserveWait time.Duration // Per-form beacon observation window.

	// Report archive settings.
	DatabasePath    string        // SQLite file path.
	ReportRetention time.Duration // Reports older than this are pruned. Zero disables pruning.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("TAGSENTRY_PORT", 8080),
		ReadTimeout:         envDuration("TAGSENTRY_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("TAGSENTRY_WRITE_TIMEOUT", 120*time.Second),
		MaxConcurrentRuns:   envInt("TAGSENTRY_MAX_CONCURRENT_RUNS", 2),
		VerifyTimeout:       envDuration("TAGSENTRY_VERIFY_TIMEOUT", 2*time.Minute),
		MaxRequestBodyBytes: int64(envInt("TAGSENTRY_MAX_REQUEST_BODY_BYTES", 64*1024)),
		CORSAllowedOrigins:  envList("TAGSENTRY_CORS_ALLOWED_ORIGINS", nil),
		ChromePath:          envStr("TAGSENTRY_CHROME_PATH", ""),
		Headless:            envBool("TAGSENTRY_HEADLESS", true),
		NavTimeout:          envDuration("TAGSENTRY_NAV_TIMEOUT", 30*time.Second),
		NavFallbackTimeout:  envDuration("TAGSENTRY_NAV_FALLBACK_TIMEOUT", 15*time.Second),
		SettleWait:          envDuration("TAGSENTRY_SETTLE_WAIT", 5*time.Second),
		ConsentWait:         envDuration("TAGSENTRY_CONSENT_WAIT", 5*time.Second),
		LinkObserveWait:     envDuration("TAGSENTRY_LINK_OBSERVE_WAIT", 3*time.Second),
		FormObserveWait:     envDuration("TAGSENTRY_FORM_OBSERVE_WAIT", 4*time.Second),
		DatabasePath:        envStr("TAGSENTRY_DB_PATH", "tagsentry.db"),
		ReportRetention:     envDuration("TAGSENTRY_REPORT_RETENTION", 30*24*time.Hour),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "tagsentry"),
		LogLevel:            envStr("TAGSENTRY_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: TAGSENTRY_PORT must be a valid port")
	}
	if c.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("config: TAGSENTRY_MAX_CONCURRENT_RUNS must be positive")
	}
	if c.VerifyTimeout <= 0 {
		return fmt.Errorf("config: TAGSENTRY_VERIFY_TIMEOUT must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: TAGSENTRY_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("config: TAGSENTRY_DB_PATH is required")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
