package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// AuditDestination selects where audit log lines are written.
type AuditDestination string

const (
	AuditDestinationStdout AuditDestination = "stdout"
	AuditDestinationFile   AuditDestination = "file"
	AuditDestinationBoth   AuditDestination = "both"
)

// AuditLevel filters which operations get logged.
type AuditLevel string

const (
	AuditLevelDebug AuditLevel = "debug"
	AuditLevelInfo  AuditLevel = "info"
	AuditLevelWarn  AuditLevel = "warn"
	AuditLevelError AuditLevel = "error"
)

// AuditConfig configures internal/audit per spec.md §6.
type AuditConfig struct {
	Enabled           bool
	Destination       AuditDestination
	FilePath          string
	EnableRotation    bool
	MaxFileSizeBytes  int64
	MaxRotatedFiles   int
	Level             AuditLevel
	RedactFields      []string
}

var defaultRedactFields = []string{"password", "token", "secret", "api_key", "private_key"}

// DefaultAuditConfig matches spec.md §6's documented defaults.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:          false,
		Destination:      AuditDestinationStdout,
		FilePath:         "./logs/audit.log",
		EnableRotation:   true,
		MaxFileSizeBytes: 10 * 1024 * 1024,
		MaxRotatedFiles:  5,
		Level:            AuditLevelInfo,
		RedactFields:     append([]string(nil), defaultRedactFields...),
	}
}

// AuditConfigFromEnv reads AUDIT_LOG_* variables, falling back to
// defaults (with a logged warning) on malformed values.
func AuditConfigFromEnv() *AuditConfig {
	cfg := DefaultAuditConfig()

	if raw, ok := os.LookupEnv("AUDIT_LOG_ENABLED"); ok && raw != "" {
		if b, err := parseBool(raw); err == nil {
			cfg.Enabled = b
		} else {
			log.Printf("[CONFIG] invalid AUDIT_LOG_ENABLED=%q, using default %v", raw, cfg.Enabled)
		}
	}

	if raw, ok := os.LookupEnv("AUDIT_LOG_DESTINATION"); ok && raw != "" {
		switch strings.ToLower(raw) {
		case "stdout":
			cfg.Destination = AuditDestinationStdout
		case "file":
			cfg.Destination = AuditDestinationFile
		case "both":
			cfg.Destination = AuditDestinationBoth
		default:
			log.Printf("[CONFIG] unknown AUDIT_LOG_DESTINATION=%q, defaulting to stdout", raw)
		}
	}

	if raw, ok := os.LookupEnv("AUDIT_LOG_FILE_PATH"); ok && raw != "" {
		cfg.FilePath = raw
	}

	if raw, ok := os.LookupEnv("AUDIT_LOG_ENABLE_ROTATION"); ok && raw != "" {
		if b, err := parseBool(raw); err == nil {
			cfg.EnableRotation = b
		}
	}

	if raw, ok := os.LookupEnv("AUDIT_LOG_MAX_FILE_SIZE"); ok && raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			cfg.MaxFileSizeBytes = n
		} else {
			log.Printf("[CONFIG] invalid AUDIT_LOG_MAX_FILE_SIZE=%q, using default", raw)
		}
	}

	if raw, ok := os.LookupEnv("AUDIT_LOG_MAX_ROTATED_FILES"); ok && raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			cfg.MaxRotatedFiles = n
		}
	}

	if raw, ok := os.LookupEnv("AUDIT_LOG_LEVEL"); ok && raw != "" {
		switch strings.ToLower(raw) {
		case "debug":
			cfg.Level = AuditLevelDebug
		case "info":
			cfg.Level = AuditLevelInfo
		case "warn":
			cfg.Level = AuditLevelWarn
		case "error":
			cfg.Level = AuditLevelError
		default:
			log.Printf("[CONFIG] unknown AUDIT_LOG_LEVEL=%q, defaulting to info", raw)
		}
	}

	if raw, ok := os.LookupEnv("AUDIT_LOG_REDACT_FIELDS"); ok && raw != "" {
		fields := strings.Split(raw, ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		cfg.RedactFields = fields
	}

	return cfg
}
