// Package audit implements the AUDIT_LOG_* JSON-lines writer from
// spec.md §6: one JSON object per line, to stdout, a rotating file, or
// both, with a fixed set of field names redacted before the line is
// written.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/ncruces/go-strftime"

	"github.com/cliairmonitor/epimem/internal/config"
)

// Result is the outcome field of an audit log line.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

const redactedPlaceholder = "***REDACTED***"

var levelRank = map[config.AuditLevel]int{
	config.AuditLevelDebug: 0,
	config.AuditLevelInfo:  1,
	config.AuditLevelWarn:  2,
	config.AuditLevelError: 3,
}

// entry is the JSON shape of one audit log line, per spec.md §6:
// { timestamp, level, client_id, operation, result, metadata }.
type entry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	ClientID  string                 `json:"client_id"`
	Operation string                 `json:"operation"`
	Result    Result                 `json:"result"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Logger writes redacted, leveled audit lines to the configured
// destination(s). Safe for concurrent use.
type Logger struct {
	cfg *config.AuditConfig

	mu        sync.Mutex
	stdout    io.Writer
	file      *os.File
	redactSet map[string]struct{}

	// size/rotation bookkeeping for the current file, if any.
	currentSize int64
}

// New builds a Logger from cfg. A disabled config (cfg.Enabled ==
// false) still returns a usable Logger whose Log calls are no-ops,
// so callers never need a nil check.
func New(cfg *config.AuditConfig) (*Logger, error) {
	if cfg == nil {
		cfg = config.DefaultAuditConfig()
	}

	l := &Logger{cfg: cfg, redactSet: make(map[string]struct{}, len(cfg.RedactFields))}
	for _, f := range cfg.RedactFields {
		l.redactSet[strings.ToLower(f)] = struct{}{}
	}

	if !cfg.Enabled {
		return l, nil
	}

	if cfg.Destination == config.AuditDestinationStdout || cfg.Destination == config.AuditDestinationBoth {
		l.stdout = os.Stdout
		if !isInteractive() {
			fmt.Fprintln(os.Stderr, "[AUDIT] stdout is not a terminal, audit lines will interleave with redirected output")
		}
	}
	if cfg.Destination == config.AuditDestinationFile || cfg.Destination == config.AuditDestinationBoth {
		if err := l.openFile(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Logger) openFile() error {
	if dir := filepath.Dir(l.cfg.FilePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create audit log directory: %w", err)
		}
	}
	f, err := os.OpenFile(l.cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat audit log file: %w", err)
	}
	l.file = f
	l.currentSize = info.Size()
	return nil
}

// Log writes one audit line if level meets the configured threshold.
// Failures to write are swallowed after being surfaced to stderr:
// audit logging must never block or fail the operation it describes.
func (l *Logger) Log(level config.AuditLevel, clientID, operation string, result Result, metadata map[string]interface{}) {
	if l == nil || !l.cfg.Enabled {
		return
	}
	if levelRank[level] < levelRank[l.cfg.Level] {
		return
	}

	e := entry{
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     string(level),
		ClientID:  clientID,
		Operation: operation,
		Result:    result,
		Metadata:  l.redact(metadata),
	}

	line, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[AUDIT] failed to marshal audit entry: %v\n", err)
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stdout != nil {
		l.stdout.Write(line)
	}
	if l.file != nil {
		l.writeFileLocked(line)
	}
}

// redact replaces any metadata value whose key (case-insensitively)
// matches a configured redact field with a fixed placeholder. Field
// names are replaced, not removed, per spec.md §6.
func (l *Logger) redact(metadata map[string]interface{}) map[string]interface{} {
	if len(metadata) == 0 {
		return metadata
	}
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		if _, redacted := l.redactSet[strings.ToLower(k)]; redacted {
			out[k] = redactedPlaceholder
		} else {
			out[k] = v
		}
	}
	return out
}

func (l *Logger) writeFileLocked(line []byte) {
	n, err := l.file.Write(line)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[AUDIT] failed to write audit log file: %v\n", err)
		return
	}
	l.currentSize += int64(n)

	if l.cfg.EnableRotation && l.currentSize >= l.cfg.MaxFileSizeBytes {
		l.rotateLocked()
	}
}

// rotateLocked closes the current file, renames it with a
// strftime-stamped suffix, prunes beyond MaxRotatedFiles, and opens a
// fresh file in its place.
func (l *Logger) rotateLocked() {
	l.file.Close()

	stamp := strftime.Format("%Y%m%d-%H%M%S", time.Now())
	rotated := fmt.Sprintf("%s.%s", l.cfg.FilePath, stamp)
	if err := os.Rename(l.cfg.FilePath, rotated); err != nil {
		fmt.Fprintf(os.Stderr, "[AUDIT] failed to rotate audit log file: %v\n", err)
	}
	l.pruneRotatedLocked()

	if err := l.openFile(); err != nil {
		fmt.Fprintf(os.Stderr, "[AUDIT] failed to reopen audit log file after rotation: %v\n", err)
	}
}

func (l *Logger) pruneRotatedLocked() {
	if l.cfg.MaxRotatedFiles <= 0 {
		return
	}
	pattern := l.cfg.FilePath + ".*"
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) <= l.cfg.MaxRotatedFiles {
		return
	}
	// Glob results are lexically sorted; the strftime suffix format
	// makes lexical order match chronological order.
	excess := len(matches) - l.cfg.MaxRotatedFiles
	for _, path := range matches[:excess] {
		os.Remove(path)
	}
}

// Close releases the underlying file handle, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// isInteractive reports whether stdout is a terminal, used by callers
// deciding whether to also mirror audit lines to a human-readable
// logger. Kept here so internal/audit is self-contained about its one
// go-isatty use, matching the library's narrow purpose rather than
// spreading terminal-detection across the codebase.
func isInteractive() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}
