package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cliairmonitor/epimem/internal/config"
)

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("unmarshal audit line: %v", err)
		}
		lines = append(lines, m)
	}
	return lines
}

func TestDisabledLoggerIsANoOp(t *testing.T) {
	cfg := config.DefaultAuditConfig()
	cfg.Enabled = false

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Must not panic even with no destination configured.
	l.Log(config.AuditLevelInfo, "client-1", "start_episode", ResultSuccess, map[string]interface{}{"k": "v"})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestFileLoggerWritesJSONLines(t *testing.T) {
	cfg := config.DefaultAuditConfig()
	cfg.Enabled = true
	cfg.Destination = config.AuditDestinationFile
	cfg.FilePath = filepath.Join(t.TempDir(), "audit.log")

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	l.Log(config.AuditLevelInfo, "client-1", "start_episode", ResultSuccess, map[string]interface{}{"episode_id": "ep-1"})

	lines := readLines(t, cfg.FilePath)
	if len(lines) != 1 {
		t.Fatalf("expected 1 audit line, got %d", len(lines))
	}
	e := lines[0]
	if e["client_id"] != "client-1" || e["operation"] != "start_episode" || e["result"] != string(ResultSuccess) {
		t.Errorf("unexpected audit entry shape: %+v", e)
	}
	if _, ok := e["timestamp"]; !ok {
		t.Error("expected timestamp field")
	}
}

func TestLevelBelowThresholdIsSkipped(t *testing.T) {
	cfg := config.DefaultAuditConfig()
	cfg.Enabled = true
	cfg.Destination = config.AuditDestinationFile
	cfg.FilePath = filepath.Join(t.TempDir(), "audit.log")
	cfg.Level = config.AuditLevelWarn

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	l.Log(config.AuditLevelInfo, "client-1", "log_step", ResultSuccess, nil)
	l.Log(config.AuditLevelError, "client-1", "complete_episode", ResultFailure, nil)

	lines := readLines(t, cfg.FilePath)
	if len(lines) != 1 {
		t.Fatalf("expected only the error-level line to pass the warn threshold, got %d lines", len(lines))
	}
	if lines[0]["operation"] != "complete_episode" {
		t.Errorf("expected complete_episode to be the surviving line, got %+v", lines[0])
	}
}

func TestRedactFieldsReplaceNotRemoveMetadataKeys(t *testing.T) {
	cfg := config.DefaultAuditConfig()
	cfg.Enabled = true
	cfg.Destination = config.AuditDestinationFile
	cfg.FilePath = filepath.Join(t.TempDir(), "audit.log")

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	l.Log(config.AuditLevelInfo, "client-1", "start_episode", ResultSuccess, map[string]interface{}{
		"api_key": "super-secret",
		"domain":  "ci-ops",
	})

	lines := readLines(t, cfg.FilePath)
	meta := lines[0]["metadata"].(map[string]interface{})
	if meta["api_key"] != redactedPlaceholder {
		t.Errorf("expected api_key to be redacted, got %v", meta["api_key"])
	}
	if meta["domain"] != "ci-ops" {
		t.Errorf("expected unrelated field to survive untouched, got %v", meta["domain"])
	}
}

func TestRotationKeepsAtMostMaxRotatedFiles(t *testing.T) {
	cfg := config.DefaultAuditConfig()
	cfg.Enabled = true
	cfg.Destination = config.AuditDestinationFile
	cfg.FilePath = filepath.Join(t.TempDir(), "audit.log")
	cfg.EnableRotation = true
	cfg.MaxFileSizeBytes = 1 // force rotation after every line
	cfg.MaxRotatedFiles = 2

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	for i := 0; i < 5; i++ {
		l.Log(config.AuditLevelInfo, "client-1", "log_step", ResultSuccess, nil)
	}

	matches, err := filepath.Glob(cfg.FilePath + ".*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) > cfg.MaxRotatedFiles {
		t.Fatalf("expected at most %d rotated files, got %d", cfg.MaxRotatedFiles, len(matches))
	}
}
