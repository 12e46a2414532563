// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "vmktriage.yaml")
	content := []byte(`
dictionary_path: /etc/vmktriage/vmk_8_mod.json
problem_modules_path: /etc/vmktriage/vobd_8_problem_modules.json
debug_dump_dir: /tmp/vmktriage-debug
workers: 3
chunk_lines: 512
classify_mode: first
attributable_only: true
db_path: /var/lib/vmktriage/runs.db
listen_addr: ":9312"
log_format: json
poll_interval: 90s
watch_paths:
  - /var/log/vmkernel.log
  - /var/log/vobd*.log
`)
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DictionaryPath != "/etc/vmktriage/vmk_8_mod.json" {
		t.Errorf("DictionaryPath = %q", cfg.DictionaryPath)
	}
	if cfg.Workers != 3 {
		t.Errorf("Workers = %d, want 3", cfg.Workers)
	}
	if cfg.ChunkLines != 512 {
		t.Errorf("ChunkLines = %d, want 512", cfg.ChunkLines)
	}
	if cfg.ClassifyMode != "first" {
		t.Errorf("ClassifyMode = %q, want first", cfg.ClassifyMode)
	}
	if !cfg.AttributableOnly {
		t.Error("AttributableOnly = false, want true")
	}
	if cfg.ListenAddr != ":9312" {
		t.Errorf("ListenAddr = %q, want :9312", cfg.ListenAddr)
	}
	if cfg.PollInterval != 90*time.Second {
		t.Errorf("PollInterval = %v, want 90s", cfg.PollInterval)
	}
	if len(cfg.WatchPaths) != 2 || cfg.WatchPaths[1] != "/var/log/vobd*.log" {
		t.Errorf("WatchPaths = %v", cfg.WatchPaths)
	}
	// Unset fields keep defaults
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "vmktriage.yaml")
	if err := os.WriteFile(configPath, []byte("db_path: /from/file.db\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("VMKTRIAGE_API_KEY", "test-secret")
	t.Setenv("VMKTRIAGE_DEBUG_DUMP_DIR", "/tmp/dumps")
	t.Setenv("VMKTRIAGE_DB_PATH", "/from/env.db")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.APIKey != "test-secret" {
		t.Errorf("APIKey = %q, want %q", cfg.APIKey, "test-secret")
	}
	if cfg.DebugDumpDir != "/tmp/dumps" {
		t.Errorf("DebugDumpDir = %q, want /tmp/dumps", cfg.DebugDumpDir)
	}
	if cfg.DBPath != "/from/env.db" {
		t.Errorf("DBPath = %q, want /from/env.db", cfg.DBPath)
	}
}

func TestLoadNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.ClassifyMode != "multi" {
		t.Errorf("ClassifyMode = %q, want multi", cfg.ClassifyMode)
	}
	if cfg.Workers < 1 {
		t.Errorf("Workers = %d, want >= 1", cfg.Workers)
	}
	if cfg.DebugDumpDir != "" {
		t.Errorf("DebugDumpDir = %q, want empty", cfg.DebugDumpDir)
	}
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(configPath, []byte("classify_mode: exclusive\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("Load accepted unknown classify_mode")
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load accepted missing file")
	}
}

func TestValidateTLSPair(t *testing.T) {
	cfg := Default()
	cfg.TLSCert = "/etc/vmktriage/cert.pem"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted tls_cert without tls_key")
	}
	cfg.TLSKey = "/etc/vmktriage/key.pem"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadNormalizesClassifyMode(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "mode.yaml")
	if err := os.WriteFile(configPath, []byte("classify_mode: \" First \"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ClassifyMode != "first" {
		t.Errorf("ClassifyMode = %q, want first", cfg.ClassifyMode)
	}

	cfg = Default()
	cfg.ClassifyMode = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.ClassifyMode != "multi" {
		t.Errorf("empty ClassifyMode = %q, want multi", cfg.ClassifyMode)
	}
}
