// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalnine/vmktriage/internal/category"
)

// Config for the triage pipeline, store and read-only server
type Config struct {
	// Pipeline
	DictionaryPath     string `yaml:"dictionary_path"`      // category dictionary JSON; empty uses built-in
	ProblemModulesPath string `yaml:"problem_modules_path"` // vobd problem module JSON
	DebugDumpDir       string `yaml:"debug_dump_dir"`       // CSV dumps per stage; empty disables
	Workers            int    `yaml:"workers"`
	ChunkLines         int    `yaml:"chunk_lines"`
	ClassifyMode       string `yaml:"classify_mode"` // "multi" or "first"
	AttributableOnly   bool   `yaml:"attributable_only"`

	// Ingest and watch
	DBPath        string        `yaml:"db_path"`
	CheckpointDir string        `yaml:"checkpoint_dir"` // resume after the last stored timestamp
	WatchPaths    []string      `yaml:"watch_paths"`    // globs polled by watch
	PollInterval  time.Duration `yaml:"poll_interval"`

	// Server
	ListenAddr string `yaml:"listen_addr"`
	TLSCert    string `yaml:"tls_cert"`
	TLSKey     string `yaml:"tls_key"`
	APIKey     string `yaml:"-"` // from env only

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Workers:      runtime.GOMAXPROCS(0),
		ChunkLines:   4096,
		ClassifyMode: string(category.ModeMulti),
		DBPath:       "vmktriage.db",
		PollInterval: 5 * time.Minute,
		ListenAddr:   "127.0.0.1:9312",
		LogLevel:     "info",
		LogFormat:    "console",
	}
}

// Load reads config from a YAML file with env overrides.
// An empty path yields defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Env overrides
	if key := os.Getenv("VMKTRIAGE_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if dir := os.Getenv("VMKTRIAGE_DEBUG_DUMP_DIR"); dir != "" {
		cfg.DebugDumpDir = dir
	}
	if db := os.Getenv("VMKTRIAGE_DB_PATH"); db != "" {
		cfg.DBPath = db
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside the pipeline.
// classify_mode is rewritten in its canonical form.
func (c *Config) Validate() error {
	mode, err := category.ParseMode(c.ClassifyMode)
	if err != nil {
		return err
	}
	c.ClassifyMode = string(mode)
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.ChunkLines < 0 {
		return fmt.Errorf("chunk_lines must not be negative, got %d", c.ChunkLines)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	return nil
}
