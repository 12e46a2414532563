// cmd/vmktriage/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signalnine/vmktriage/internal/category"
	"github.com/signalnine/vmktriage/internal/config"
	"github.com/signalnine/vmktriage/internal/ingest"
	"github.com/signalnine/vmktriage/internal/logging"
	"github.com/signalnine/vmktriage/internal/pipeline"
	"github.com/signalnine/vmktriage/internal/record"
	"github.com/signalnine/vmktriage/internal/store"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "vmktriage",
	Short:         "ESXi vmkernel, vmkwarning and vobd log triage",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
}

// env is what every subcommand needs
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func setup() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger}, nil
}

// dictionary loads the configured dictionary. No path means the built-in
// dictionary; an unreadable one leaves every record UNMATCHED.
func (e *env) dictionary() *category.Dictionary {
	if e.cfg.DictionaryPath == "" {
		return category.DefaultDictionary()
	}
	d, err := category.LoadDictionary(e.cfg.DictionaryPath)
	if err != nil {
		e.logger.Warn("dictionary unavailable, all records will be UNMATCHED",
			zap.String("path", e.cfg.DictionaryPath), zap.Error(err))
		return category.NewDictionary()
	}
	e.logger.Debug("dictionary loaded", zap.String("path", e.cfg.DictionaryPath), zap.Int("categories", d.Len()))
	return d
}

func (e *env) pipeline(d *category.Dictionary, opts pipeline.Options) *pipeline.Pipeline {
	opts.Dictionary = d
	if opts.Mode == "" {
		opts.Mode = category.Mode(e.cfg.ClassifyMode)
	}
	opts.Workers = e.cfg.Workers
	opts.ChunkLines = e.cfg.ChunkLines
	opts.DebugDumpDir = e.cfg.DebugDumpDir
	return pipeline.New(opts, e.logger)
}

func (e *env) ingester(db *store.DB) *ingest.Ingester {
	opts := pipeline.Options{
		Dictionary:       e.dictionary(),
		Mode:             category.Mode(e.cfg.ClassifyMode),
		AttributableOnly: attributable || e.cfg.AttributableOnly,
		Workers:          e.cfg.Workers,
		ChunkLines:       e.cfg.ChunkLines,
		DebugDumpDir:     e.cfg.DebugDumpDir,
	}
	return ingest.New(db, opts, e.cfg.CheckpointDir, e.logger)
}

// resolveFamily honours an explicit --family, else infers from the file name
func resolveFamily(flag, path string) (record.Family, error) {
	if flag != "" {
		return record.ParseFamily(flag)
	}
	family, err := record.FamilyFromPath(path)
	if err != nil {
		return "", fmt.Errorf("%s: %w (use --family)", path, err)
	}
	return family, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
