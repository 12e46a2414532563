// internal/ingest/watch.go
package ingest

import (
	"context"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/signalnine/vmktriage/internal/record"
)

// Watcher ingests a set of log files on an interval
type Watcher struct {
	ingester *Ingester
	patterns []string
	interval time.Duration
	logger   *zap.Logger
}

// NewWatcher creates a watcher. patterns are file globs, e.g.
// /var/log/vmkernel.log or /scratch/log/vobd*.log
func NewWatcher(ing *Ingester, patterns []string, interval time.Duration, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		ingester: ing,
		patterns: patterns,
		interval: interval,
		logger:   logger,
	}
}

// Run starts the watch loop
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher starting", zap.Strings("patterns", w.patterns), zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run immediately on start
	w.collect(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher shutting down")
			return nil
		case <-ticker.C:
			w.collect(ctx)
		}
	}
}

// collect ingests every matching file once, oldest rotation first so a
// family checkpoint never skips an older file. Failures are logged and the
// remaining files still run.
func (w *Watcher) collect(ctx context.Context) {
	for _, path := range OldestFirst(w.files()) {
		if ctx.Err() != nil {
			return
		}
		family, err := record.FamilyFromPath(path)
		if err != nil {
			w.logger.Warn("skipping file of unknown family", zap.String("path", path))
			continue
		}
		if _, err := w.ingester.File(ctx, path, family); err != nil {
			w.logger.Error("ingest failed", zap.String("path", path), zap.Error(err))
		}
	}
}

func (w *Watcher) files() []string {
	var files []string
	seen := make(map[string]bool)
	for _, pattern := range w.patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			w.logger.Warn("bad watch pattern", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	return files
}

// rotation returns the rotation number of an ESXi log file name:
// vmkernel.1.gz is 1, vmkernel.0.gz is 0 and the live vmkernel.log is -1.
func rotation(path string) int {
	base := strings.ToLower(filepath.Base(path))
	base = strings.TrimSuffix(base, ".gz")
	base = strings.TrimSuffix(base, ".log")
	dot := strings.LastIndexByte(base, '.')
	if dot < 0 {
		return -1
	}
	n, err := strconv.Atoi(base[dot+1:])
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// OldestFirst orders files by descending rotation number, live files last
func OldestFirst(files []string) []string {
	sorted := slices.Clone(files)
	slices.SortStableFunc(sorted, func(a, b string) int {
		return rotation(b) - rotation(a)
	})
	return sorted
}
