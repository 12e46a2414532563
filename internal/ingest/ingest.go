// internal/ingest/ingest.go
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/signalnine/vmktriage/internal/pipeline"
	"github.com/signalnine/vmktriage/internal/protocol"
	"github.com/signalnine/vmktriage/internal/record"
	"github.com/signalnine/vmktriage/internal/store"
)

// Ingester runs files through the pipeline and stores the runs
type Ingester struct {
	db            *store.DB
	opts          pipeline.Options
	checkpointDir string
	logger        *zap.Logger
}

// New creates an ingester. opts is the template for every run; when
// checkpointDir is set each family resumes after its last stored timestamp.
func New(db *store.DB, opts pipeline.Options, checkpointDir string, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		db:            db,
		opts:          opts,
		checkpointDir: checkpointDir,
		logger:        logger,
	}
}

// CheckpointPath returns the checkpoint file of a family, or "" when disabled
func (i *Ingester) CheckpointPath(family record.Family) string {
	if i.checkpointDir == "" {
		return ""
	}
	return filepath.Join(i.checkpointDir, string(family)+".checkpoint")
}

// File ingests one log file. It returns a nil run when nothing new was found.
// Aborted runs are not stored and leave the checkpoint untouched.
func (i *Ingester) File(ctx context.Context, path string, family record.Family) (*protocol.Run, error) {
	checkpoint := i.CheckpointPath(family)
	var since time.Time
	if checkpoint != "" {
		var err error
		if since, err = pipeline.ReadCheckpoint(checkpoint); err != nil {
			return nil, fmt.Errorf("read checkpoint: %w", err)
		}
	}

	opts := i.opts
	opts.Since = since
	res, err := pipeline.New(opts, i.logger).Run(ctx, path, family)
	if err != nil {
		return nil, err
	}
	if len(res.Classified) == 0 {
		i.logger.Info("no new records", zap.String("source", path), zap.Time("since", since))
		return nil, nil
	}

	run, err := i.db.InsertRun(ctx, res)
	if err != nil {
		return nil, fmt.Errorf("store run: %w", err)
	}
	i.logger.Info("run stored",
		zap.String("run_id", run.ID),
		zap.String("source", path),
		zap.Int("records", run.Classified),
		zap.Int("unmatched", run.Unmatched))

	if latest := pipeline.Latest(res.Records); checkpoint != "" && latest.After(since) {
		if err := pipeline.WriteCheckpoint(checkpoint, latest); err != nil {
			return run, fmt.Errorf("write checkpoint: %w", err)
		}
	}
	return run, nil
}
