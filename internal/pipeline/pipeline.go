// internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/signalnine/vmktriage/internal/category"
	"github.com/signalnine/vmktriage/internal/dump"
	"github.com/signalnine/vmktriage/internal/filter"
	"github.com/signalnine/vmktriage/internal/metrics"
	"github.com/signalnine/vmktriage/internal/reader"
	"github.com/signalnine/vmktriage/internal/record"
)

// Options configure a Pipeline
type Options struct {
	Dictionary       *category.Dictionary
	Mode             category.Mode
	AttributableOnly bool
	Workers          int
	ChunkLines       int
	DebugDumpDir     string
	Since            time.Time // when set, only records strictly after it are kept
}

// Result of one pipeline run
type Result struct {
	Family     record.Family
	Source     string
	Parsed     int // records produced by the parser
	Dropped    int // records removed by the attributable filter or checkpoint
	Records    []record.Record
	Classified []category.Classified
	Buckets    []category.Bucket
	Duration   time.Duration
}

// Pipeline wires Reader → Parser → Filter → Classifier
type Pipeline struct {
	opts       Options
	classifier *category.Classifier
	dumps      *dump.Writer
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// New creates a pipeline; logger may be nil
func New(opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		opts:       opts,
		classifier: category.NewClassifier(opts.Dictionary, opts.Mode),
		dumps:      dump.New(opts.DebugDumpDir),
		metrics:    metrics.New(),
		logger:     logger,
	}
}

// Dictionary returns the dictionary the pipeline classifies against
func (p *Pipeline) Dictionary() *category.Dictionary {
	return p.opts.Dictionary
}

// Run processes one file. I/O failures return a nil Result. On ctx abort the
// Result holds the records processed so far alongside the context error.
func (p *Pipeline) Run(ctx context.Context, path string, family record.Family) (*Result, error) {
	start := time.Now()
	log := p.logger.With(zap.String("source", path), zap.String("family", string(family)))

	r, err := reader.New(family, reader.WithWorkers(p.opts.Workers), reader.WithChunkLines(p.opts.ChunkLines))
	if err != nil {
		return nil, err
	}

	records, readErr := r.ReadFile(ctx, path)
	if readErr != nil {
		p.metrics.RunFailures.WithLabelValues(string(family)).Inc()
		if !aborted(readErr) {
			return nil, fmt.Errorf("read %s: %w", path, readErr)
		}
		log.Warn("run aborted, keeping partial results", zap.Int("records", len(records)), zap.Error(readErr))
	}

	res := p.process(family, records, log)
	res.Source = path
	res.Duration = time.Since(start)
	p.metrics.RunDuration.WithLabelValues(string(family)).Observe(res.Duration.Seconds())

	log.Info("pipeline run complete",
		zap.Int("parsed", res.Parsed),
		zap.Int("dropped", res.Dropped),
		zap.Int("classified", len(res.Classified)),
		zap.Duration("duration", res.Duration))

	if readErr != nil {
		return res, fmt.Errorf("read %s: %w", path, readErr)
	}
	return res, nil
}

// Process runs the filter and classifier over records that were parsed elsewhere
func (p *Pipeline) Process(family record.Family, records []record.Record) *Result {
	return p.process(family, records, p.logger.With(zap.String("family", string(family))))
}

func (p *Pipeline) process(family record.Family, records []record.Record, log *zap.Logger) *Result {
	fam := string(family)
	res := &Result{Family: family, Parsed: len(records)}

	for _, r := range records {
		p.metrics.RecordsTotal.WithLabelValues(fam, string(r.ShapeName())).Inc()
	}
	p.dumpStage(log, func() (string, error) { return p.dumps.Parsed(family, records) })

	working := records
	if !p.opts.Since.IsZero() {
		working = NewerThan(working, p.opts.Since)
	}
	if p.opts.AttributableOnly {
		working = filter.Apply(working, filter.Attributable)
		p.dumpStage(log, func() (string, error) { return p.dumps.Filtered(family, working) })
	}
	res.Dropped = len(records) - len(working)
	p.metrics.FilteredTotal.WithLabelValues(fam).Add(float64(res.Dropped))

	res.Records = working
	res.Classified = p.classifier.ClassifyAll(working)
	for _, c := range res.Classified {
		for _, label := range c.Labels() {
			p.metrics.ClassifiedTotal.WithLabelValues(fam, label).Inc()
		}
	}
	res.Buckets = category.Buckets(p.opts.Dictionary, res.Classified)

	if p.dumps.Enabled() {
		paths, err := p.dumps.Refined(family, res.Buckets)
		if err != nil {
			log.Warn("debug dump failed", zap.String("stage", "refined"), zap.Error(err))
		}
		for _, path := range paths {
			log.Debug("debug dump written", zap.String("path", path))
		}
	}
	return res
}

func aborted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (p *Pipeline) dumpStage(log *zap.Logger, write func() (string, error)) {
	if !p.dumps.Enabled() {
		return
	}
	path, err := write()
	if err != nil {
		// dumps are diagnostics; a failed dump never fails the run
		log.Warn("debug dump failed", zap.Error(err))
		return
	}
	log.Debug("debug dump written", zap.String("path", path))
}
