// internal/store/db.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/signalnine/vmktriage/internal/category"
	"github.com/signalnine/vmktriage/internal/pipeline"
	"github.com/signalnine/vmktriage/internal/protocol"
	"github.com/signalnine/vmktriage/internal/record"
)

// ErrRunNotFound is returned when a run id is unknown
var ErrRunNotFound = errors.New("run not found")

const categorySeparator = "\x1f"

// DB wraps SQLite connection
type DB struct {
	db *sql.DB
}

// NewDB opens or creates the SQLite database
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		family TEXT NOT NULL,
		source TEXT NOT NULL,
		parsed INTEGER NOT NULL,
		dropped INTEGER NOT NULL,
		classified INTEGER NOT NULL,
		unmatched INTEGER NOT NULL,
		first_ts TEXT,
		last_ts TEXT,
		duration_ms INTEGER,
		created_at TEXT DEFAULT (datetime('now'))
	);
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		line INTEGER NOT NULL,
		timestamp TEXT,
		module TEXT,
		level TEXT,
		shape TEXT NOT NULL,
		message TEXT,
		raw TEXT
	);
	CREATE TABLE IF NOT EXISTS record_categories (
		record_id INTEGER NOT NULL REFERENCES records(id),
		run_id TEXT NOT NULL,
		category TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_run ON records(run_id);
	CREATE INDEX IF NOT EXISTS idx_records_module ON records(run_id, module);
	CREATE INDEX IF NOT EXISTS idx_record_categories_run ON record_categories(run_id, category);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db: db}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertRun stores a pipeline result and its classified records in one transaction
func (d *DB) InsertRun(ctx context.Context, res *pipeline.Result) (*protocol.Run, error) {
	run := &protocol.Run{
		ID:         uuid.NewString(),
		Family:     string(res.Family),
		Source:     res.Source,
		Parsed:     res.Parsed,
		Dropped:    res.Dropped,
		Classified: len(res.Classified),
		DurationMs: res.Duration.Milliseconds(),
	}
	for _, c := range res.Classified {
		if c.Unmatched() {
			run.Unmatched++
		}
		ts := c.Record.Timestamp()
		if ts.IsZero() {
			continue
		}
		if run.First.IsZero() || ts.Before(run.First) {
			run.First = ts
		}
		if ts.After(run.Last) {
			run.Last = ts
		}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, family, source, parsed, dropped, classified, unmatched, first_ts, last_ts, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Family, run.Source, run.Parsed, run.Dropped, run.Classified, run.Unmatched,
		formatTime(run.First), formatTime(run.Last), run.DurationMs)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	recStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (run_id, line, timestamp, module, level, shape, message, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, err
	}
	defer recStmt.Close()

	catStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO record_categories (record_id, run_id, category) VALUES (?, ?, ?)
	`)
	if err != nil {
		return nil, err
	}
	defer catStmt.Close()

	for _, c := range res.Classified {
		if err := insertRecord(ctx, recStmt, catStmt, run.ID, c); err != nil {
			return nil, fmt.Errorf("insert record %d: %w", c.Record.LineNumber(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	run.CreatedAt = time.Now().UTC().Truncate(time.Second)
	return run, nil
}

func insertRecord(ctx context.Context, recStmt, catStmt *sql.Stmt, runID string, c category.Classified) error {
	r := c.Record
	level, message := levelAndMessage(r)
	result, err := recStmt.ExecContext(ctx, runID, r.LineNumber(), formatTime(r.Timestamp()),
		r.ModuleName(), level, string(r.ShapeName()), message, r.Raw())
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	for _, label := range c.Labels() {
		if _, err := catStmt.ExecContext(ctx, id, runID, label); err != nil {
			return err
		}
	}
	return nil
}

// ListRuns returns the most recent runs, newest first
func (d *DB) ListRuns(ctx context.Context, limit int) ([]protocol.Run, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, family, source, parsed, dropped, classified, unmatched, first_ts, last_ts, duration_ms, created_at
		FROM runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, unbounded(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []protocol.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun returns one run or ErrRunNotFound
func (d *DB) GetRun(ctx context.Context, id string) (*protocol.Run, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, family, source, parsed, dropped, classified, unmatched, first_ts, last_ts, duration_ms, created_at
		FROM runs
		WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return run, err
}

// CategoryCounts returns records per category label for a run, UNMATCHED included
func (d *DB) CategoryCounts(ctx context.Context, runID string) ([]protocol.Count, error) {
	return d.counts(ctx, `
		SELECT category, COUNT(*) AS n FROM record_categories
		WHERE run_id = ?
		GROUP BY category
		ORDER BY n DESC, category
	`, runID)
}

// ModuleCounts returns the busiest modules of a run
func (d *DB) ModuleCounts(ctx context.Context, runID string, limit int) ([]protocol.Count, error) {
	return d.counts(ctx, `
		SELECT module, COUNT(*) AS n FROM records
		WHERE run_id = ? AND module != ''
		GROUP BY module
		ORDER BY n DESC, module
		LIMIT ?
	`, runID, unbounded(limit))
}

func (d *DB) counts(ctx context.Context, query string, args ...any) ([]protocol.Count, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []protocol.Count
	for rows.Next() {
		var c protocol.Count
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// QueryByCategory returns a run's records carrying the category label, in line order.
// The label match is case-insensitive.
func (d *DB) QueryByCategory(ctx context.Context, runID, name string, limit int) ([]protocol.StoredRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT r.id, r.run_id, r.line, r.timestamp, r.module, r.level, r.shape, r.message, r.raw,
			(SELECT group_concat(c2.category, ?) FROM record_categories c2 WHERE c2.record_id = r.id)
		FROM records r
		JOIN record_categories c ON c.record_id = r.id
		WHERE c.run_id = ? AND c.category = ? COLLATE NOCASE
		ORDER BY r.line
		LIMIT ?
	`, categorySeparator, runID, name, unbounded(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []protocol.StoredRecord
	for rows.Next() {
		var r protocol.StoredRecord
		var tsStr, module, level, message, raw, labels sql.NullString

		err := rows.Scan(&r.ID, &r.RunID, &r.Line, &tsStr, &module, &level, &r.Shape, &message, &raw, &labels)
		if err != nil {
			return nil, err
		}

		r.Timestamp = parseTime(tsStr)
		r.Module = module.String
		r.Level = level.String
		r.Message = message.String
		r.Raw = raw.String
		if labels.Valid {
			r.Categories = strings.Split(labels.String, categorySeparator)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*protocol.Run, error) {
	var run protocol.Run
	var firstStr, lastStr sql.NullString
	var duration sql.NullInt64
	var createdStr string

	err := s.Scan(&run.ID, &run.Family, &run.Source, &run.Parsed, &run.Dropped, &run.Classified,
		&run.Unmatched, &firstStr, &lastStr, &duration, &createdStr)
	if err != nil {
		return nil, err
	}

	run.First = parseTime(firstStr)
	run.Last = parseTime(lastStr)
	run.DurationMs = duration.Int64
	run.CreatedAt, _ = time.Parse(time.DateTime, createdStr)
	return &run, nil
}

func levelAndMessage(r record.Record) (string, string) {
	switch v := r.(type) {
	case *record.LogRecord:
		return v.LogLevel, v.Message
	case *record.DiagnosticRecord:
		return v.Level, v.Message
	}
	return "", ""
}

// unbounded maps a non-positive limit to SQLite's "no limit"
func unbounded(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String)
	return t
}
