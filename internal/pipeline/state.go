// internal/pipeline/state.go
package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/signalnine/vmktriage/internal/record"
)

const timestampFormat = time.RFC3339Nano

// ReadCheckpoint reads the last ingested record timestamp from file.
// Returns zero time if file doesn't exist or is corrupt.
func ReadCheckpoint(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}

	ts, err := time.Parse(timestampFormat, strings.TrimSpace(string(data)))
	if err != nil {
		// Corrupt file - return zero time for fresh start
		return time.Time{}, nil
	}

	return ts.UTC(), nil
}

// WriteCheckpoint writes the timestamp to the checkpoint file.
// Creates parent directories if needed.
func WriteCheckpoint(path string, ts time.Time) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, []byte(ts.UTC().Format(timestampFormat)), 0644)
}

// NewerThan returns records timestamped strictly after since. Records
// without a timestamp cannot be placed and are dropped.
func NewerThan(records []record.Record, since time.Time) []record.Record {
	var kept []record.Record
	for _, r := range records {
		ts := r.Timestamp()
		if ts.IsZero() {
			continue
		}
		if ts.After(since) {
			kept = append(kept, r)
		}
	}
	return kept
}

// Latest returns the newest record timestamp, or zero if none is timed
func Latest(records []record.Record) time.Time {
	var latest time.Time
	for _, r := range records {
		if ts := r.Timestamp(); ts.After(latest) {
			latest = ts
		}
	}
	return latest
}
