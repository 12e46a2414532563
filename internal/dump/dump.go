// internal/dump/dump.go
package dump

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/signalnine/vmktriage/internal/category"
	"github.com/signalnine/vmktriage/internal/record"
)

// stampFormat keeps microseconds so back-to-back runs do not share file names
const stampFormat = "20060102_150405.000000"

// Writer saves intermediate pipeline stages as CSV files under Dir.
// A Writer with an empty Dir is disabled and every method is a no-op.
type Writer struct {
	Dir string
	Now func() time.Time
}

// New creates a dump writer; dir may be empty
func New(dir string) *Writer {
	return &Writer{Dir: dir, Now: time.Now}
}

// Enabled reports whether dumps are written
func (w *Writer) Enabled() bool {
	return w != nil && w.Dir != ""
}

// Parsed dumps the records straight out of the parser
func (w *Writer) Parsed(family record.Family, records []record.Record) (string, error) {
	return w.write(family, "1-parsed", records, nil)
}

// Filtered dumps the records that survived the attributable filter
func (w *Writer) Filtered(family record.Family, records []record.Record) (string, error) {
	return w.write(family, "2-filtered", records, nil)
}

// Refined dumps one file per non-empty category bucket
func (w *Writer) Refined(family record.Family, buckets []category.Bucket) ([]string, error) {
	if !w.Enabled() {
		return nil, nil
	}
	var paths []string
	for _, b := range buckets {
		if len(b.Records) == 0 {
			continue
		}
		records := make([]record.Record, len(b.Records))
		labels := make([][]string, len(b.Records))
		for i, c := range b.Records {
			records[i] = c.Record
			labels[i] = c.Labels()
		}
		path, err := w.write(family, "3-refined-"+fileSafe(b.Name), records, labels)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (w *Writer) write(family record.Family, stage string, records []record.Record, labels [][]string) (string, error) {
	if !w.Enabled() {
		return "", nil
	}
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return "", err
	}

	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	path := filepath.Join(w.Dir, fmt.Sprintf("%s-%s-%s.csv", now().Format(stampFormat), family, stage))

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	header := columns(family)
	if labels != nil {
		header = append(header, "Categories")
	}
	if err := cw.Write(header); err != nil {
		return "", err
	}
	for i, r := range records {
		row := fields(r)
		if labels != nil {
			row = append(row, strings.Join(labels[i], "|"))
		}
		if err := cw.Write(row); err != nil {
			return "", err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", err
	}
	return path, f.Close()
}

// fileSafe lower-cases a category name and replaces anything outside
// [a-z0-9_-] so the name cannot leave Dir
func fileSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, strings.ToLower(name))
}

func columns(family record.Family) []string {
	if family == record.FamilyDiagnostic {
		return []string{"Line", "Time", "Level", "Source", "Correlator", "Duration", "Module", "Message", "RawLine", "Shape"}
	}
	return []string{"Line", "Time", "LogTag", "LogLevel", "CPU", "AlarmLevel", "Module", "Message", "RawLine", "Shape"}
}

func fields(r record.Record) []string {
	switch v := r.(type) {
	case *record.LogRecord:
		return []string{strconv.Itoa(v.Line), formatTime(v.Time), v.LogTag, v.LogLevel, v.CPU, v.AlarmLevel, v.Module, v.Message, v.RawLine, string(v.Shape)}
	case *record.DiagnosticRecord:
		return []string{strconv.Itoa(v.Line), formatTime(v.Time), v.Level, v.Source, v.Correlator, v.Duration, v.Module, v.Message, v.RawLine, string(v.Shape)}
	}
	return []string{strconv.Itoa(r.LineNumber()), formatTime(r.Timestamp()), "", "", "", "", r.ModuleName(), "", r.Raw(), string(r.ShapeName())}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
