// internal/record/record.go
package record

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// Family identifies which log grammar a file uses
type Family string

const (
	FamilyKernel        Family = "vmkernel"
	FamilyKernelWarning Family = "vmkwarning"
	FamilyDiagnostic    Family = "vobd"
)

// ErrUnknownFamily is returned when a family name or file name is not recognized
var ErrUnknownFamily = errors.New("unknown log family")

// Families lists every supported family in a stable order
var Families = []Family{FamilyKernel, FamilyKernelWarning, FamilyDiagnostic}

// ParseFamily maps a caller-supplied family name onto a Family
func ParseFamily(name string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "vmkernel", "kernel", "vmk":
		return FamilyKernel, nil
	case "vmkwarning", "warning", "vmkw":
		return FamilyKernelWarning, nil
	case "vobd", "diagnostic", "observation":
		return FamilyDiagnostic, nil
	}
	return "", ErrUnknownFamily
}

// FamilyFromPath picks the family from the ESXi file naming convention:
// vmkernel.log, vmkernel.3.gz, vmkwarning.log, vobd.0.gz and so on.
func FamilyFromPath(path string) (Family, error) {
	base := strings.ToLower(filepath.Base(path))
	// vmkwarning must be tested before vmkernel; both start with "vmk"
	switch {
	case strings.HasPrefix(base, "vmkwarning"):
		return FamilyKernelWarning, nil
	case strings.HasPrefix(base, "vmkernel"):
		return FamilyKernel, nil
	case strings.HasPrefix(base, "vobd"):
		return FamilyDiagnostic, nil
	}
	return "", ErrUnknownFamily
}

// Shape describes how much of a line's grammar was recognized
type Shape string

const (
	// kernel families
	ShapeFull    Shape = "full"
	ShapePartial Shape = "partial"
	ShapeRaw     Shape = "raw"

	// diagnostic family
	ShapeRich         Shape = "rich"
	ShapeSimple       Shape = "simple"
	ShapeUnstructured Shape = "unstructured"
)

// Record is the view of a parsed line shared by the filter and the classifier
type Record interface {
	Family() Family
	ModuleName() string
	Raw() string
	Timestamp() time.Time
	LineNumber() int
	ShapeName() Shape
}

// LogRecord is one vmkernel or vmkwarning line
type LogRecord struct {
	Line       int       `json:"line"`
	Time       time.Time `json:"time,omitzero"`
	LogTag     string    `json:"log_tag"`
	LogLevel   string    `json:"log_level"`
	CPU        string    `json:"cpu"`
	AlarmLevel string    `json:"alarm_level,omitempty"`
	Module     string    `json:"module"`
	Message    string    `json:"message"`
	RawLine    string    `json:"raw_line"`
	Shape      Shape     `json:"shape"`

	family Family
}

// NewLogRecord returns a record carrying only the raw line
func NewLogRecord(family Family, raw string) *LogRecord {
	return &LogRecord{RawLine: raw, Shape: ShapeRaw, family: family}
}

func (r *LogRecord) Family() Family       { return r.family }
func (r *LogRecord) ModuleName() string   { return r.Module }
func (r *LogRecord) Raw() string          { return r.RawLine }
func (r *LogRecord) Timestamp() time.Time { return r.Time }
func (r *LogRecord) LineNumber() int      { return r.Line }
func (r *LogRecord) ShapeName() Shape     { return r.Shape }

// DiagnosticRecord is one vobd line
type DiagnosticRecord struct {
	Line       int       `json:"line"`
	Time       time.Time `json:"time,omitzero"`
	Level      string    `json:"level"`
	Source     string    `json:"source"`
	Correlator string    `json:"correlator"`
	Duration   string    `json:"duration_us"`
	Module     string    `json:"module"`
	Message    string    `json:"message"`
	RawLine    string    `json:"raw_line"`
	Shape      Shape     `json:"shape"`
}

func (r *DiagnosticRecord) Family() Family       { return FamilyDiagnostic }
func (r *DiagnosticRecord) ModuleName() string   { return r.Module }
func (r *DiagnosticRecord) Raw() string          { return r.RawLine }
func (r *DiagnosticRecord) Timestamp() time.Time { return r.Time }
func (r *DiagnosticRecord) LineNumber() int      { return r.Line }
func (r *DiagnosticRecord) ShapeName() Shape     { return r.Shape }

// SetLine stamps the source line number onto a record
func SetLine(r Record, n int) {
	switch v := r.(type) {
	case *LogRecord:
		v.Line = n
	case *DiagnosticRecord:
		v.Line = n
	}
}
