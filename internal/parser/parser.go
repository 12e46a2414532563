// internal/parser/parser.go
package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/signalnine/vmktriage/internal/record"
)

// Parser turns one raw log line into a record. Parse never fails: input it
// cannot recognize degrades to a record carrying at least the raw line.
type Parser interface {
	Family() record.Family
	Parse(line string) record.Record
}

// New returns the parser for a log family
func New(family record.Family) (Parser, error) {
	switch family {
	case record.FamilyKernel:
		return kernelParser{}, nil
	case record.FamilyKernelWarning:
		return warningParser{}, nil
	case record.FamilyDiagnostic:
		return diagnosticParser{}, nil
	}
	return nil, fmt.Errorf("%w: %q", record.ErrUnknownFamily, family)
}

// timestampPattern accepts second and sub-second precision, always Z-suffixed
const timestampPattern = `\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d{1,9})?Z`

// cpuPattern is cpuN:N with an optional opID suffix; the closing paren is not captured
const cpuPattern = `cpu\d+:\d+(?:\s+opID=[^)\s]*)?`

var unmapRe = regexp.MustCompile(`(?i)unmap\d*`)

// ParseTimestamp parses a captured log timestamp into UTC.
// Returns the zero time when the text is not a valid instant.
func ParseTimestamp(s string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// NormalizeModule trims a module name and folds any UNMAP token to its
// upper-case form so dictionary lookups see UNMAP / UNMAP6.
func NormalizeModule(module string) string {
	module = strings.TrimSpace(module)
	if m := unmapRe.FindString(module); m != "" {
		return strings.ToUpper(m)
	}
	return module
}

// step is one anchored extraction rule applied at the parse cursor.
// A step that does not match leaves its fields empty and consumes nothing.
type step[T any] struct {
	name string
	re   *regexp.Regexp
	when func(*T) bool
	set  func(*T, []string)
}

// runSteps applies steps in order against rest and returns the unconsumed
// remainder together with the names of the steps that matched.
func runSteps[T any](rec *T, rest string, steps []step[T]) (string, []string) {
	var matched []string
	for _, s := range steps {
		if s.when != nil && !s.when(rec) {
			continue
		}
		m := s.re.FindStringSubmatch(rest)
		if m == nil {
			continue
		}
		s.set(rec, m)
		rest = strings.TrimLeft(rest[len(m[0]):], " \t")
		matched = append(matched, s.name)
	}
	return rest, matched
}
