// internal/filter/filter.go
package filter

import (
	"fmt"
	"os"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/signalnine/vmktriage/internal/record"
)

// Predicate decides whether a record stays in the working set
type Predicate func(record.Record) bool

// Attributable keeps records that carry a module name
func Attributable(r record.Record) bool {
	return r.ModuleName() != ""
}

// Apply returns the records accepted by keep, preserving order
func Apply(records []record.Record, keep Predicate) []record.Record {
	out := make([]record.Record, 0, len(records))
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// problemKeyword marks vobd event ids that describe a host problem
const problemKeyword = "problem"

// ProblemSet is the set of known vobd problem modules, e.g.
// "esx.problem.vmfs.heartbeat.timedout", with their descriptions.
type ProblemSet struct {
	descriptions map[string]string
}

// NewProblemSet builds a set from module id to description
func NewProblemSet(modules map[string]string) *ProblemSet {
	s := &ProblemSet{descriptions: make(map[string]string, len(modules))}
	for id, desc := range modules {
		s.descriptions[normalizeProblem(id)] = desc
	}
	return s
}

// ParseProblemSet reads the JSON form {"module": "description"}
func ParseProblemSet(data []byte) (*ProblemSet, error) {
	v, err := fastjson.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse problem modules: %w", err)
	}
	obj, err := v.Object()
	if err != nil {
		return nil, fmt.Errorf("parse problem modules: %w", err)
	}

	modules := make(map[string]string, obj.Len())
	var visitErr error
	obj.Visit(func(key []byte, val *fastjson.Value) {
		if visitErr != nil {
			return
		}
		desc, err := val.StringBytes()
		if err != nil {
			visitErr = fmt.Errorf("module %q: %w", key, err)
			return
		}
		modules[string(key)] = string(desc)
	})
	if visitErr != nil {
		return nil, fmt.Errorf("parse problem modules: %w", visitErr)
	}
	return NewProblemSet(modules), nil
}

// LoadProblemSet reads a problem module JSON file
func LoadProblemSet(path string) (*ProblemSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseProblemSet(data)
}

// Len returns the number of known modules
func (s *ProblemSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.descriptions)
}

// Describe returns the description for a module, if known
func (s *ProblemSet) Describe(module string) (string, bool) {
	if s == nil {
		return "", false
	}
	desc, ok := s.descriptions[normalizeProblem(module)]
	return desc, ok
}

// Known keeps records whose module is a listed problem
func (s *ProblemSet) Known(r record.Record) bool {
	_, ok := s.Describe(r.ModuleName())
	return ok
}

// Unknown keeps records whose module mentions a problem that is not listed
func (s *ProblemSet) Unknown(r record.Record) bool {
	module := normalizeProblem(r.ModuleName())
	return strings.Contains(module, problemKeyword) && !s.Known(r)
}

func normalizeProblem(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}
