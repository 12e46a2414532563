// internal/parser/diagnostic.go
package parser

import (
	"regexp"
	"strings"

	"github.com/signalnine/vmktriage/internal/record"
)

// shapeRule matches a whole vobd line. Rules are tried in order and the first
// match wins; a line matching none becomes an unstructured record.
type shapeRule struct {
	shape record.Shape
	re    *regexp.Regexp
	set   func(*record.DiagnosticRecord, []string)
}

var diagnosticRules = []shapeRule{
	{
		// 2025-01-19T19:12:20.060Z In(14) vobd[2097896]:  [vmfsCorrelator] 6155338us: [esx.problem.vmfs.heartbeat.timedout] 5f2b...
		shape: record.ShapeRich,
		re: regexp.MustCompile(`^(` + timestampPattern + `)\s+` +
			`(\w+\(\d+\))\s+` +
			`([^:]+):\s+` +
			`\[([^\]]+)\]\s+` +
			`(\d+)us:\s+` +
			`\[([^\]]+)\]\s+` +
			`(.+)$`),
		set: func(r *record.DiagnosticRecord, m []string) {
			r.Time = ParseTimestamp(m[1])
			r.Level = m[2]
			r.Source = strings.TrimSpace(m[3])
			r.Correlator = m[4]
			r.Duration = m[5]
			r.Module = strings.TrimSpace(m[6])
			r.Message = strings.TrimSpace(m[7])
		},
	},
	{
		// 2025-01-19T19:12:20.060Z: system boot completed
		shape: record.ShapeSimple,
		re:    regexp.MustCompile(`^(` + timestampPattern + `):\s+(.+)$`),
		set: func(r *record.DiagnosticRecord, m []string) {
			r.Time = ParseTimestamp(m[1])
			r.Message = strings.TrimSpace(m[2])
		},
	},
}

type diagnosticParser struct{}

func (diagnosticParser) Family() record.Family { return record.FamilyDiagnostic }

func (diagnosticParser) Parse(line string) record.Record {
	text := strings.TrimSpace(line)
	rec := &record.DiagnosticRecord{RawLine: line}

	for _, rule := range diagnosticRules {
		if m := rule.re.FindStringSubmatch(text); m != nil {
			rule.set(rec, m)
			rec.Shape = rule.shape
			return rec
		}
	}

	rec.Message = text
	rec.Shape = record.ShapeUnstructured
	return rec
}
