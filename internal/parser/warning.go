// internal/parser/warning.go
package parser

import (
	"regexp"
	"strings"

	"github.com/signalnine/vmktriage/internal/record"
)

// unknownModule is what ESXi writes when it has no subsystem to report
const unknownModule = "unknown"

// warningLineRe is the strict vmkwarning grammar:
// <timestamp> <tag> <level>: <cpu>) <ALARM>: <module>: <message>
// The module and message are split by splitWarningBody.
var warningLineRe = regexp.MustCompile(`^(` + timestampPattern + `)\s+` +
	`([A-Za-z]+\(\d+\))\s+` +
	`([a-z]+):\s+` +
	`(` + cpuPattern + `)\)?\s*` +
	`(WARNING|ALERT):\s*` +
	`(.+)$`)

var plainModuleRe = regexp.MustCompile(`^([^:]+):\s*(.+)$`)

var warningTimestampRe = regexp.MustCompile(`^(` + timestampPattern + `)`)

// warningSteps is the component-by-component fallback used when the strict
// grammar does not match. Each step is anchored at the cursor left by the
// previous successful step.
var warningSteps = []step[record.LogRecord]{
	{
		name: "tag",
		re:   regexp.MustCompile(`^([A-Za-z]+\(\d+\))`),
		set:  func(r *record.LogRecord, m []string) { r.LogTag = m[1] },
	},
	{
		name: "level",
		re:   regexp.MustCompile(`^([a-z]+):`),
		set:  func(r *record.LogRecord, m []string) { r.LogLevel = m[1] },
	},
	{
		name: "cpu",
		re:   regexp.MustCompile(`^(` + cpuPattern + `)\)?`),
		set:  func(r *record.LogRecord, m []string) { r.CPU = m[1] },
	},
	{
		name: "alarm",
		re:   regexp.MustCompile(`^(WARNING|ALERT):`),
		set:  func(r *record.LogRecord, m []string) { r.AlarmLevel = m[1] },
	},
	{
		name: "qualified-module",
		re:   qualifiedModuleRe,
		set:  func(r *record.LogRecord, m []string) { r.Module = m[1] + " " + m[2] },
	},
	{
		name: "module",
		re:   regexp.MustCompile(`^([^:]+):`),
		when: func(r *record.LogRecord) bool { return r.Module == "" },
		set:  func(r *record.LogRecord, m []string) { r.Module = m[1] },
	},
}

type warningParser struct{}

func (warningParser) Family() record.Family { return record.FamilyKernelWarning }

func (warningParser) Parse(line string) record.Record {
	rec := record.NewLogRecord(record.FamilyKernelWarning, line)
	text := strings.TrimSpace(line)

	if m := warningLineRe.FindStringSubmatch(text); m != nil {
		if module, message, ok := splitWarningBody(m[6]); ok {
			rec.Time = ParseTimestamp(m[1])
			rec.LogTag = m[2]
			rec.LogLevel = m[3]
			rec.CPU = m[4]
			rec.AlarmLevel = m[5]
			rec.Module = warningModule(module)
			rec.Message = message
			rec.Shape = record.ShapeFull
			return rec
		}
	}

	ts := warningTimestampRe.FindStringSubmatch(text)
	if ts == nil {
		return rec
	}
	rec.Time = ParseTimestamp(ts[1])

	rest := strings.TrimSpace(text[len(ts[0]):])
	rest, _ = runSteps(rec, rest, warningSteps)
	rec.Module = warningModule(rec.Module)
	rec.Message = rest
	rec.Shape = record.ShapePartial
	return rec
}

// splitWarningBody splits the text after the alarm marker into module and
// message. A qualified module keeps its function and line, the same as in
// vmkernel alert lines. ok is false when either part is missing.
func splitWarningBody(body string) (module, message string, ok bool) {
	if m := qualifiedModuleRe.FindStringSubmatch(body); m != nil {
		module, message = m[1]+" "+m[2], strings.TrimSpace(body[len(m[0]):])
	} else if m := plainModuleRe.FindStringSubmatch(body); m != nil {
		module, message = m[1], strings.TrimSpace(m[2])
	}
	return module, message, module != "" && message != ""
}

// warningModule normalizes a captured module; "unknown" is not a module
func warningModule(module string) string {
	module = strings.TrimSpace(module)
	if module == unknownModule {
		return ""
	}
	return NormalizeModule(module)
}
