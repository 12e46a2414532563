// internal/parser/kernel.go
package parser

import (
	"regexp"
	"slices"
	"strings"

	"github.com/signalnine/vmktriage/internal/record"
)

// Kernel log levels
const (
	LevelKernel  = "vmkernel"
	LevelWarning = "vmkwarning"
	LevelAlert   = "vmkalert"
)

// Alarm markers embedded in warning and alert lines
const (
	AlarmWarning = "WARNING"
	AlarmAlert   = "ALERT"
)

// kernelHeaderRe matches "<timestamp> <tag> <level>:" at line start,
// e.g. "2025-01-20T01:44:25.919Z Al(177) vmkalert:"
var kernelHeaderRe = regexp.MustCompile(
	`^(` + timestampPattern + `)\s+([A-Za-z]{1,3}\(\d+\))\s+(vmkernel|vmkwarning|vmkalert):`)

// qualifiedModuleRe matches a module wrapped in angle brackets followed by a
// function name, e.g. "<NMLX_ERR> nmlx5_coreQueryTir:268 command failed"
var qualifiedModuleRe = regexp.MustCompile(`^(<[^>]+>)\s*([^:\s]+(?::\d+)?)(?::|\s+|$)`)

// kernelSteps run in order over the text after the header. Warning and alert
// lines carry an upper-case alarm marker and may wrap the module in angle
// brackets followed by a function name; vmkernel lines take everything up to
// the next colon.
var kernelSteps = []step[record.LogRecord]{
	{
		name: "cpu",
		re:   regexp.MustCompile(`^(` + cpuPattern + `)\)?`),
		set:  func(r *record.LogRecord, m []string) { r.CPU = m[1] },
	},
	{
		// vmkernel lines occasionally carry a bare ALERT marker; it is not an alarm level
		name: "marker",
		re:   regexp.MustCompile(`^ALERT:`),
		when: func(r *record.LogRecord) bool { return r.LogLevel == LevelKernel },
		set:  func(*record.LogRecord, []string) {},
	},
	{
		name: "alarm",
		re:   regexp.MustCompile(`^(WARNING|ALERT):`),
		when: isAlarmLevel,
		set:  func(r *record.LogRecord, m []string) { r.AlarmLevel = m[1] },
	},
	{
		// <NMLX_ERR> nmlx5_coreQueryTir:268 command failed
		name: "qualified-module",
		re:   qualifiedModuleRe,
		when: isAlarmLevel,
		set:  func(r *record.LogRecord, m []string) { r.Module = m[1] + " " + m[2] },
	},
	{
		name: "module",
		re:   regexp.MustCompile(`^([^:]*[^:\s][^:]*):`),
		when: func(r *record.LogRecord) bool { return r.Module == "" },
		set:  func(r *record.LogRecord, m []string) { r.Module = m[1] },
	},
}

func isAlarmLevel(r *record.LogRecord) bool {
	return r.LogLevel == LevelWarning || r.LogLevel == LevelAlert
}

type kernelParser struct{}

func (kernelParser) Family() record.Family { return record.FamilyKernel }

func (kernelParser) Parse(line string) record.Record {
	rec := record.NewLogRecord(record.FamilyKernel, line)
	text := strings.TrimSpace(line)

	header := kernelHeaderRe.FindStringSubmatch(text)
	if header == nil {
		return rec
	}
	rec.Time = ParseTimestamp(header[1])
	rec.LogTag = header[2]
	rec.LogLevel = header[3]

	rest := strings.TrimSpace(text[len(header[0]):])
	rest, matched := runSteps(rec, rest, kernelSteps)

	rec.Module = NormalizeModule(rec.Module)
	rec.Message = rest
	rec.Shape = record.ShapePartial
	if rec.CPU != "" && rec.Module != "" && (!isAlarmLevel(rec) || slices.Contains(matched, "alarm")) {
		rec.Shape = record.ShapeFull
	}
	return rec
}
