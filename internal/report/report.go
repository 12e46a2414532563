// internal/report/report.go
package report

import (
	"sort"
	"time"

	"github.com/signalnine/vmktriage/internal/category"
	"github.com/signalnine/vmktriage/internal/record"
)

// Count is one labelled tally
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Summary aggregates a classified run for triage views
type Summary struct {
	Total        int       `json:"total"`
	Attributable int       `json:"attributable"`
	Unmatched    int       `json:"unmatched"`
	First        time.Time `json:"first,omitzero"`
	Last         time.Time `json:"last,omitzero"`
	ByCategory   []Count   `json:"by_category"`
	ByModule     []Count   `json:"by_module"`
	ByDay        []Count   `json:"by_day"`
	ByAlarmLevel []Count   `json:"by_alarm_level,omitempty"`
	ByLevel      []Count   `json:"by_level"`
	ByShape      []Count   `json:"by_shape"`
}

// Summarize tallies classified records. Categories follow dictionary order
// with UNMATCHED last; the other tallies are sorted by count, then key.
func Summarize(d *category.Dictionary, classified []category.Classified) Summary {
	s := Summary{Total: len(classified)}

	perCategory := make(map[string]int)
	modules := make(map[string]int)
	days := make(map[string]int)
	alarms := make(map[string]int)
	levels := make(map[string]int)
	shapes := make(map[string]int)

	for _, c := range classified {
		r := c.Record
		if module := r.ModuleName(); module != "" {
			s.Attributable++
			modules[module]++
		}
		if c.Unmatched() {
			s.Unmatched++
		}
		for _, name := range c.Categories {
			perCategory[name]++
		}
		shapes[string(r.ShapeName())]++

		if ts := r.Timestamp(); !ts.IsZero() {
			if s.First.IsZero() || ts.Before(s.First) {
				s.First = ts
			}
			if ts.After(s.Last) {
				s.Last = ts
			}
			days[ts.UTC().Format(time.DateOnly)]++
		}

		switch v := r.(type) {
		case *record.LogRecord:
			if v.AlarmLevel != "" {
				alarms[v.AlarmLevel]++
			}
			if v.LogLevel != "" {
				levels[v.LogLevel]++
			}
		case *record.DiagnosticRecord:
			if v.Level != "" {
				levels[v.Level]++
			}
		}
	}

	for _, name := range d.Names() {
		s.ByCategory = append(s.ByCategory, Count{Key: name, Count: perCategory[name]})
	}
	s.ByCategory = append(s.ByCategory, Count{Key: category.Unmatched, Count: s.Unmatched})

	s.ByModule = sorted(modules)
	s.ByAlarmLevel = sorted(alarms)
	s.ByLevel = sorted(levels)
	s.ByShape = sorted(shapes)

	// days read better in calendar order
	for day, n := range days {
		s.ByDay = append(s.ByDay, Count{Key: day, Count: n})
	}
	sort.Slice(s.ByDay, func(i, j int) bool { return s.ByDay[i].Key < s.ByDay[j].Key })

	return s
}

// Top returns at most n counts
func Top(counts []Count, n int) []Count {
	if n <= 0 || len(counts) <= n {
		return counts
	}
	return counts[:n]
}

func sorted(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}
