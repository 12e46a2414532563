// internal/category/classifier.go
package category

import (
	"fmt"
	"strings"

	"github.com/signalnine/vmktriage/internal/record"
)

// Mode selects how many categories a record may land in
type Mode string

const (
	// ModeMulti attaches every category whose tokens match
	ModeMulti Mode = "multi"
	// ModeFirst stops at the first matching category in dictionary order
	ModeFirst Mode = "first"
)

// ParseMode maps a config value onto a Mode; empty means ModeMulti
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeMulti:
		return ModeMulti, nil
	case ModeFirst:
		return ModeFirst, nil
	}
	return "", fmt.Errorf("unknown classify mode %q", s)
}

// Classified is a record annotated with the categories it matched
type Classified struct {
	Record     record.Record `json:"record"`
	Categories []string      `json:"categories"`
}

// Unmatched reports whether the record matched no category
func (c Classified) Unmatched() bool {
	return len(c.Categories) == 0
}

// Labels returns the matched categories, or UNMATCHED when there are none
func (c Classified) Labels() []string {
	if c.Unmatched() {
		return []string{Unmatched}
	}
	return c.Categories
}

type compiledCategory struct {
	name   string
	tokens []string
}

// Classifier matches module names against a dictionary's tokens using
// case-insensitive substring tests. It holds no mutable state.
type Classifier struct {
	categories []compiledCategory
	mode       Mode
}

// NewClassifier compiles a dictionary. A nil or empty dictionary yields a
// classifier that labels everything UNMATCHED.
func NewClassifier(d *Dictionary, mode Mode) *Classifier {
	if mode == "" {
		mode = ModeMulti
	}
	c := &Classifier{mode: mode}
	if d == nil {
		return c
	}
	for _, cat := range d.categories {
		cc := compiledCategory{name: cat.Name}
		for _, tok := range cat.Tokens {
			tok = strings.ToLower(strings.TrimSpace(tok))
			if tok == "" {
				continue
			}
			cc.tokens = append(cc.tokens, tok)
		}
		c.categories = append(c.categories, cc)
	}
	return c
}

// Mode returns the classifier's matching mode
func (c *Classifier) Mode() Mode { return c.mode }

// Match returns the categories whose tokens occur in module, in dictionary order
func (c *Classifier) Match(module string) []string {
	if module == "" {
		return nil
	}
	lower := strings.ToLower(module)

	var matched []string
	for _, cat := range c.categories {
		for _, tok := range cat.tokens {
			if strings.Contains(lower, tok) {
				matched = append(matched, cat.name)
				break
			}
		}
		if len(matched) > 0 && c.mode == ModeFirst {
			break
		}
	}
	return matched
}

// Classify annotates one record
func (c *Classifier) Classify(r record.Record) Classified {
	return Classified{Record: r, Categories: c.Match(r.ModuleName())}
}

// ClassifyAll annotates records in order
func (c *Classifier) ClassifyAll(records []record.Record) []Classified {
	out := make([]Classified, len(records))
	for i, r := range records {
		out[i] = c.Classify(r)
	}
	return out
}

// Bucket groups classified records under one category name
type Bucket struct {
	Name    string
	Records []Classified
}

// Buckets groups records by category: one bucket per dictionary category in
// declared order (possibly empty), then UNMATCHED. A multi-label record
// appears in every bucket it matched.
func Buckets(d *Dictionary, classified []Classified) []Bucket {
	names := d.Names()
	buckets := make([]Bucket, len(names)+1)
	index := make(map[string]int, len(names))
	for i, name := range names {
		buckets[i].Name = name
		index[name] = i
	}
	buckets[len(names)].Name = Unmatched

	for _, c := range classified {
		if c.Unmatched() {
			buckets[len(names)].Records = append(buckets[len(names)].Records, c)
			continue
		}
		for _, name := range c.Categories {
			if i, ok := index[name]; ok {
				buckets[i].Records = append(buckets[i].Records, c)
			}
		}
	}
	return buckets
}
