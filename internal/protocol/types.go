// internal/protocol/types.go
package protocol

import "time"

// Run is one stored pipeline run
type Run struct {
	ID         string    `json:"id"`
	Family     string    `json:"family"`
	Source     string    `json:"source"`
	Parsed     int       `json:"parsed"`
	Dropped    int       `json:"dropped"`
	Classified int       `json:"classified"`
	Unmatched  int       `json:"unmatched"`
	First      time.Time `json:"first,omitzero"` // earliest record timestamp
	Last       time.Time `json:"last,omitzero"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// StoredRecord is a classified record as persisted to SQLite
type StoredRecord struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Line       int       `json:"line"`
	Timestamp  time.Time `json:"timestamp,omitzero"`
	Module     string    `json:"module"`
	Level      string    `json:"level"` // log level for kernel families, vobd level otherwise
	Shape      string    `json:"shape"`
	Message    string    `json:"message"`
	Raw        string    `json:"raw"`
	Categories []string  `json:"categories"`
}

// Count is a labelled tally
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// RunDetail is the GET /runs/{id} response
type RunDetail struct {
	Run        Run     `json:"run"`
	Categories []Count `json:"categories"`
	Modules    []Count `json:"modules"`
}
