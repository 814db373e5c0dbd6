package models

import "strings"

// Record is one decoded and classified log line.
type Record struct {
	LineNumber  int      `json:"line" msgpack:"line"`
	Cells       []string `json:"cells" msgpack:"cells"`
	Severity    Severity `json:"severity" msgpack:"severity"`
	RowColor    RGB      `json:"rowColor" msgpack:"rowColor"`
	ThreadColor *RGB     `json:"threadColor,omitempty" msgpack:"threadColor,omitempty"`
	Hidden      bool     `json:"hidden,omitempty" msgpack:"hidden,omitempty"`
}

// Last returns the final cell, which carries the message text.
func (r *Record) Last() string {
	if len(r.Cells) == 0 {
		return ""
	}
	return r.Cells[len(r.Cells)-1]
}

// Cell returns cell i or an empty string when out of range.
func (r *Record) Cell(i int) string {
	if i < 0 || i >= len(r.Cells) {
		return ""
	}
	return r.Cells[i]
}

// Summary holds the counters gathered during one ingestion pass.
type Summary struct {
	Lines       int              `json:"lines" yaml:"lines"`
	Severity    map[Severity]int `json:"severity" yaml:"severity"`
	BlockOpens  int              `json:"blockOpens" yaml:"blockOpens"`
	BlockCloses int              `json:"blockCloses" yaml:"blockCloses"`
	Threads     int              `json:"threads" yaml:"threads"`
}

// NewSummary returns a summary with every severity counter present.
func NewSummary() Summary {
	s := Summary{Severity: make(map[Severity]int, len(Severities))}
	for _, sev := range Severities {
		s.Severity[sev] = 0
	}
	return s
}

// ThreadInfo is a thread id with the color it was assigned.
type ThreadInfo struct {
	ID    string `json:"id"`
	Color RGB    `json:"color"`
}

// Table is the in-memory result of ingesting one file.
type Table struct {
	Schema  Schema       `json:"schema"`
	Records []Record     `json:"records"`
	Summary Summary      `json:"summary"`
	Threads []ThreadInfo `json:"threads"` // first-occurrence order
}

// Visible returns the records not hidden by a thread filter.
func (t *Table) Visible() []Record {
	out := make([]Record, 0, len(t.Records))
	for _, r := range t.Records {
		if !r.Hidden {
			out = append(out, r)
		}
	}
	return out
}

// ThreadID returns the trimmed thread id of r, or "" when no thread column is set.
func (t *Table) ThreadID(r *Record) string {
	if t.Schema.ThreadColumn <= 0 {
		return ""
	}
	return strings.TrimSpace(r.Cell(t.Schema.ThreadColumn - 1))
}
