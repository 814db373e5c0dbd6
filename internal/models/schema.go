package models

import (
	"errors"
	"fmt"
)

var (
	// ErrFieldListMismatch is returned when object decoding is requested but the
	// field list does not provide exactly one field per column.
	ErrFieldListMismatch = errors.New("field list length does not match column count")

	// ErrInvalidSchema is returned by Schema.Validate.
	ErrInvalidSchema = errors.New("invalid schema")
)

// RGB is a 24-bit color.
type RGB struct {
	R uint8 `json:"r" yaml:"r" msgpack:"r"`
	G uint8 `json:"g" yaml:"g" msgpack:"g"`
	B uint8 `json:"b" yaml:"b" msgpack:"b"`
}

// Hex returns the color as #rrggbb.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// String returns the color in the "R,G,B" form used by schema files.
func (c RGB) String() string {
	return fmt.Sprintf("%d,%d,%d", c.R, c.G, c.B)
}

// White is the neutral color used for unclassified rows and unmapped threads.
var White = RGB{R: 255, G: 255, B: 255}

// Alignment of a column when rendered.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// ValueType is the formatting type of an extracted object field. The ordinal
// values are part of the schema file format.
type ValueType int

const (
	ValueString ValueType = iota
	ValueInt
	ValueLong
	ValueFloat
	ValueDouble
	ValueBool
)

var valueTypeNames = [...]string{"string", "int", "long", "float", "double", "bool"}

func (v ValueType) String() string {
	if v < 0 || int(v) >= len(valueTypeNames) {
		return fmt.Sprintf("ValueType(%d)", int(v))
	}
	return valueTypeNames[v]
}

// Valid reports whether v is a known value type.
func (v ValueType) Valid() bool {
	return v >= ValueString && v <= ValueBool
}

// FieldSpec names one value to extract from an embedded-object line.
// Name may contain a single dot to address a key inside a nested object.
type FieldSpec struct {
	Name string    `json:"name" yaml:"name"`
	Type ValueType `json:"type" yaml:"type"`
}

// Severity is the category a record is classified into.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityTrace
	SeverityDebug
	SeverityOther
)

// Severities lists every category in classification priority order, followed by Other.
var Severities = []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityTrace, SeverityDebug, SeverityOther}

var severityNames = [...]string{"info", "warning", "error", "trace", "debug", "other"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "other"
	}
	return severityNames[s]
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name. Unknown names decode to Other.
func (s *Severity) UnmarshalText(b []byte) error {
	for i, n := range severityNames {
		if n == string(b) {
			*s = Severity(i)
			return nil
		}
	}
	*s = SeverityOther
	return nil
}

// Schema describes how log lines are split, classified and colored.
// It is built once per ingestion pass and passed explicitly to every stage.
type Schema struct {
	Columns      int         `json:"columns"`
	Headers      []string    `json:"headers,omitempty"`
	Alignments   []Alignment `json:"alignments,omitempty"`
	Delimiter    string      `json:"delimiter"`
	BlockEntry   string      `json:"blockEntry"`
	BlockExit    string      `json:"blockExit"`
	ThreadColumn int         `json:"threadColumn"` // 1-based, 0 = none
	Fields       []FieldSpec `json:"fields,omitempty"`

	// Tags and Colors are indexed by Severity. Tags[SeverityOther] is unused.
	Tags   [6]string `json:"tags"`
	Colors [6]RGB    `json:"colors"`
}

// DefaultSchema returns the schema used when no schema file is present.
func DefaultSchema() Schema {
	s := Schema{
		Columns:      8,
		Headers:      []string{"Timestamp", "PID", "User", "Type", "SType", "File", "Line", "Content"},
		Alignments:   []Alignment{AlignLeft, AlignRight, AlignLeft, AlignLeft, AlignLeft, AlignLeft, AlignRight, AlignLeft},
		Delimiter:    ",",
		BlockEntry:   "{entry:",
		BlockExit:    "}exit:",
		ThreadColumn: 8,
		Fields: []FieldSpec{
			{Name: "header.timestamp", Type: ValueString},
			{Name: "header.pid", Type: ValueInt},
			{Name: "header.username", Type: ValueString},
			{Name: "header.loglevel", Type: ValueString},
			{Name: "header.logpackage", Type: ValueString},
			{Name: "header.file", Type: ValueString},
			{Name: "header.line", Type: ValueInt},
			{Name: "message", Type: ValueString},
		},
	}
	s.Tags[SeverityInfo] = "INF"
	s.Tags[SeverityWarning] = "WRN"
	s.Tags[SeverityError] = "ERR"
	s.Tags[SeverityDebug] = "DBG"
	s.Tags[SeverityTrace] = "TRC"
	s.Colors[SeverityInfo] = RGB{176, 255, 181}
	s.Colors[SeverityWarning] = RGB{248, 255, 185}
	s.Colors[SeverityError] = RGB{255, 179, 179}
	s.Colors[SeverityDebug] = RGB{227, 227, 227}
	s.Colors[SeverityTrace] = RGB{252, 239, 173}
	s.Colors[SeverityOther] = White
	return s
}

// Validate checks the structural invariants of the schema.
func (s *Schema) Validate() error {
	if s.Columns <= 0 {
		return fmt.Errorf("%w: columns must be positive, got %d", ErrInvalidSchema, s.Columns)
	}
	if len(s.Alignments) > s.Columns {
		return fmt.Errorf("%w: %d alignments for %d columns", ErrInvalidSchema, len(s.Alignments), s.Columns)
	}
	if len(s.Headers) > s.Columns {
		return fmt.Errorf("%w: %d headers for %d columns", ErrInvalidSchema, len(s.Headers), s.Columns)
	}
	if s.ThreadColumn < 0 || s.ThreadColumn > s.Columns {
		return fmt.Errorf("%w: thread column %d out of range 0..%d", ErrInvalidSchema, s.ThreadColumn, s.Columns)
	}
	for i, f := range s.Fields {
		if !f.Type.Valid() {
			return fmt.Errorf("%w: field %d (%s) has unknown type %d", ErrInvalidSchema, i, f.Name, int(f.Type))
		}
	}
	return nil
}

// CheckObjectFields reports whether the schema can decode embedded-object lines.
func (s *Schema) CheckObjectFields() error {
	if len(s.Fields) == 0 || len(s.Fields) != s.Columns {
		return fmt.Errorf("%w: %d fields, %d columns", ErrFieldListMismatch, len(s.Fields), s.Columns)
	}
	return nil
}

// Alignment returns the alignment of column i, defaulting to left.
func (s *Schema) Alignment(i int) Alignment {
	if i >= 0 && i < len(s.Alignments) {
		return s.Alignments[i]
	}
	return AlignLeft
}

// Header returns the header of column i or an empty string.
func (s *Schema) Header(i int) string {
	if i >= 0 && i < len(s.Headers) {
		return s.Headers[i]
	}
	return ""
}

// Clone returns a deep copy of the schema.
func (s Schema) Clone() Schema {
	c := s
	c.Headers = append([]string(nil), s.Headers...)
	c.Alignments = append([]Alignment(nil), s.Alignments...)
	c.Fields = append([]FieldSpec(nil), s.Fields...)
	return c
}
