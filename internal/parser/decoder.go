package parser

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tracelens/backend/internal/models"
)

// Decoder turns raw lines into exactly Schema.Columns cells.
type Decoder struct {
	schema     *models.Schema
	objectMode bool
	intern     *StringIntern
}

// NewDecoder creates a decoder for schema. Object mode is refused when the
// schema's field list does not cover every column.
func NewDecoder(schema *models.Schema, objectMode bool) (*Decoder, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if objectMode {
		if err := schema.CheckObjectFields(); err != nil {
			return nil, err
		}
	}
	return &Decoder{schema: schema, objectMode: objectMode}, nil
}

// WithIntern makes the decoder intern every cell except the message column.
func (d *Decoder) WithIntern(si *StringIntern) *Decoder {
	d.intern = si
	return d
}

// Decode splits line into cells. The result always has Schema.Columns entries.
func (d *Decoder) Decode(line string) []string {
	if d.objectMode && isObjectLine(line) {
		if synth, ok := synthesizeLine(line, d.schema.Fields, d.schema.Delimiter); ok {
			line = synth
		}
	}

	cells := SplitLine(line, d.schema.Delimiter, d.schema.Columns)
	if d.intern != nil {
		for i := 0; i < len(cells)-1; i++ {
			cells[i] = d.intern.Intern(cells[i])
		}
	}
	return cells
}

func isObjectLine(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), "{")
}

// SplitLine performs a bounded split of line into columns cells. The first
// columns-1 parts are trimmed. When the split is exhausted the final cell holds
// the rest of the line verbatim, further delimiters included. A line without
// the delimiter lands entirely in the last cell.
func SplitLine(line, delim string, columns int) []string {
	if columns <= 0 {
		return nil
	}
	cells := make([]string, columns)

	if delim == "" || !strings.Contains(line, delim) {
		cells[columns-1] = line
		return cells
	}

	parts := strings.SplitN(line, delim, columns)
	for i, p := range parts {
		if i == columns-1 {
			cells[i] = p
			break
		}
		cells[i] = strings.TrimSpace(p)
	}
	return cells
}

// synthesizeLine extracts fields from an embedded object and joins them with
// delim. A trailing space follows the last value. ok is false when line is not
// a valid object.
func synthesizeLine(line string, fields []models.FieldSpec, delim string) (string, bool) {
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return "", false
	}

	var sb strings.Builder
	for i, f := range fields {
		if i > 0 {
			sb.WriteString(delim)
		}
		v, found := lookupField(obj, f.Name)
		sb.WriteString(formatValue(v, found, f.Type, delim))
	}
	sb.WriteByte(' ')
	return sb.String(), true
}

// lookupField resolves name in obj. "a.b" addresses key b of the object
// stored under a. Deeper paths are not resolved.
func lookupField(obj map[string]any, name string) (any, bool) {
	outer, inner, nested := strings.Cut(name, ".")
	if !nested {
		v, ok := obj[name]
		return v, ok
	}
	if strings.Contains(inner, ".") {
		return nil, false
	}
	sub, ok := obj[outer].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := sub[inner]
	return v, ok
}

func formatValue(v any, found bool, typ models.ValueType, delim string) string {
	switch typ {
	case models.ValueInt, models.ValueLong:
		if !found {
			return "0"
		}
		return strconv.FormatInt(toInt(v), 10)
	case models.ValueFloat:
		if !found {
			return "0"
		}
		return strconv.FormatFloat(toFloat(v), 'g', -1, 32)
	case models.ValueDouble:
		if !found {
			return "0"
		}
		return strconv.FormatFloat(toFloat(v), 'g', -1, 64)
	case models.ValueBool:
		if !found {
			return "false"
		}
		return strconv.FormatBool(toBool(v))
	}

	if !found || v == nil {
		return ""
	}
	s := toString(v)
	s = strings.ReplaceAll(s, ",", " ")
	if delim != "" && delim != "," {
		s = strings.ReplaceAll(s, delim, " ")
	}
	return s
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}

func toInt(v any) int64 {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return int64(f)
		}
	case bool:
		if x {
			return 1
		}
	}
	return 0
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f
		}
	case bool:
		if x {
			return 1
		}
	}
	return 0
}

func toBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return err == nil && b
	}
	return false
}
