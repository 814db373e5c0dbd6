package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fortio.org/safecast"

	"github.com/tracelens/backend/internal/models"
)

// Geometry is the last window rectangle remembered by a desktop front end.
type Geometry struct {
	X, Y, Width, Height int
}

// SchemaFile is the content of a key=value schema file. Profiles carry only
// the Schema part.
type SchemaFile struct {
	Schema models.Schema

	LogFile      string
	SourcePath   string
	ResultPath   string
	LogLevel     int
	Geometry     Geometry
	LastOpenPath string
	LastSavePath string
}

// DefaultSchemaFile returns the settings used when no schema file exists.
func DefaultSchemaFile() *SchemaFile {
	return &SchemaFile{
		Schema:   models.DefaultSchema(),
		LogLevel: 1,
	}
}

var severityKeys = []struct {
	name string
	sev  models.Severity
}{
	{"Info", models.SeverityInfo},
	{"Warning", models.SeverityWarning},
	{"Error", models.SeverityError},
	{"Debug", models.SeverityDebug},
	{"Trace", models.SeverityTrace},
}

// isRemark reports whether the first non-space character of line is '#'.
func isRemark(line string) bool {
	t := strings.TrimLeft(line, " ")
	return strings.HasPrefix(t, "#")
}

// ParseSchema reads a schema file. Keys are case-insensitive, unknown keys are
// ignored, and keys absent from the input keep their default values.
func ParseSchema(r io.Reader) (*SchemaFile, error) {
	f := DefaultSchemaFile()
	if err := f.read(r, false); err != nil {
		return nil, err
	}
	return f, nil
}

// ParseProfile reads a profile. Non-schema keys are ignored.
func ParseProfile(r io.Reader) (*models.Schema, error) {
	f := DefaultSchemaFile()
	if err := f.read(r, true); err != nil {
		return nil, err
	}
	return &f.Schema, nil
}

func (f *SchemaFile) read(r io.Reader, profile bool) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if isRemark(line) {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if err := f.set(key, value, profile); err != nil {
			return fmt.Errorf("line %d: %s: %w", lineNum, key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	if err := f.Schema.Validate(); err != nil {
		return err
	}
	return nil
}

func (f *SchemaFile) set(key, value string, profile bool) error {
	s := &f.Schema

	for _, sk := range severityKeys {
		switch key {
		case "tag" + strings.ToLower(sk.name):
			s.Tags[sk.sev] = unquote(value)
			return nil
		case "color" + strings.ToLower(sk.name):
			c, err := parseRGB(value)
			if err != nil {
				return err
			}
			s.Colors[sk.sev] = c
			return nil
		}
	}

	switch key {
	case "colorother":
		c, err := parseRGB(value)
		if err != nil {
			return err
		}
		s.Colors[models.SeverityOther] = c
	case "blockstart":
		s.BlockEntry = unquote(value)
	case "blockend":
		s.BlockExit = unquote(value)
	case "delimeter", "delimiter":
		s.Delimiter = unquote(value)
	case "columns":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid column count %q: %w", value, err)
		}
		s.Columns = n
	case "columnthreadid":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid thread column %q: %w", value, err)
		}
		s.ThreadColumn = n
	case "headers":
		s.Headers = splitList(value, "|")
	case "values":
		fields, err := parseFields(value)
		if err != nil {
			return err
		}
		s.Fields = fields
	case "colaligns":
		aligns, err := parseAligns(value)
		if err != nil {
			return err
		}
		s.Alignments = aligns
	}

	if profile {
		return nil
	}

	switch key {
	case "logfile":
		f.LogFile = value
	case "sourcepath":
		f.SourcePath = value
	case "resultpath":
		f.ResultPath = value
	case "loglevel":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > 6 {
			return fmt.Errorf("invalid log level %q", value)
		}
		f.LogLevel = n
	case "geometry":
		parts := strings.Split(value, ",")
		if len(parts) != 4 {
			return fmt.Errorf("geometry needs 4 values, got %d", len(parts))
		}
		var g [4]int
		for i, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return fmt.Errorf("invalid geometry %q: %w", value, err)
			}
			g[i] = n
		}
		f.Geometry = Geometry{X: g[0], Y: g[1], Width: g[2], Height: g[3]}
	case "lastopenpath":
		f.LastOpenPath = value
	case "lastsavepath":
		f.LastSavePath = value
	}
	return nil
}

// unquote decodes a value written by quote. Unquoted values are returned as
// read, already trimmed.
func unquote(value string) string {
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		if u, err := strconv.Unquote(value); err == nil {
			return u
		}
	}
	return value
}

// quote protects values whose surrounding whitespace would be trimmed on read.
func quote(value string) string {
	if value != strings.TrimSpace(value) || strings.HasPrefix(value, `"`) {
		return strconv.Quote(value)
	}
	return value
}

func splitList(value, sep string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseRGB(value string) (models.RGB, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return models.RGB{}, fmt.Errorf("color %q is not R,G,B", value)
	}
	var c [3]uint8
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return models.RGB{}, fmt.Errorf("color %q: %w", value, err)
		}
		v, err := safecast.Conv[uint8](n)
		if err != nil {
			return models.RGB{}, fmt.Errorf("color %q: component %d out of range", value, n)
		}
		c[i] = v
	}
	return models.RGB{R: c[0], G: c[1], B: c[2]}, nil
}

// parseFields decodes "name,typeIndex|name,typeIndex". A name without a type
// index is a string field.
func parseFields(value string) ([]models.FieldSpec, error) {
	var fields []models.FieldSpec
	for _, part := range splitList(value, "|") {
		name, typ, hasType := strings.Cut(part, ",")
		field := models.FieldSpec{Name: strings.TrimSpace(name), Type: models.ValueString}
		if hasType {
			n, err := strconv.Atoi(strings.TrimSpace(typ))
			if err != nil || !models.ValueType(n).Valid() {
				return nil, fmt.Errorf("field %q: invalid type index %q", field.Name, typ)
			}
			field.Type = models.ValueType(n)
		}
		fields = append(fields, field)
	}
	return fields, nil
}

func parseAligns(value string) ([]models.Alignment, error) {
	var aligns []models.Alignment
	for _, p := range splitList(value, ",") {
		switch strings.ToLower(p) {
		case "l":
			aligns = append(aligns, models.AlignLeft)
		case "r":
			aligns = append(aligns, models.AlignRight)
		default:
			return nil, fmt.Errorf("invalid alignment %q", p)
		}
	}
	return aligns, nil
}

// WriteSchema writes f in the key=value format. With profile set only the
// schema keys are written.
func WriteSchema(w io.Writer, f *SchemaFile, profile bool) error {
	bw := bufio.NewWriter(w)
	s := &f.Schema

	if profile {
		fmt.Fprintln(bw, "# TraceLens profile")
	} else {
		fmt.Fprintln(bw, "# TraceLens configuration")
		fmt.Fprintf(bw, "LogFile=%s\n", f.LogFile)
		fmt.Fprintf(bw, "SourcePath=%s\n", f.SourcePath)
		fmt.Fprintf(bw, "ResultPath=%s\n", f.ResultPath)
		fmt.Fprintf(bw, "LogLevel=%d\n", f.LogLevel)
		g := f.Geometry
		fmt.Fprintf(bw, "Geometry=%d,%d,%d,%d\n", g.X, g.Y, g.Width, g.Height)
		fmt.Fprintf(bw, "LastOpenPath=%s\n", f.LastOpenPath)
		fmt.Fprintf(bw, "LastSavePath=%s\n", f.LastSavePath)
	}

	fmt.Fprintf(bw, "BlockStart=%s\n", quote(s.BlockEntry))
	fmt.Fprintf(bw, "BlockEnd=%s\n", quote(s.BlockExit))
	for _, sk := range severityKeys {
		fmt.Fprintf(bw, "Tag%s=%s\n", sk.name, quote(s.Tags[sk.sev]))
		fmt.Fprintf(bw, "Color%s=%s\n", sk.name, s.Colors[sk.sev])
	}
	fmt.Fprintf(bw, "ColorOther=%s\n", s.Colors[models.SeverityOther])
	fmt.Fprintf(bw, "Delimeter=%s\n", quote(s.Delimiter))
	fmt.Fprintf(bw, "Columns=%d\n", s.Columns)
	fmt.Fprintf(bw, "ColumnThreadID=%d\n", s.ThreadColumn)
	fmt.Fprintf(bw, "Headers=%s\n", strings.Join(s.Headers, "|"))

	values := make([]string, len(s.Fields))
	for i, fs := range s.Fields {
		values[i] = fmt.Sprintf("%s,%d", fs.Name, int(fs.Type))
	}
	fmt.Fprintf(bw, "Values=%s\n", strings.Join(values, "|"))

	aligns := make([]string, len(s.Alignments))
	for i, a := range s.Alignments {
		aligns[i] = "l"
		if a == models.AlignRight {
			aligns[i] = "r"
		}
	}
	fmt.Fprintf(bw, "ColAligns=%s\n", strings.Join(aligns, ","))

	return bw.Flush()
}

// LoadSchema reads the schema file at path. A missing file yields the defaults.
func LoadSchema(path string) (*SchemaFile, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return DefaultSchemaFile(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open schema file: %w", err)
	}
	defer file.Close()

	f, err := ParseSchema(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}
	return f, nil
}

// SaveSchema writes f to path, creating parent directories as needed.
func SaveSchema(path string, f *SchemaFile) error {
	return writeFile(path, func(w io.Writer) error { return WriteSchema(w, f, false) })
}

// LoadProfile reads a profile file.
func LoadProfile(path string) (*models.Schema, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile: %w", err)
	}
	defer file.Close()

	s, err := ParseProfile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	return s, nil
}

// SaveProfile writes only the schema keys of s to path.
func SaveProfile(path string, s models.Schema) error {
	f := &SchemaFile{Schema: s}
	return writeFile(path, func(w io.Writer) error { return WriteSchema(w, f, true) })
}

// ApplyProfile returns a copy of base whose schema is replaced by profile.
// base itself is left untouched so the override lasts one session only.
func ApplyProfile(base *SchemaFile, profile models.Schema) *SchemaFile {
	out := *base
	out.Schema = profile.Clone()
	return &out
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(file); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}
