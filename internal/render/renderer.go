// Package render prints ingested tables to a terminal or as JSON lines.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"

	"github.com/tracelens/backend/internal/models"
)

// maxCellWidth caps the padding of non-final columns.
const maxCellWidth = 40

// Renderer writes a table to an output stream.
type Renderer interface {
	Render(name string, table *models.Table) error
}

// TextRenderer prints records with their row and thread colors. Colors are
// dropped automatically when w is not a terminal.
type TextRenderer struct {
	w       io.Writer
	r       *lipgloss.Renderer
	summary bool

	header lipgloss.Style
	muted  lipgloss.Style
}

// NewTextRenderer returns a Renderer for w. With summary set the severity
// counts and thread list follow the records.
func NewTextRenderer(w io.Writer, summary bool) *TextRenderer {
	r := lipgloss.NewRenderer(w)
	return &TextRenderer{
		w:       w,
		r:       r,
		summary: summary,
		header:  r.NewStyle().Bold(true).Underline(true),
		muted:   r.NewStyle().Faint(true),
	}
}

func (t *TextRenderer) Render(name string, table *models.Table) error {
	s := &table.Schema
	widths := columnWidths(table)

	var b strings.Builder
	if name != "" {
		b.WriteString(t.header.Render(name))
		b.WriteByte('\n')
	}
	if len(s.Headers) > 0 {
		cells := make([]string, s.Columns)
		for i := range cells {
			cells[i] = s.Header(i)
		}
		b.WriteString(t.muted.Render(t.row("#", cells, widths, s)))
		b.WriteByte('\n')
	}

	for i := range table.Records {
		rec := &table.Records[i]
		if rec.Hidden {
			continue
		}
		line := t.row(fmt.Sprint(rec.LineNumber+1), rec.Cells, widths, s)
		style := t.r.NewStyle().Background(lipgloss.Color(rec.RowColor.Hex())).Foreground(lipgloss.Color("#000000"))
		marker := " "
		if rec.ThreadColor != nil {
			marker = t.r.NewStyle().Background(lipgloss.Color(rec.ThreadColor.Hex())).Render(" ")
		}
		b.WriteString(marker)
		b.WriteString(style.Render(line))
		b.WriteByte('\n')
	}

	if t.summary {
		b.WriteString(t.Summary(table))
	}
	_, err := io.WriteString(t.w, b.String())
	return err
}

// Summary formats the severity counts and threads of table.
func (t *TextRenderer) Summary(table *models.Table) string {
	sum := table.Summary
	var b strings.Builder
	b.WriteString(t.header.Render("Summary"))
	b.WriteByte('\n')
	fmt.Fprintf(&b, "  lines: %d  blocks: %d opened, %d closed\n", sum.Lines, sum.BlockOpens, sum.BlockCloses)
	for _, sev := range models.Severities {
		n := sum.Severity[sev]
		if n == 0 {
			continue
		}
		tag := t.r.NewStyle().
			Background(lipgloss.Color(table.Schema.Colors[sev].Hex())).
			Foreground(lipgloss.Color("#000000")).
			Render(fmt.Sprintf(" %-7s", sev))
		fmt.Fprintf(&b, "  %s %d\n", tag, n)
	}
	if len(table.Threads) > 0 {
		ids := make([]string, len(table.Threads))
		for i, th := range table.Threads {
			ids[i] = t.r.NewStyle().Background(lipgloss.Color(th.Color.Hex())).Foreground(lipgloss.Color("#000000")).Render(th.ID)
		}
		fmt.Fprintf(&b, "  threads: %s\n", strings.Join(ids, " "))
	}
	return b.String()
}

func (t *TextRenderer) row(num string, cells []string, widths []int, s *models.Schema) string {
	parts := make([]string, 0, len(cells)+1)
	parts = append(parts, fmt.Sprintf("%6s", num))
	for i, c := range cells {
		if i == len(cells)-1 {
			parts = append(parts, c)
			break
		}
		w := widths[i]
		if len(c) > w {
			c = c[:w]
		}
		align := lipgloss.Left
		if s.Alignment(i) == models.AlignRight {
			align = lipgloss.Right
		}
		parts = append(parts, t.r.NewStyle().Width(w).Align(align).Render(c))
	}
	return strings.Join(parts, " │ ")
}

func columnWidths(table *models.Table) []int {
	widths := make([]int, table.Schema.Columns)
	for i := range widths {
		widths[i] = len(table.Schema.Header(i))
	}
	for _, rec := range table.Records {
		for i, c := range rec.Cells {
			if i < len(widths) && len(c) > widths[i] {
				widths[i] = len(c)
			}
		}
	}
	for i := range widths {
		if widths[i] > maxCellWidth {
			widths[i] = maxCellWidth
		}
	}
	return widths
}

// JSONRenderer prints each visible record as a single JSON object per line.
type JSONRenderer struct {
	enc *json.Encoder
}

// NewJSONRenderer returns a Renderer that writes JSON lines to w.
func NewJSONRenderer(w io.Writer) *JSONRenderer {
	return &JSONRenderer{enc: json.NewEncoder(w)}
}

type jsonRecord struct {
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line"`
	Severity string   `json:"severity"`
	Thread   string   `json:"thread,omitempty"`
	Cells    []string `json:"cells"`
}

func (r *JSONRenderer) Render(name string, table *models.Table) error {
	for i := range table.Records {
		rec := &table.Records[i]
		if rec.Hidden {
			continue
		}
		if err := r.enc.Encode(jsonRecord{
			File:     name,
			Line:     rec.LineNumber + 1,
			Severity: rec.Severity.String(),
			Thread:   table.ThreadID(rec),
			Cells:    rec.Cells,
		}); err != nil {
			return err
		}
	}
	return nil
}
