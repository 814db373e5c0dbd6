package parser

import (
	"bufio"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tracelens/backend/internal/models"
)

// ErrUnknownFormat is returned for unknown export formats and parser names.
var ErrUnknownFormat = errors.New("unknown format")

// ExportFormat selects the layout written by ExportReport.
type ExportFormat string

const (
	FormatText     ExportFormat = "txt"
	FormatMarkdown ExportFormat = "md"
	FormatHTML     ExportFormat = "html"
	FormatYAML     ExportFormat = "yaml"
)

// ParseExportFormat maps a format name or file extension to an ExportFormat.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "", "txt", "text":
		return FormatText, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: export %q", ErrUnknownFormat, s)
}

// ResultReport bundles what a result file contains.
type ResultReport struct {
	File       string                   `yaml:"file,omitempty"`
	Summary    models.Summary           `yaml:"summary"`
	Validation *models.ValidationReport `yaml:"validation,omitempty"`
	Exceptions []int                    `yaml:"exceptions,omitempty"`
}

// ExportReport writes rep to w. Line numbers are printed 1-based except in
// YAML, which keeps the record line numbers.
func ExportReport(w io.Writer, rep *ResultReport, format ExportFormat) error {
	if format == FormatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return enc.Close()
	}

	bw := bufio.NewWriter(w)
	r := newReportWriter(bw, format)

	r.heading("Summary")
	if rep.File != "" {
		r.item("File", rep.File)
	}
	r.item("Lines", fmt.Sprint(rep.Summary.Lines))
	for _, sev := range models.Severities {
		r.item(sev.String(), fmt.Sprint(rep.Summary.Severity[sev]))
	}
	r.item("Block opens", fmt.Sprint(rep.Summary.BlockOpens))
	r.item("Block closes", fmt.Sprint(rep.Summary.BlockCloses))
	r.item("Threads", fmt.Sprint(rep.Summary.Threads))
	r.end()

	if v := rep.Validation; v != nil {
		r.heading("Result of block validation")
		if len(v.InconsistentExitLines) == 0 {
			r.para("No errors found.")
		}
		for _, l := range v.InconsistentExitLines {
			r.line(fmt.Sprintf("Error in line: %d", l+1))
		}
		r.end()

		r.heading("Result of class validation")
		if len(v.UnmatchedConstructs) == 0 {
			r.para("No errors found.")
		}
		for _, uc := range v.UnmatchedConstructs {
			r.line(fmt.Sprintf("Class %s constructed in line %d was not destroyed", uc.Class, uc.Line+1))
		}
		r.end()
	}

	if rep.Exceptions != nil {
		r.heading("Exceptions")
		if len(rep.Exceptions) == 0 {
			r.para("No exceptions found.")
		}
		for _, l := range rep.Exceptions {
			r.line(fmt.Sprintf("Exception in line: %d", l+1))
		}
		r.end()
	}

	r.close()
	return bw.Flush()
}

// reportWriter renders headings, key/value items and lines in one format.
type reportWriter struct {
	w      *bufio.Writer
	format ExportFormat
}

func newReportWriter(w *bufio.Writer, format ExportFormat) *reportWriter {
	r := &reportWriter{w: w, format: format}
	if format == FormatHTML {
		fmt.Fprintln(w, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>TraceLens report</title></head><body>")
	}
	return r
}

func (r *reportWriter) heading(s string) {
	switch r.format {
	case FormatMarkdown:
		fmt.Fprintf(r.w, "## %s\n\n", s)
	case FormatHTML:
		fmt.Fprintf(r.w, "<h2>%s</h2><p>\n", html.EscapeString(s))
	default:
		fmt.Fprintf(r.w, "%s\n%s\n", s, strings.Repeat("=", len(s)))
	}
}

func (r *reportWriter) item(k, v string) {
	switch r.format {
	case FormatMarkdown:
		fmt.Fprintf(r.w, "- **%s**: %s\n", k, v)
	case FormatHTML:
		fmt.Fprintf(r.w, "%s: %s<br>\n", html.EscapeString(k), html.EscapeString(v))
	default:
		fmt.Fprintf(r.w, "%-14s %s\n", k+":", v)
	}
}

func (r *reportWriter) line(s string) {
	switch r.format {
	case FormatMarkdown:
		fmt.Fprintf(r.w, "- %s\n", s)
	case FormatHTML:
		fmt.Fprintf(r.w, "%s<br>\n", html.EscapeString(s))
	default:
		fmt.Fprintln(r.w, s)
	}
}

func (r *reportWriter) para(s string) {
	if r.format == FormatMarkdown {
		fmt.Fprintf(r.w, "%s\n", s)
		return
	}
	r.line(s)
}

func (r *reportWriter) end() {
	if r.format == FormatHTML {
		fmt.Fprintln(r.w, "</p>")
		return
	}
	fmt.Fprintln(r.w)
}

func (r *reportWriter) close() {
	if r.format == FormatHTML {
		fmt.Fprintln(r.w, "</body></html>")
	}
}
