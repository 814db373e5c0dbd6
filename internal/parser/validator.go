package parser

import (
	"context"
	"strings"

	"github.com/tracelens/backend/internal/models"
)

// classEntry is a pending constructor call awaiting its destructor.
type classEntry struct {
	line     int
	threadID string
	class    string
}

// Validator checks that block markers are well nested and that every
// constructor entry is followed by its destructor exit.
type Validator struct {
	schema     *models.Schema
	onProgress func(index int)
}

// NewValidator creates a validator for records decoded with schema.
func NewValidator(schema *models.Schema) *Validator {
	return &Validator{schema: schema}
}

// OnProgress registers a callback invoked with the index of each record.
func (v *Validator) OnProgress(fn func(index int)) *Validator {
	v.onProgress = fn
	return v
}

// Validate scans records once. The generic block matcher only runs when no
// thread column is configured; the class lifecycle matcher always runs.
// A cancelled context yields no report.
func (v *Validator) Validate(ctx context.Context, records []models.Record) (*models.ValidationReport, error) {
	s := v.schema
	blocks := s.ThreadColumn <= 0
	// The thread id is only meaningful when it is not the message column.
	trackThread := s.ThreadColumn > 0 && s.ThreadColumn < s.Columns

	var (
		stack   []string
		classes []classEntry
		report  = &models.ValidationReport{
			InconsistentExitLines: []int{},
			UnmatchedConstructs:   []models.UnmatchedConstruct{},
		}
	)

	for i := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if v.onProgress != nil {
			v.onProgress(i)
		}

		rec := &records[i]
		text := rec.Last()

		if label, ok := entryLabel(text, s.BlockEntry); ok {
			if blocks {
				stack = append(stack, label)
			}
			if class, ok := constructorClass(label); ok {
				ce := classEntry{line: rec.LineNumber, class: class}
				if trackThread {
					ce.threadID = strings.TrimSpace(rec.Cell(s.ThreadColumn - 1))
				}
				classes = append(classes, ce)
			}
			continue
		}

		if s.BlockExit == "" || !strings.Contains(text, s.BlockExit) {
			continue
		}
		if blocks {
			if n := len(stack); n > 0 && closesBlock(text, stack[n-1]) {
				stack = stack[:n-1]
			} else {
				report.InconsistentExitLines = append(report.InconsistentExitLines, rec.LineNumber)
			}
		}
		classes = findAndRemoveBySignature(classes, text, trackThread)
	}

	for _, ce := range classes {
		report.UnmatchedConstructs = append(report.UnmatchedConstructs, models.UnmatchedConstruct{
			Line:  ce.line,
			Class: ce.class,
		})
	}
	return report, nil
}

// Validate is a convenience wrapper around Validator.Validate.
func Validate(ctx context.Context, schema *models.Schema, records []models.Record) (*models.ValidationReport, error) {
	return NewValidator(schema).Validate(ctx, records)
}

// entryLabel returns the trimmed text following marker in line.
func entryLabel(line, marker string) (string, bool) {
	if marker == "" {
		return "", false
	}
	pos := strings.Index(line, marker)
	if pos < 0 {
		return "", false
	}
	return strings.TrimSpace(line[pos+len(marker):]), true
}

// constructorClass reports whether label looks like "Class::Method" where
// Method mentions Class and is not a destructor.
func constructorClass(label string) (string, bool) {
	class, method, ok := strings.Cut(label, "::")
	if !ok || class == "" {
		return "", false
	}
	if strings.HasPrefix(method, "~") || !strings.Contains(method, class) {
		return "", false
	}
	return class, true
}

// closesBlock reports whether an exit line closes the block opened with label.
// A constructor label is also closed by the matching destructor exit.
func closesBlock(line, label string) bool {
	if strings.Contains(line, label) {
		return true
	}
	if class, ok := constructorClass(label); ok {
		return strings.Contains(line, "::~"+class)
	}
	return false
}

// findAndRemoveBySignature removes the most recently pushed entry whose
// destructor signature appears in line, and whose thread id does too when
// threads are tracked. The removed entry need not be the top of the stack.
// classes is returned unchanged when nothing matches.
func findAndRemoveBySignature(classes []classEntry, line string, trackThread bool) []classEntry {
	for i := len(classes) - 1; i >= 0; i-- {
		ce := classes[i]
		if !strings.Contains(line, "::~"+ce.class) {
			continue
		}
		if trackThread && !strings.Contains(line, ce.threadID) {
			continue
		}
		return append(classes[:i], classes[i+1:]...)
	}
	return classes
}
