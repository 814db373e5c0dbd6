// Package parser decodes log files into classified, colored records and
// runs structural checks and searches over them.
package parser

import (
	"context"

	"github.com/tracelens/backend/internal/models"
)

// ProgressCallback is called periodically during parsing to report progress.
type ProgressCallback func(linesProcessed int, bytesProcessed int64, totalBytes int64)

// Parser defines the interface for log file parsers.
type Parser interface {
	// Name returns the unique name of the parser.
	Name() string
	// CanParse returns true if this parser can handle the given file.
	CanParse(filePath string) (bool, error)
	// Parse parses the entire file and returns the result.
	Parse(ctx context.Context, filePath string, schema models.Schema) (*models.Table, error)
	// ParseWithProgress parses with progress callbacks for large files.
	ParseWithProgress(ctx context.Context, filePath string, schema models.Schema, onProgress ProgressCallback) (*models.Table, error)
}

// TextParser reads delimiter separated lines.
type TextParser struct{}

// NewTextParser creates a parser for delimited text logs.
func NewTextParser() *TextParser { return &TextParser{} }

func (p *TextParser) Name() string { return "text" }

// CanParse accepts any file; it is the registry's last resort.
func (p *TextParser) CanParse(filePath string) (bool, error) { return true, nil }

func (p *TextParser) Parse(ctx context.Context, filePath string, schema models.Schema) (*models.Table, error) {
	return p.ParseWithProgress(ctx, filePath, schema, nil)
}

func (p *TextParser) ParseWithProgress(ctx context.Context, filePath string, schema models.Schema, onProgress ProgressCallback) (*models.Table, error) {
	return IngestFile(ctx, filePath, schema, IngestOptions{OnProgress: onProgress})
}

// ObjectParser reads lines that carry one embedded object each and extracts
// the schema's field list from them.
type ObjectParser struct{}

// NewObjectParser creates a parser for object-per-line logs.
func NewObjectParser() *ObjectParser { return &ObjectParser{} }

func (p *ObjectParser) Name() string { return "object" }

// CanParse reports whether the first non-blank line starts an object.
func (p *ObjectParser) CanParse(filePath string) (bool, error) {
	line, err := firstNonBlankLine(filePath)
	if err != nil {
		return false, err
	}
	return isObjectLine(line), nil
}

func (p *ObjectParser) Parse(ctx context.Context, filePath string, schema models.Schema) (*models.Table, error) {
	return p.ParseWithProgress(ctx, filePath, schema, nil)
}

func (p *ObjectParser) ParseWithProgress(ctx context.Context, filePath string, schema models.Schema, onProgress ProgressCallback) (*models.Table, error) {
	return IngestFile(ctx, filePath, schema, IngestOptions{ObjectMode: true, OnProgress: onProgress})
}
