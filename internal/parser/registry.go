package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Registry holds all available parsers and provides auto-detection.
type Registry struct {
	parsers []Parser
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry returns a registry that prefers object-per-line detection and
// falls back to delimited text.
func NewRegistry() *Registry {
	return &Registry{
		parsers: []Parser{
			NewObjectParser(),
			NewTextParser(),
		},
	}
}

// GetGlobalRegistry returns the singleton registry.
func GetGlobalRegistry() *Registry {
	return globalRegistry
}

// Register adds a new parser ahead of the text fallback.
func (r *Registry) Register(p Parser) {
	n := len(r.parsers)
	if n == 0 {
		r.parsers = append(r.parsers, p)
		return
	}
	r.parsers = append(r.parsers[:n-1], p, r.parsers[n-1])
}

// FindParser detects the correct parser for a file.
func (r *Registry) FindParser(filePath string) (Parser, error) {
	for _, p := range r.parsers {
		can, err := p.CanParse(filePath)
		if err != nil {
			continue
		}
		if can {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no suitable parser found for file: %s", filePath)
}

// GetParserByName returns a parser by its name.
func (r *Registry) GetParserByName(name string) (Parser, error) {
	name = strings.ToLower(name)
	for _, p := range r.parsers {
		if strings.ToLower(p.Name()) == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: parser %q", ErrUnknownFormat, name)
}

// Names lists the registered parsers in detection order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		names[i] = p.Name()
	}
	return names
}

func firstNonBlankLine(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	br := bufio.NewReader(file)
	for i := 0; i < 100; i++ {
		raw, err := br.ReadString('\n')
		if line := strings.TrimSpace(raw); line != "" {
			return line, nil
		}
		if err == io.EOF {
			return "", nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", nil
}
