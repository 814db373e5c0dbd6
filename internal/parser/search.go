package parser

import (
	"context"
	"strings"

	"github.com/tracelens/backend/internal/models"
)

// NotFound is returned by Search when there is no further match.
const NotFound = -1

// Search returns the 1-based index of the first record at or after start
// whose column contains query, or NotFound. column is 0-based; a negative or
// out of range column selects the last column. Passing the previous result as
// start finds the next match. Matching is case-sensitive.
func Search(ctx context.Context, records []models.Record, query string, start, column int) int {
	if start < 0 {
		start = 0
	}
	for i := start; i < len(records); i++ {
		if ctx.Err() != nil {
			return NotFound
		}
		cells := records[i].Cells
		col := column
		if col < 0 || col >= len(cells) {
			col = len(cells) - 1
		}
		if col < 0 {
			continue
		}
		if strings.Contains(cells[col], query) {
			return i + 1
		}
	}
	return NotFound
}

// FindExceptions returns the line numbers of records whose message mentions
// an exception, ignoring case.
func FindExceptions(ctx context.Context, records []models.Record) ([]int, error) {
	lines := []int{}
	for i := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.Contains(strings.ToLower(records[i].Last()), "exception") {
			lines = append(lines, records[i].LineNumber)
		}
	}
	return lines, nil
}
