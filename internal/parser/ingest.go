package parser

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tracelens/backend/internal/models"
)

// progressInterval is the number of lines between progress callbacks.
const progressInterval = 10000

// IngestOptions controls a single ingestion pass.
type IngestOptions struct {
	ObjectMode bool
	OnProgress ProgressCallback
	// TotalBytes is passed through to OnProgress; IngestFile fills it in.
	TotalBytes int64
}

// Ingest reads r line by line and builds the record table. Each pass gets a
// fresh thread color allocator. When ctx is cancelled the records built so
// far are returned together with ctx.Err().
func Ingest(ctx context.Context, r io.Reader, schema models.Schema, opts IngestOptions) (*models.Table, error) {
	dec, err := NewDecoder(&schema, opts.ObjectMode)
	if err != nil {
		return nil, err
	}
	dec.WithIntern(NewStringIntern())

	classifier := NewClassifier(&schema)
	colors := NewThreadColors()
	seen := make(map[string]struct{})

	table := &models.Table{
		Schema:  schema,
		Records: make([]models.Record, 0, 1024),
		Threads: []models.ThreadInfo{},
	}
	summary := models.NewSummary()

	// ReadString keeps line length unbounded.
	br := bufio.NewReaderSize(r, 64*1024)

	var bytesRead int64
	lineNum := 0
	for {
		if err := ctx.Err(); err != nil {
			table.Summary = finishSummary(summary, classifier, len(table.Threads))
			return table, err
		}

		raw, readErr := br.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return nil, fmt.Errorf("error reading log: %w", readErr)
		}
		if raw == "" && readErr == io.EOF {
			break
		}
		bytesRead += int64(len(raw))
		line := strings.TrimRight(raw, "\r\n")

		cells := dec.Decode(line)
		rec := models.Record{LineNumber: lineNum, Cells: cells}

		text := rec.Last()
		rec.Severity, rec.RowColor = classifier.Classify(text)

		switch {
		case schema.BlockEntry != "" && strings.Contains(text, schema.BlockEntry):
			summary.BlockOpens++
		case schema.BlockExit != "" && strings.Contains(text, schema.BlockExit):
			summary.BlockCloses++
		}

		if schema.ThreadColumn > 0 {
			if id := strings.TrimSpace(rec.Cell(schema.ThreadColumn - 1)); id != "" {
				c := colors.ColorFor(id)
				rec.ThreadColor = &c
				if _, ok := seen[id]; !ok {
					seen[id] = struct{}{}
					table.Threads = append(table.Threads, models.ThreadInfo{ID: id, Color: c})
				}
			}
		}

		table.Records = append(table.Records, rec)
		lineNum++

		if opts.OnProgress != nil && lineNum%progressInterval == 0 {
			opts.OnProgress(lineNum, bytesRead, opts.TotalBytes)
		}
		if readErr == io.EOF {
			break
		}
	}

	summary.Lines = lineNum
	table.Summary = finishSummary(summary, classifier, len(table.Threads))
	if opts.OnProgress != nil {
		opts.OnProgress(lineNum, bytesRead, opts.TotalBytes)
	}
	return table, nil
}

func finishSummary(s models.Summary, c *Classifier, threads int) models.Summary {
	for sev, n := range c.Counts() {
		s.Severity[sev] = n
	}
	if s.Lines == 0 {
		for _, n := range s.Severity {
			s.Lines += n
		}
	}
	s.Threads = threads
	return s
}

// IngestFile opens filePath and ingests it. Unreadable files abort the pass.
func IngestFile(ctx context.Context, filePath string, schema models.Schema, opts IngestOptions) (*models.Table, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if opts.TotalBytes == 0 {
		if info, err := file.Stat(); err == nil {
			opts.TotalBytes = info.Size()
		}
	}
	return Ingest(ctx, file, schema, opts)
}
