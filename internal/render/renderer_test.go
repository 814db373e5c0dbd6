package render

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelens/backend/internal/models"
	"github.com/tracelens/backend/internal/parser"
)

const sampleLog = `10:00:00,T1,INF service starting
10:00:01,T2,ERR disk failure
10:00:02,T1,plain message
`

func ingest(t *testing.T) *models.Table {
	t.Helper()
	s := models.DefaultSchema()
	s.Columns = 3
	s.Headers = []string{"Time", "Thread", "Message"}
	s.Alignments = []models.Alignment{models.AlignLeft, models.AlignRight, models.AlignLeft}
	s.Fields = nil
	s.ThreadColumn = 2
	table, err := parser.Ingest(context.Background(), strings.NewReader(sampleLog), s, parser.IngestOptions{})
	require.NoError(t, err)
	return table
}

func TestTextRenderer(t *testing.T) {
	table := ingest(t)
	table.Records[2].Hidden = true

	var buf bytes.Buffer
	require.NoError(t, NewTextRenderer(&buf, true).Render("app.log", table))
	out := buf.String()

	assert.Contains(t, out, "app.log")
	assert.Contains(t, out, "Time")
	assert.Contains(t, out, "INF service starting")
	assert.Contains(t, out, "ERR disk failure")
	assert.NotContains(t, out, "plain message", "hidden records are skipped")
	assert.Contains(t, out, "lines: 3")
	assert.Contains(t, out, "threads: T1 T2")
}

func TestTextRendererAlignment(t *testing.T) {
	table := ingest(t)
	var buf bytes.Buffer
	require.NoError(t, NewTextRenderer(&buf, false).Render("", table))

	// "Thread" is six wide, so right aligned ids carry four spaces.
	assert.Contains(t, buf.String(), "│     T1 │")
}

func TestJSONRenderer(t *testing.T) {
	table := ingest(t)
	var buf bytes.Buffer
	require.NoError(t, NewJSONRenderer(&buf).Render("app.log", table))

	var got []jsonRecord
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var r jsonRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		got = append(got, r)
	}
	require.Len(t, got, 3)
	assert.Equal(t, jsonRecord{File: "app.log", Line: 2, Severity: "error", Thread: "T2",
		Cells: []string{"10:00:01", "T2", "ERR disk failure"}}, got[1])
}
