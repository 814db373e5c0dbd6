package parser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelens/backend/internal/models"
)

const sampleLog = `2024-01-01 10:00:00,T1,INF service starting
2024-01-01 10:00:01,T2,{entry: Worker::Worker
2024-01-01 10:00:02,T1,WRN disk almost full, 91%
2024-01-01 10:00:03,T2,}exit: Worker::~Worker
2024-01-01 10:00:04,T3,ERR IOException while reading
plain line without delimiter
`

func threeColumnSchema() models.Schema {
	s := schemaWith(3, ",")
	s.ThreadColumn = 2
	return s
}

func TestIngest(t *testing.T) {
	table, err := Ingest(context.Background(), strings.NewReader(sampleLog), threeColumnSchema(), IngestOptions{})
	require.NoError(t, err)
	require.Len(t, table.Records, 6)

	r := table.Records[2]
	assert.Equal(t, 2, r.LineNumber)
	assert.Equal(t, "WRN disk almost full, 91%", r.Cells[2])
	assert.Equal(t, models.SeverityWarning, r.Severity)

	assert.Equal(t, []string{"", "", "plain line without delimiter"}, table.Records[5].Cells)
	assert.Nil(t, table.Records[5].ThreadColor)

	require.NotNil(t, table.Records[0].ThreadColor)
	assert.Equal(t, Palette[0], *table.Records[0].ThreadColor)
	assert.Equal(t, Palette[1], *table.Records[1].ThreadColor)
	assert.Equal(t, *table.Records[0].ThreadColor, *table.Records[2].ThreadColor)

	ids := make([]string, len(table.Threads))
	for i, th := range table.Threads {
		ids[i] = th.ID
	}
	assert.Equal(t, []string{"T1", "T2", "T3"}, ids)

	sum := table.Summary
	assert.Equal(t, 6, sum.Lines)
	assert.Equal(t, 1, sum.Severity[models.SeverityInfo])
	assert.Equal(t, 1, sum.Severity[models.SeverityWarning])
	assert.Equal(t, 1, sum.Severity[models.SeverityError])
	assert.Equal(t, 3, sum.Severity[models.SeverityOther])
	assert.Equal(t, 1, sum.BlockOpens)
	assert.Equal(t, 1, sum.BlockCloses)
	assert.Equal(t, 3, sum.Threads)
}

func TestIngestObjectMode(t *testing.T) {
	s := schemaWith(3, ",")
	s.Fields = []models.FieldSpec{
		{Name: "header.timestamp"},
		{Name: "header.pid", Type: models.ValueInt},
		{Name: "message"},
	}
	input := `{"header":{"timestamp":"10:00","pid":7},"message":"INF up"}
not an object, still decoded
`
	table, err := Ingest(context.Background(), strings.NewReader(input), s, IngestOptions{ObjectMode: true})
	require.NoError(t, err)
	require.Len(t, table.Records, 2)

	assert.Equal(t, []string{"10:00", "7", "INF up "}, table.Records[0].Cells)
	assert.Equal(t, models.SeverityInfo, table.Records[0].Severity)
	assert.Equal(t, []string{"not an object", "still decoded", ""}, table.Records[1].Cells)
}

func TestIngestRefusesFieldMismatch(t *testing.T) {
	s := schemaWith(3, ",")
	s.Fields = []models.FieldSpec{{Name: "only"}}

	_, err := Ingest(context.Background(), strings.NewReader("{}"), s, IngestOptions{ObjectMode: true})
	assert.ErrorIs(t, err, models.ErrFieldListMismatch)
}

func TestIngestCancelledKeepsPartialTable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	table, err := Ingest(ctx, strings.NewReader(sampleLog), threeColumnSchema(), IngestOptions{})
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, table)
	assert.Empty(t, table.Records)
}

func TestIngestFileProgress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte(sampleLog), 0644))

	var lastLines int
	var lastTotal int64
	table, err := IngestFile(context.Background(), path, threeColumnSchema(), IngestOptions{
		OnProgress: func(lines int, _ int64, total int64) {
			lastLines, lastTotal = lines, total
		},
	})
	require.NoError(t, err)
	assert.Len(t, table.Records, 6)
	assert.Equal(t, 6, lastLines)
	assert.Equal(t, int64(len(sampleLog)), lastTotal)
}

func TestIngestLongLines(t *testing.T) {
	long := "ERR " + strings.Repeat("x", 2<<20)
	input := "10:00:00,T1," + long + "\r\n10:00:01,T2,INF last line without newline"

	table, err := Ingest(context.Background(), strings.NewReader(input), threeColumnSchema(), IngestOptions{})
	require.NoError(t, err)
	require.Len(t, table.Records, 2)
	assert.Equal(t, long, table.Records[0].Cells[2])
	assert.Equal(t, models.SeverityError, table.Records[0].Severity)
	assert.Equal(t, "INF last line without newline", table.Records[1].Cells[2])
	assert.Equal(t, 2, table.Summary.Lines)
}

func TestIngestFileMissing(t *testing.T) {
	_, err := IngestFile(context.Background(), filepath.Join(t.TempDir(), "nope.log"), threeColumnSchema(), IngestOptions{})
	assert.Error(t, err)
}

func TestIngestThenValidate(t *testing.T) {
	s := schemaWith(2, "|")
	input := "1|{entry: Conn::Conn\n2|{entry: step\n3|}exit: step\n4|}exit: Conn::~Conn\n5|}exit: stray\n"

	table, err := Ingest(context.Background(), strings.NewReader(input), s, IngestOptions{})
	require.NoError(t, err)

	rep, err := Validate(context.Background(), &table.Schema, table.Records)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, rep.InconsistentExitLines)
	assert.Empty(t, rep.UnmatchedConstructs)
}
