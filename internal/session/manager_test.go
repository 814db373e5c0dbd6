package session

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelens/backend/internal/metrics"
	"github.com/tracelens/backend/internal/models"
	"github.com/tracelens/backend/internal/parser"
)

const testLog = `2024-01-01 10:00:00,T1,INF service starting
2024-01-01 10:00:01,T2,{entry: Worker::Worker
2024-01-01 10:00:02,T1,WRN disk almost full
2024-01-01 10:00:03,T2,}exit: Worker::~Worker T2
2024-01-01 10:00:04,T3,ERR IOException while reading
2024-01-01 10:00:05,T1,{entry: Cache::Cache
`

func testSchema() models.Schema {
	s := models.DefaultSchema()
	s.Columns = 3
	s.Headers = nil
	s.Alignments = nil
	s.Fields = nil
	s.ThreadColumn = 2
	return s
}

func writeLog(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func startAndWait(t *testing.T, m *Manager, req StartRequest) *models.ParseSession {
	t.Helper()
	sess, err := m.Start(req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := m.Wait(ctx, sess.ID)
	require.NoError(t, err)
	return done
}

func TestManagerParseLifecycle(t *testing.T) {
	m := NewManager(Options{Metrics: metrics.New()})
	defer m.Close()

	sess := startAndWait(t, m, StartRequest{
		FileID:   "f1",
		FilePath: writeLog(t, "app.log", testLog),
		Schema:   testSchema(),
	})
	require.Equal(t, models.SessionStatusComplete, sess.Status)
	assert.Equal(t, "text", sess.Decoder)
	assert.Equal(t, 6, sess.RecordCount)
	assert.Equal(t, 3, sess.ThreadCount)
	assert.Equal(t, 100.0, sess.Progress)

	sum, err := m.Summary(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Lines)
	assert.Equal(t, 1, sum.Severity[models.SeverityError])

	threads, err := m.Threads(sess.ID)
	require.NoError(t, err)
	require.Len(t, threads, 3)
	assert.Equal(t, "T1", threads[0].ID)

	recs, total, err := m.Records(context.Background(), sess.ID, 2, 4, false)
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	require.Len(t, recs, 2)
	assert.Equal(t, 4, recs[0].LineNumber)
}

func TestManagerAnalysis(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()

	sess := startAndWait(t, m, StartRequest{FilePath: writeLog(t, "app.log", testLog), Schema: testSchema()})
	ctx := context.Background()

	rep, err := m.Validate(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, rep.InconsistentExitLines)
	assert.Equal(t, []models.UnmatchedConstruct{{Line: 5, Class: "Cache"}}, rep.UnmatchedConstructs)

	idx, err := m.Search(ctx, sess.ID, "disk", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, 3, idx)

	idx, err = m.Search(ctx, sess.ID, "disk", idx, -1)
	require.NoError(t, err)
	assert.Equal(t, parser.NotFound, idx)

	exc, err := m.Exceptions(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, exc)

	report, err := m.Report(ctx, sess.ID, "app.log")
	require.NoError(t, err)
	assert.Equal(t, "app.log", report.File)
	assert.Equal(t, []int{4}, report.Exceptions)
	assert.False(t, report.Validation.Clean())
}

func TestManagerThreadFilter(t *testing.T) {
	m := NewManager(Options{RecordsDir: t.TempDir()})
	defer m.Close()

	sess := startAndWait(t, m, StartRequest{FilePath: writeLog(t, "app.log", testLog), Schema: testSchema()})
	ctx := context.Background()

	require.NoError(t, m.SetThreadFilter(ctx, sess.ID, []string{"T2"}))

	recs, total, err := m.Records(ctx, sess.ID, 1, 100, true)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, r := range recs {
		assert.Equal(t, "T2", r.Cells[1])
	}

	// Hidden records are still returned when visibleOnly is off.
	_, total, err = m.Records(ctx, sess.ID, 1, 100, false)
	require.NoError(t, err)
	assert.Equal(t, 6, total)

	require.NoError(t, m.SetThreadFilter(ctx, sess.ID, nil))
	_, total, err = m.Records(ctx, sess.ID, 1, 100, true)
	require.NoError(t, err)
	assert.Equal(t, 6, total)
}

func TestManagerCompressedInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte(testLog))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	tempDir := t.TempDir()
	m := NewManager(Options{TempDir: tempDir})
	defer m.Close()

	sess := startAndWait(t, m, StartRequest{FilePath: path, Schema: testSchema()})
	require.Equal(t, models.SessionStatusComplete, sess.Status)
	assert.Equal(t, 6, sess.RecordCount)

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "expanded copy should be removed")
}

func TestManagerObjectDetection(t *testing.T) {
	content := `{"header":{"timestamp":"t0","pid":7,"loglevel":"INF"},"message":"hello"}
{"header":{"timestamp":"t1","pid":8,"loglevel":"ERR"},"message":"ERR boom"}
`
	m := NewManager(Options{})
	defer m.Close()

	sess := startAndWait(t, m, StartRequest{FilePath: writeLog(t, "obj.log", content), Schema: models.DefaultSchema()})
	require.Equal(t, models.SessionStatusComplete, sess.Status)
	assert.Equal(t, "object", sess.Decoder)
	assert.True(t, sess.ObjectMode)

	recs, _, err := m.Records(context.Background(), sess.ID, 1, 10, false)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "7", recs[0].Cells[1])
	assert.Equal(t, "ERR boom", recs[1].Last())
}

func TestManagerForcedTextMode(t *testing.T) {
	content := `{"message":"x"}` + "\n"
	text := false
	m := NewManager(Options{})
	defer m.Close()

	s := testSchema()
	sess := startAndWait(t, m, StartRequest{FilePath: writeLog(t, "obj.log", content), Schema: s, ObjectMode: &text})
	assert.Equal(t, "text", sess.Decoder)
	assert.False(t, sess.ObjectMode)
}

func TestManagerMissingFile(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()

	sess := startAndWait(t, m, StartRequest{FilePath: filepath.Join(t.TempDir(), "nope.log"), Schema: testSchema()})
	assert.Equal(t, models.SessionStatusError, sess.Status)
	require.NotEmpty(t, sess.Errors)

	_, err := m.Summary(sess.ID)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestManagerRejectsInvalidSchema(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()

	s := testSchema()
	s.Columns = 0
	_, err := m.Start(StartRequest{FilePath: "x", Schema: s})
	assert.ErrorIs(t, err, models.ErrInvalidSchema)
}

func TestManagerUnknownSession(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()

	_, ok := m.GetSession("missing")
	assert.False(t, ok)
	assert.ErrorIs(t, m.Cancel("missing"), ErrNotFound)
	assert.ErrorIs(t, m.Delete("missing"), ErrNotFound)
	_, err := m.Validate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Reload("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerReload(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()

	path := writeLog(t, "app.log", testLog)
	sess := startAndWait(t, m, StartRequest{FilePath: path, Schema: testSchema()})

	require.NoError(t, os.WriteFile(path, []byte(testLog+"2024-01-01 10:00:06,T4,INF more\n"), 0644))
	_, err := m.Reload(sess.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reloaded, err := m.Wait(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, reloaded.ID)
	assert.Equal(t, 7, reloaded.RecordCount)
	assert.Equal(t, 4, reloaded.ThreadCount)
}

func TestManagerConcurrentReload(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()

	path := writeLog(t, "app.log", testLog)
	sess := startAndWait(t, m, StartRequest{FilePath: path, Schema: testSchema()})

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Reload(sess.ID)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reloaded, err := m.Wait(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusComplete, reloaded.Status)
	assert.Equal(t, 6, reloaded.RecordCount)
}

func TestManagerDeleteAndCleanup(t *testing.T) {
	m := NewManager(Options{})
	defer m.Close()

	path := writeLog(t, "app.log", testLog)
	a := startAndWait(t, m, StartRequest{FilePath: path, Schema: testSchema()})
	b := startAndWait(t, m, StartRequest{FilePath: path, Schema: testSchema()})
	assert.Len(t, m.ListSessions(), 2)

	require.NoError(t, m.Delete(a.ID))
	_, ok := m.GetSession(a.ID)
	assert.False(t, ok)

	// Recently touched sessions survive inside the keep-alive window.
	m.CleanupOldSessions(time.Millisecond)
	_, ok = m.GetSession(b.ID)
	assert.True(t, ok)

	m.mu.Lock()
	m.sessions[b.ID].accessed = time.Now().Add(-time.Hour)
	m.mu.Unlock()
	m.CleanupOldSessions(time.Minute)
	_, ok = m.GetSession(b.ID)
	assert.False(t, ok)
}

func TestManagerSessionLimit(t *testing.T) {
	m := NewManager(Options{MaxSessions: 2})
	defer m.Close()

	path := writeLog(t, "app.log", testLog)
	first := startAndWait(t, m, StartRequest{FilePath: path, Schema: testSchema()})
	startAndWait(t, m, StartRequest{FilePath: path, Schema: testSchema()})
	startAndWait(t, m, StartRequest{FilePath: path, Schema: testSchema()})

	assert.Len(t, m.ListSessions(), 2)
	_, ok := m.GetSession(first.ID)
	assert.False(t, ok, "least recently used session should be evicted")
}
