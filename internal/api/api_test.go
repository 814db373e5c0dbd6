package api

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tracelens/backend/internal/config"
	"github.com/tracelens/backend/internal/metrics"
	"github.com/tracelens/backend/internal/models"
	"github.com/tracelens/backend/internal/session"
	"github.com/tracelens/backend/internal/testutil"
	"github.com/tracelens/backend/internal/upload"
)

const apiLog = `2024-01-01 10:00:00,T1,INF service starting
2024-01-01 10:00:01,T2,{entry: Worker::Worker
2024-01-01 10:00:02,T1,WRN disk almost full
2024-01-01 10:00:03,T2,}exit: Worker::~Worker T2
2024-01-01 10:00:04,T3,ERR IOException while reading
2024-01-01 10:00:05,T1,{entry: Cache::Cache
`

const threeColumnSchema = `# three columns
Columns=3
ColumnThreadID=2
Headers=Time|Thread|Message
ColAligns=l,r,l
Values=
`

type testServer struct {
	e        *echo.Echo
	store    *testutil.MockStorage
	sessions *session.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	store := testutil.NewMockStorage(dir)
	schemas, err := config.NewSchemaSource(filepath.Join(dir, "schema.cfg"), filepath.Join(dir, "profiles"))
	require.NoError(t, err)
	m := metrics.New()
	sessions := session.NewManager(session.Options{TempDir: filepath.Join(dir, "tmp"), Metrics: m})
	t.Cleanup(sessions.Close)

	e := echo.New()
	SetupMiddleware(e, MiddlewareOptions{ShowDetails: true})
	RegisterRoutes(e, NewHandlers(&Dependencies{
		Store:      store,
		SessionMgr: sessions,
		UploadJobs: upload.NewManager(store, nil),
		Schemas:    schemas,
		Metrics:    m.Handler(),
		Version:    "test",
	}))
	return &testServer{e: e, store: store, sessions: sessions}
}

func (s *testServer) do(method, target string, body []byte, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doJSON(method, target string, v any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(v)
	return s.do(method, target, body, echo.HeaderContentType, echo.MIMEApplicationJSON)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// startParsed uploads apiLog under the three column schema and waits for the
// session to complete.
func (s *testServer) startParsed(t *testing.T) string {
	t.Helper()
	rec := s.do(http.MethodPut, "/api/schema", []byte(threeColumnSchema), echo.HeaderContentType, echo.MIMETextPlain)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	s.store.AddFile("log-1", "app.log", []byte(apiLog))
	rec = s.doJSON(http.MethodPost, "/api/parse", map[string]string{"fileId": "log-1"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	sess := decode[models.ParseSession](t, rec)

	require.Eventually(t, func() bool {
		got, ok := s.sessions.GetSession(sess.ID)
		return ok && got.Done()
	}, 10*time.Second, 10*time.Millisecond)
	return sess.ID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func multipartBody(t *testing.T, name string, data []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes(), w.FormDataContentType()
}

func TestFileLifecycle(t *testing.T) {
	s := newTestServer(t)

	body, ct := multipartBody(t, "app.log", []byte(apiLog))
	rec := s.do(http.MethodPost, "/api/files/upload", body, echo.HeaderContentType, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	info := decode[models.FileInfo](t, rec)
	assert.Equal(t, "app.log", info.Name)
	assert.Equal(t, int64(len(apiLog)), info.Size)

	rec = s.do(http.MethodGet, "/api/files/recent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.FileInfo](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/files/"+info.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodDelete, "/api/files/"+info.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/api/files/"+info.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode[APIError](t, rec).Code)
}

func TestUploadMissingFile(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/files/upload", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompressedUploadIsExpanded(t *testing.T) {
	s := newTestServer(t)

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write([]byte(apiLog))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	body, ct := multipartBody(t, "app.log.gz", gz.Bytes())
	rec := s.do(http.MethodPost, "/api/files/upload", body, echo.HeaderContentType, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[map[string]any](t, rec)
	jobID, _ := resp["jobId"].(string)
	require.NotEmpty(t, jobID)
	fileID, _ := resp["id"].(string)

	require.Eventually(t, func() bool {
		rec := s.do(http.MethodGet, "/api/files/jobs/"+jobID, nil)
		return rec.Code == http.StatusOK && decode[upload.Job](t, rec).Status == upload.StatusComplete
	}, 5*time.Second, 10*time.Millisecond)

	info, err := s.store.Get(fileID)
	require.NoError(t, err)
	assert.False(t, info.Compressed)
	assert.Equal(t, "app.log", info.Name)
	assert.Equal(t, int64(len(apiLog)), info.Size)
}

func TestParseFlow(t *testing.T) {
	s := newTestServer(t)
	id := s.startParsed(t)
	base := "/api/parse/" + id

	rec := s.do(http.MethodGet, base+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sess := decode[models.ParseSession](t, rec)
	assert.Equal(t, models.SessionStatusComplete, sess.Status)
	assert.Equal(t, 6, sess.RecordCount)

	rec = s.do(http.MethodGet, base+"/records?page=1&pageSize=4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[recordsResponse](t, rec)
	assert.Equal(t, 6, page.Total)
	require.Len(t, page.Records, 4)
	assert.Equal(t, []string{"Time", "Thread", "Message"}, page.Headers)
	assert.Equal(t, "WRN disk almost full", page.Records[2].Cells[2])

	rec = s.do(http.MethodGet, base+"/records?page=2&pageSize=4", nil, echo.HeaderAccept, mimeMsgpack)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mimeMsgpack, rec.Header().Get(echo.HeaderContentType))
	var packed recordsResponse
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &packed))
	require.Len(t, packed.Records, 2)
	assert.Equal(t, 4, packed.Records[0].LineNumber)

	rec = s.do(http.MethodGet, base+"/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, decode[models.Summary](t, rec).Lines)

	rec = s.do(http.MethodGet, base+"/threads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	threads := decode[[]models.ThreadInfo](t, rec)
	require.Len(t, threads, 3)
	assert.Equal(t, "T1", threads[0].ID)

	rec = s.do(http.MethodPost, base+"/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rep := decode[validateResponse](t, rec)
	assert.False(t, rep.Clean)
	assert.Empty(t, rep.InconsistentExitLines)
	assert.Equal(t, []models.UnmatchedConstruct{{Line: 5, Class: "Cache"}}, rep.UnmatchedConstructs)

	rec = s.do(http.MethodGet, base+"/search?q=disk", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, searchResponse{Index: 3, Found: true}, decode[searchResponse](t, rec))

	rec = s.do(http.MethodGet, base+"/search?q=disk&start=3", nil)
	assert.Equal(t, searchResponse{Index: -1}, decode[searchResponse](t, rec))

	rec = s.do(http.MethodGet, base+"/exceptions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string][]int{"lines": {4}}, decode[map[string][]int](t, rec))
}

func TestThreadFilter(t *testing.T) {
	s := newTestServer(t)
	base := "/api/parse/" + s.startParsed(t)

	rec := s.doJSON(http.MethodPut, base+"/filter", filterRequest{Threads: []string{"T1"}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	page := decode[recordsResponse](t, s.do(http.MethodGet, base+"/records", nil))
	assert.Equal(t, 3, page.Total)

	page = decode[recordsResponse](t, s.do(http.MethodGet, base+"/records?all=true", nil))
	assert.Equal(t, 6, page.Total)
	assert.True(t, page.Records[1].Hidden)

	rec = s.do(http.MethodDelete, base+"/filter", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	page = decode[recordsResponse](t, s.do(http.MethodGet, base+"/records", nil))
	assert.Equal(t, 6, page.Total)
}

func TestReport(t *testing.T) {
	s := newTestServer(t)
	base := "/api/parse/" + s.startParsed(t)

	rec := s.do(http.MethodGet, base+"/report?format=md", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/markdown")
	assert.Contains(t, rec.Body.String(), "app.log")
	assert.Contains(t, rec.Body.String(), "Class Cache constructed in line 6 was not destroyed")

	rec = s.do(http.MethodGet, base+"/report?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelAndPurge(t *testing.T) {
	s := newTestServer(t)
	id := s.startParsed(t)

	rec := s.do(http.MethodDelete, "/api/parse/"+id, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = s.do(http.MethodDelete, "/api/parse/"+id+"?purge=true", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/api/parse/"+id+"/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.doJSON(http.MethodPost, "/api/parse", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode[APIError](t, rec).Code)

	rec = s.doJSON(http.MethodPost, "/api/parse", map[string]string{"fileId": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.store.AddFile("log-1", "app.log", []byte(apiLog))
	rec = s.doJSON(http.MethodPost, "/api/parse", map[string]string{"fileId": "log-1", "profile": "missing"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.store.AddFile("log-2", "app.log.gz", []byte("x"))
	rec = s.doJSON(http.MethodPost, "/api/parse", map[string]string{"fileId": "log-2"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/api/parse/unknown/summary", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	id := s.startParsed(t)
	rec = s.do(http.MethodGet, "/api/parse/"+id+"/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodGet, "/api/parse/"+id+"/search?q=x&start=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchemaEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/schema", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 8, decode[models.Schema](t, rec).Columns)

	rec = s.do(http.MethodGet, "/api/schema", nil, echo.HeaderAccept, echo.MIMETextPlain)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Columns=8")

	next := models.DefaultSchema()
	next.Delimiter = ";"
	rec = s.doJSON(http.MethodPut, "/api/schema", next)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, ";", decode[models.Schema](t, rec).Delimiter)

	bad := models.DefaultSchema()
	bad.Columns = 0
	rec = s.doJSON(http.MethodPut, "/api/schema", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/schema/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{}, decode[[]string](t, rec))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.startParsed(t)

	rec := s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "tracelens_ingest_runs_total"))
}
