// handlers_parse.go - Parse session operation handlers
package api

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tracelens/backend/internal/models"
	"github.com/tracelens/backend/internal/parser"
	"github.com/tracelens/backend/internal/session"
	"github.com/tracelens/backend/internal/storage"
)

const (
	defaultPageSize = 200
	maxPageSize     = 5000

	mimeMsgpack = "application/x-msgpack"
)

// ParseHandlerImpl implements the ParseHandler interface
type ParseHandlerImpl struct {
	store      storage.Store
	sessionMgr SessionManager
	schemas    SchemaProvider
}

// NewParseHandler creates a new parse handler instance
func NewParseHandler(store storage.Store, sessionMgr SessionManager, schemas SchemaProvider) ParseHandler {
	return &ParseHandlerImpl{
		store:      store,
		sessionMgr: sessionMgr,
		schemas:    schemas,
	}
}

// HandleStartParse starts ingesting an uploaded file
func (h *ParseHandlerImpl) HandleStartParse(c echo.Context) error {
	var req startParseRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.FileID == "" {
		return NewValidationError("fileId")
	}

	info, err := h.store.Get(req.FileID)
	if err != nil {
		return NewNotFoundError("file", req.FileID)
	}
	if info.Compressed {
		return NewConflictError("file is still being expanded: " + req.FileID)
	}
	path, err := h.store.GetFilePath(req.FileID)
	if err != nil {
		return NewInternalError("failed to get file path", err)
	}

	schema, err := h.schemas.Schema(req.Profile)
	if err != nil {
		return FromError("failed to resolve schema", err)
	}

	sess, err := h.sessionMgr.Start(session.StartRequest{
		FileID:     info.ID,
		FilePath:   path,
		Schema:     schema,
		ObjectMode: req.ObjectMode,
		Profile:    req.Profile,
	})
	if err != nil {
		return FromError("failed to start session", err)
	}
	h.store.SetStatus(info.ID, "parsed")

	return c.JSON(http.StatusAccepted, sess)
}

// HandleListSessions returns every live session
func (h *ParseHandlerImpl) HandleListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.sessionMgr.ListSessions())
}

// HandleParseStatus returns the current status of a parsing session
func (h *ParseHandlerImpl) HandleParseStatus(c echo.Context) error {
	id := c.Param("sessionId")
	sess, ok := h.sessionMgr.GetSession(id)
	if !ok {
		return NewNotFoundError("session", id)
	}

	// Touch session to prevent cleanup while being viewed
	h.sessionMgr.TouchSession(id)

	return c.JSON(http.StatusOK, sess)
}

// HandleSessionKeepAlive extends session lifetime for active viewing
func (h *ParseHandlerImpl) HandleSessionKeepAlive(c echo.Context) error {
	id := c.Param("sessionId")
	if ok := h.sessionMgr.TouchSession(id); !ok {
		return NewNotFoundError("session", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleCancelParse stops a running ingestion; the records read so far stay
// available. With ?purge=true the session is removed instead.
func (h *ParseHandlerImpl) HandleCancelParse(c echo.Context) error {
	id := c.Param("sessionId")
	if c.QueryParam("purge") == "true" {
		if err := h.sessionMgr.Delete(id); err != nil {
			return FromError("failed to delete session", err)
		}
		return c.NoContent(http.StatusNoContent)
	}
	if err := h.sessionMgr.Cancel(id); err != nil {
		return FromError("failed to cancel session", err)
	}
	return c.NoContent(http.StatusAccepted)
}

// HandleReload re-ingests the session's file
func (h *ParseHandlerImpl) HandleReload(c echo.Context) error {
	sess, err := h.sessionMgr.Reload(c.Param("sessionId"))
	if err != nil {
		return FromError("failed to reload session", err)
	}
	return c.JSON(http.StatusAccepted, sess)
}

// HandleRecords returns one page of records as JSON or MessagePack
func (h *ParseHandlerImpl) HandleRecords(c echo.Context) error {
	id := c.Param("sessionId")

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("pageSize"))
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	visibleOnly := c.QueryParam("all") != "true"

	records, total, err := h.sessionMgr.Records(c.Request().Context(), id, page, pageSize, visibleOnly)
	if err != nil {
		return FromError("failed to read records", err)
	}

	resp := recordsResponse{
		Records:  records,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	}
	if schema, err := h.sessionMgr.Schema(id); err == nil {
		resp.Headers = headersOf(&schema)
	}

	if wantsMsgpack(c) {
		data, err := msgpack.Marshal(resp)
		if err != nil {
			return NewInternalError("failed to encode msgpack", err)
		}
		return c.Blob(http.StatusOK, mimeMsgpack, data)
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleSummary returns the ingestion counters
func (h *ParseHandlerImpl) HandleSummary(c echo.Context) error {
	sum, err := h.sessionMgr.Summary(c.Param("sessionId"))
	if err != nil {
		return FromError("failed to read summary", err)
	}
	return c.JSON(http.StatusOK, sum)
}

// HandleThreads returns the thread ids and their colors
func (h *ParseHandlerImpl) HandleThreads(c echo.Context) error {
	threads, err := h.sessionMgr.Threads(c.Param("sessionId"))
	if err != nil {
		return FromError("failed to read threads", err)
	}
	return c.JSON(http.StatusOK, threads)
}

// HandleValidate runs block and lifecycle validation
func (h *ParseHandlerImpl) HandleValidate(c echo.Context) error {
	rep, err := h.sessionMgr.Validate(c.Request().Context(), c.Param("sessionId"))
	if err != nil {
		return FromError("validation failed", err)
	}
	return c.JSON(http.StatusOK, validateResponse{ValidationReport: rep, Clean: rep.Clean()})
}

// HandleSearch finds the next record whose column contains q
func (h *ParseHandlerImpl) HandleSearch(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return NewValidationError("q")
	}
	start, err := intQuery(c, "start", 0)
	if err != nil {
		return err
	}
	column, err := intQuery(c, "column", -1)
	if err != nil {
		return err
	}

	idx, err := h.sessionMgr.Search(c.Request().Context(), c.Param("sessionId"), q, start, column)
	if err != nil {
		return FromError("search failed", err)
	}
	return c.JSON(http.StatusOK, searchResponse{Index: idx, Found: idx != parser.NotFound})
}

// HandleExceptions lists lines mentioning an exception
func (h *ParseHandlerImpl) HandleExceptions(c echo.Context) error {
	lines, err := h.sessionMgr.Exceptions(c.Request().Context(), c.Param("sessionId"))
	if err != nil {
		return FromError("exception scan failed", err)
	}
	return c.JSON(http.StatusOK, map[string][]int{"lines": lines})
}

// HandleSetFilter shows only the listed threads
func (h *ParseHandlerImpl) HandleSetFilter(c echo.Context) error {
	var req filterRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := h.sessionMgr.SetThreadFilter(c.Request().Context(), c.Param("sessionId"), req.Threads); err != nil {
		return FromError("failed to apply filter", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleClearFilter shows every thread again
func (h *ParseHandlerImpl) HandleClearFilter(c echo.Context) error {
	if err := h.sessionMgr.SetThreadFilter(c.Request().Context(), c.Param("sessionId"), nil); err != nil {
		return FromError("failed to clear filter", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleReport renders the result report in the requested format
func (h *ParseHandlerImpl) HandleReport(c echo.Context) error {
	id := c.Param("sessionId")
	format, err := parser.ParseExportFormat(c.QueryParam("format"))
	if err != nil {
		return FromError("invalid format", err)
	}

	sess, ok := h.sessionMgr.GetSession(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	fileName := sess.FileID
	if info, err := h.store.Get(sess.FileID); err == nil {
		fileName = info.Name
	}

	rep, err := h.sessionMgr.Report(c.Request().Context(), id, fileName)
	if err != nil {
		return FromError("failed to build report", err)
	}

	var buf bytes.Buffer
	if err := parser.ExportReport(&buf, rep, format); err != nil {
		return NewInternalError("failed to render report", err)
	}
	return c.Blob(http.StatusOK, reportContentType(format), buf.Bytes())
}

// Request/Response types

type startParseRequest struct {
	FileID     string `json:"fileId"`
	ObjectMode *bool  `json:"objectMode,omitempty"`
	Profile    string `json:"profile,omitempty"`
}

type recordsResponse struct {
	Records  []models.Record `json:"records" msgpack:"records"`
	Headers  []string        `json:"headers,omitempty" msgpack:"headers,omitempty"`
	Page     int             `json:"page" msgpack:"page"`
	PageSize int             `json:"pageSize" msgpack:"pageSize"`
	Total    int             `json:"total" msgpack:"total"`
}

type validateResponse struct {
	*models.ValidationReport
	Clean bool `json:"clean"`
}

type searchResponse struct {
	Index int  `json:"index"`
	Found bool `json:"found"`
}

type filterRequest struct {
	Threads []string `json:"threads"`
}

// Helper methods

func headersOf(s *models.Schema) []string {
	out := make([]string, s.Columns)
	for i := range out {
		out[i] = s.Header(i)
	}
	return out
}

func wantsMsgpack(c echo.Context) bool {
	if c.QueryParam("format") == "msgpack" {
		return true
	}
	accept := c.Request().Header.Get(echo.HeaderAccept)
	return strings.Contains(accept, mimeMsgpack) || strings.Contains(accept, "application/msgpack")
}

func intQuery(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, NewBadRequestError("invalid "+name, err)
	}
	return n, nil
}

func reportContentType(f parser.ExportFormat) string {
	switch f {
	case parser.FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case parser.FormatHTML:
		return echo.MIMETextHTMLCharsetUTF8
	case parser.FormatYAML:
		return "application/yaml"
	}
	return echo.MIMETextPlainCharsetUTF8
}
