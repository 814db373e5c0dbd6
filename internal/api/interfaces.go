// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/tracelens/backend/internal/config"
	"github.com/tracelens/backend/internal/models"
	"github.com/tracelens/backend/internal/parser"
	"github.com/tracelens/backend/internal/session"
	"github.com/tracelens/backend/internal/upload"
)

// FileHandler handles uploaded log files
type FileHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleGetRecentFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
	HandleGetUploadJob(c echo.Context) error
}

// ParseHandler handles parsing session operations
type ParseHandler interface {
	HandleStartParse(c echo.Context) error
	HandleListSessions(c echo.Context) error
	HandleParseStatus(c echo.Context) error
	HandleSessionKeepAlive(c echo.Context) error
	HandleCancelParse(c echo.Context) error
	HandleReload(c echo.Context) error
	HandleRecords(c echo.Context) error
	HandleSummary(c echo.Context) error
	HandleThreads(c echo.Context) error
	HandleValidate(c echo.Context) error
	HandleSearch(c echo.Context) error
	HandleExceptions(c echo.Context) error
	HandleSetFilter(c echo.Context) error
	HandleClearFilter(c echo.Context) error
	HandleReport(c echo.Context) error
}

// SchemaHandler handles the active schema and profiles
type SchemaHandler interface {
	HandleGetSchema(c echo.Context) error
	HandlePutSchema(c echo.Context) error
	HandleListProfiles(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// ProgressHandler streams parse progress over a websocket
type ProgressHandler interface {
	HandleProgressSocket(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	Start(req session.StartRequest) (*models.ParseSession, error)
	GetSession(id string) (*models.ParseSession, bool)
	ListSessions() []*models.ParseSession
	TouchSession(id string) bool
	Cancel(id string) error
	Reload(id string) (*models.ParseSession, error)
	Delete(id string) error
	Records(ctx context.Context, id string, page, pageSize int, visibleOnly bool) ([]models.Record, int, error)
	Schema(id string) (models.Schema, error)
	Summary(id string) (models.Summary, error)
	Threads(id string) ([]models.ThreadInfo, error)
	Validate(ctx context.Context, id string) (*models.ValidationReport, error)
	Search(ctx context.Context, id, query string, start, column int) (int, error)
	Exceptions(ctx context.Context, id string) ([]int, error)
	SetThreadFilter(ctx context.Context, id string, threads []string) error
	Report(ctx context.Context, id, fileName string) (*parser.ResultReport, error)
}

// SchemaProvider resolves the schema a session is ingested with
type SchemaProvider interface {
	Current() *config.SchemaFile
	Schema(profile string) (models.Schema, error)
	Replace(f *config.SchemaFile) error
	Profiles() ([]string, error)
}

// UploadJobs runs post-upload processing such as .gz expansion
type UploadJobs interface {
	StartJob(info *models.FileInfo) *upload.Job
	GetJob(id string) (upload.Job, bool)
}

var (
	_ SessionManager = (*session.Manager)(nil)
	_ SchemaProvider = (*config.SchemaSource)(nil)
	_ UploadJobs     = (*upload.Manager)(nil)
)
