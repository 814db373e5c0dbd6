// routes.go - Route registration helpers
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tracelens/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store      storage.Store
	SessionMgr SessionManager
	UploadJobs UploadJobs
	Schemas    SchemaProvider
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
	Version string
}

// Handlers holds all handler instances
type Handlers struct {
	Health   HealthHandler
	Files    FileHandler
	Parse    ParseHandler
	Schema   SchemaHandler
	Progress ProgressHandler
	Metrics  http.Handler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:   NewHealthHandler(deps.Version),
		Files:    NewFileHandler(deps.Store, deps.SessionMgr, deps.UploadJobs),
		Parse:    NewParseHandler(deps.Store, deps.SessionMgr, deps.Schemas),
		Schema:   NewSchemaHandler(deps.Schemas),
		Progress: NewWebSocketHandler(deps.SessionMgr, deps.Logger),
		Metrics:  deps.Metrics,
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/health", handlers.Health.HandleHealth)

	// File routes
	files := e.Group("/api/files")
	files.POST("/upload", handlers.Files.HandleUploadFile)
	files.GET("/recent", handlers.Files.HandleGetRecentFiles)
	files.GET("/jobs/:jobId", handlers.Files.HandleGetUploadJob)
	files.GET("/:id", handlers.Files.HandleGetFile)
	files.DELETE("/:id", handlers.Files.HandleDeleteFile)

	// Parse session routes
	parse := e.Group("/api/parse")
	parse.POST("", handlers.Parse.HandleStartParse)
	parse.GET("", handlers.Parse.HandleListSessions)
	parse.GET("/:sessionId/status", handlers.Parse.HandleParseStatus)
	parse.POST("/:sessionId/keepalive", handlers.Parse.HandleSessionKeepAlive)
	parse.DELETE("/:sessionId", handlers.Parse.HandleCancelParse)
	parse.POST("/:sessionId/reload", handlers.Parse.HandleReload)
	parse.GET("/:sessionId/records", handlers.Parse.HandleRecords)
	parse.GET("/:sessionId/summary", handlers.Parse.HandleSummary)
	parse.GET("/:sessionId/threads", handlers.Parse.HandleThreads)
	parse.POST("/:sessionId/validate", handlers.Parse.HandleValidate)
	parse.GET("/:sessionId/search", handlers.Parse.HandleSearch)
	parse.GET("/:sessionId/exceptions", handlers.Parse.HandleExceptions)
	parse.PUT("/:sessionId/filter", handlers.Parse.HandleSetFilter)
	parse.DELETE("/:sessionId/filter", handlers.Parse.HandleClearFilter)
	parse.GET("/:sessionId/report", handlers.Parse.HandleReport)

	// Schema routes
	e.GET("/api/schema", handlers.Schema.HandleGetSchema)
	e.PUT("/api/schema", handlers.Schema.HandlePutSchema)
	e.GET("/api/schema/profiles", handlers.Schema.HandleListProfiles)

	// Progress stream
	e.GET("/ws/parse/:sessionId", handlers.Progress.HandleProgressSocket)

	if handlers.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(handlers.Metrics))
	}
}

// MiddlewareOptions configures SetupMiddleware
type MiddlewareOptions struct {
	Logger         *slog.Logger
	ShowDetails    bool
	EnableCORS     bool
	AllowOrigins   string
	BodyLimit      string
	RequestLogging bool
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, opts MiddlewareOptions) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e.HTTPErrorHandler = NewErrorHandler(logger, opts.ShowDetails)

	e.Use(middleware.Recover())

	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Request().URL.Path, "/ws/")
		},
	}))

	if opts.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.BodyLimit))
	}

	if opts.EnableCORS {
		origins := strings.Split(opts.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		}))
	}

	if opts.RequestLogging {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogMethod:   true,
			LogURI:      true,
			LogStatus:   true,
			LogLatency:  true,
			LogError:    true,
			HandleError: true,
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return strings.HasSuffix(path, "/status") || path == "/api/health" || path == "/metrics"
			},
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
				if v.Error != nil {
					logger.Warn("request", append(attrs, "error", v.Error)...)
					return nil
				}
				logger.Info("request", attrs...)
				return nil
			},
		}))
	}
}
