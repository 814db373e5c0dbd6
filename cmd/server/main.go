package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tracelens/backend/internal/api"
	"github.com/tracelens/backend/internal/config"
	"github.com/tracelens/backend/internal/metrics"
	"github.com/tracelens/backend/internal/session"
	"github.com/tracelens/backend/internal/storage"
	"github.com/tracelens/backend/internal/upload"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := os.Getenv("TRACELENS_CONFIG")
	if configPath == "" {
		// Get the executable's directory for config resolution
		exePath, err := os.Executable()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to get executable path: %v\n", err)
			os.Exit(1)
		}
		configPath = filepath.Join(filepath.Dir(exePath), "tracelens.config.xml")
	}

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "tracelens-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	schemas, err := config.NewSchemaSource(cfg.Processing.SchemaFile, cfg.Processing.ProfileDirectory)
	if err != nil {
		return err
	}

	// An empty level defers to the schema file's LogLevel.
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = config.LevelFromFileLevel(schemas.Current().LogLevel)
	}
	logger := cfg.Logging.NewLogger(os.Stderr)

	fileStore, err := storage.NewLocalStore(cfg.Storage.UploadsDirectory)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	m := metrics.New()

	recordsDir := ""
	if cfg.Storage.PersistRecords {
		recordsDir = cfg.Storage.RecordsDirectory
	}
	sessionMgr := session.NewManager(session.Options{
		TempDir:     cfg.Storage.TempDirectory,
		RecordsDir:  recordsDir,
		MaxSessions: cfg.Processing.MaxSessions,
		Metrics:     m,
		Logger:      logger,
	})
	defer sessionMgr.Close()

	uploadMgr := upload.NewManager(fileStore, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background session cleanup
	go func() {
		interval := time.Duration(cfg.Processing.CleanupIntervalMinutes) * time.Minute
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		maxAge := time.Duration(cfg.Processing.SessionTimeoutMinutes) * time.Minute
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sessionMgr.CleanupOldSessions(maxAge)
				uploadMgr.CleanupOldJobs(maxAge)
			case <-ctx.Done():
				return
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.SetupMiddleware(e, api.MiddlewareOptions{
		Logger:         logger,
		ShowDetails:    cfg.Logging.SlogLevel() == slog.LevelDebug,
		EnableCORS:     cfg.Server.EnableCORS,
		AllowOrigins:   cfg.Server.AllowOrigins,
		BodyLimit:      cfg.Server.BodyLimit,
		RequestLogging: cfg.Logging.RequestLogging,
	})
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:      fileStore,
		SessionMgr: sessionMgr,
		UploadJobs: uploadMgr,
		Schemas:    schemas,
		Metrics:    m.Handler(),
		Logger:     logger,
		Version:    Version,
	}))

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           TraceLens Server                                ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Schema:    %-46s║\n", cfg.Processing.SchemaFile)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.Storage.DataDirectory)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", s.Addr)
		errCh <- e.StartServer(s)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
