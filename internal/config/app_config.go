// Package config loads the server configuration (XML) and the log schema
// and profile files (key=value).
package config

import (
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"TraceLens"`

	Server     ServerConfig     `xml:"Server"`
	Storage    StorageConfig    `xml:"Storage"`
	Processing ProcessingConfig `xml:"Processing"`
	Logging    LoggingConfig    `xml:"Logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `xml:"DataDirectory"`
	UploadsDirectory string `xml:"UploadsDirectory"`
	TempDirectory    string `xml:"TempDirectory"`
	RecordsDirectory string `xml:"RecordsDirectory"`
	PersistRecords   bool   `xml:"PersistRecords"`
}

// ProcessingConfig contains ingestion settings
type ProcessingConfig struct {
	SchemaFile             string `xml:"SchemaFile"`
	ProfileDirectory       string `xml:"ProfileDirectory"`
	SessionTimeoutMinutes  int    `xml:"SessionTimeoutMinutes"`
	CleanupIntervalMinutes int    `xml:"CleanupIntervalMinutes"`
	MaxSessions            int    `xml:"MaxSessions"`
}

// LoggingConfig selects the slog handler
type LoggingConfig struct {
	Level          string `xml:"Level"`  // debug, info, warn, error
	Format         string `xml:"Format"` // text or json
	RequestLogging bool   `xml:"RequestLogging"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			BodyLimit:    "2G",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			TempDirectory:    "./data/temp",
			RecordsDirectory: "./data/records",
			PersistRecords:   false,
		},
		Processing: ProcessingConfig{
			SchemaFile:             "./data/schema.cfg",
			ProfileDirectory:       "./data/profiles",
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
			MaxSessions:            10,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			RequestLogging: true,
		},
	}
}

// LoadConfig loads configuration from XML file, writing the defaults when the
// file does not exist yet.
func LoadConfig(configPath string) (*AppConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		config.applyEnvironmentOverrides()
		config.resolvePaths(filepath.Dir(configPath))
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := xml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "<!-- TraceLens server configuration -->\n")
	content := append(header, output...)

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("TRACELENS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if dataDir := os.Getenv("TRACELENS_DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}
	if schema := os.Getenv("TRACELENS_SCHEMA"); schema != "" {
		c.Processing.SchemaFile = schema
	}
	if format := os.Getenv("TRACELENS_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.TempDirectory,
		&c.Storage.RecordsDirectory,
		&c.Processing.SchemaFile,
		&c.Processing.ProfileDirectory,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
		c.Storage.TempDirectory,
		c.Storage.RecordsDirectory,
		c.Processing.ProfileDirectory,
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// SlogLevel maps Logging.Level to a slog level. Unknown values map to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger builds the process logger described by the logging section.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// LevelFromFileLevel maps the 0..6 LogLevel of a schema file to a level name.
func LevelFromFileLevel(n int) string {
	switch {
	case n <= 1:
		return "debug"
	case n == 2:
		return "info"
	case n == 3:
		return "warn"
	}
	return "error"
}
