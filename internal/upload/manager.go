// Package upload post-processes uploaded logs, expanding gzip archives into
// plain text before they can be ingested.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tracelens/backend/internal/models"
)

// Status represents the upload processing status.
type Status string

const (
	StatusProcessing    Status = "processing"
	StatusDecompressing Status = "decompressing"
	StatusComplete      Status = "complete"
	StatusError         Status = "error"
)

// Job represents an async upload processing job.
type Job struct {
	ID          string           `json:"id"`
	FileID      string           `json:"fileId"`
	FileName    string           `json:"fileName"`
	Status      Status           `json:"status"`
	Progress    float64          `json:"progress"`
	Stage       string           `json:"stage"`
	FileInfo    *models.FileInfo `json:"fileInfo,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// Store defines the interface needed from storage layer.
type Store interface {
	GetFilePath(id string) (string, error)
	RegisterFile(info *models.FileInfo) error
}

// Manager handles async upload processing.
type Manager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	store  Store
	logger *slog.Logger
}

// NewManager creates a new upload processing manager.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		jobs:   make(map[string]*Job),
		store:  store,
		logger: logger.With("component", "upload"),
	}
}

// StartJob begins async processing of an uploaded file.
func (m *Manager) StartJob(info *models.FileInfo) *Job {
	job := &Job{
		ID:        uuid.New().String(),
		FileID:    info.ID,
		FileName:  info.Name,
		Status:    StatusProcessing,
		Stage:     "preparing",
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	go m.processJob(job, info)
	return job
}

// Process runs a job synchronously and returns the resulting file info.
func (m *Manager) Process(ctx context.Context, info *models.FileInfo) (*models.FileInfo, error) {
	if !info.Compressed {
		return info, nil
	}
	path, err := m.store.GetFilePath(info.ID)
	if err != nil {
		return nil, err
	}

	expanded := path + ".expanding"
	size, err := Expand(ctx, path, expanded, nil)
	if err != nil {
		return nil, err
	}
	if err := os.Rename(expanded, path); err != nil {
		os.Remove(expanded)
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}

	out := *info
	out.Size = size
	out.Compressed = false
	out.Name = strings.TrimSuffix(strings.TrimSuffix(info.Name, ".gz"), ".GZ")
	if err := m.store.RegisterFile(&out); err != nil {
		return nil, fmt.Errorf("failed to register expanded file: %w", err)
	}
	return &out, nil
}

// GetJob retrieves a job by ID.
func (m *Manager) GetJob(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

func (m *Manager) processJob(job *Job, info *models.FileInfo) {
	log := m.logger.With("job", job.ID, "file", info.ID)
	log.Info("processing upload", "name", info.Name, "size", info.Size, "compressed", info.Compressed)

	if info.Compressed {
		m.update(job, StatusDecompressing, "decompressing file", 10)
	}

	out, err := m.Process(context.Background(), info)
	if err != nil {
		m.markJobError(job, err.Error())
		log.Error("upload processing failed", "error", err)
		return
	}

	m.mu.Lock()
	job.FileInfo = out
	job.Status = StatusComplete
	job.Stage = "done"
	job.Progress = 100
	now := time.Now()
	job.CompletedAt = &now
	m.mu.Unlock()

	log.Info("upload ready", "size", out.Size)
}

func (m *Manager) update(job *Job, status Status, stage string, progress float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.Status = status
	job.Stage = stage
	job.Progress = progress
}

func (m *Manager) markJobError(job *Job, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.Status = StatusError
	job.Error = errMsg
	now := time.Now()
	job.CompletedAt = &now
}

// CleanupOldJobs removes finished jobs older than maxAge.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, job := range m.jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
		}
	}
}
