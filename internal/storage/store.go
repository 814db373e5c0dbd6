// Package storage keeps uploaded log files on the local filesystem.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tracelens/backend/internal/models"
)

// ErrNotFound is returned for unknown file ids.
var ErrNotFound = errors.New("file not found")

const indexFile = "index.json"

// Store defines the interface for file storage.
type Store interface {
	Save(name string, r io.Reader) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	List(limit int) ([]*models.FileInfo, error)
	Delete(id string) error
	GetFilePath(id string) (string, error)
	RegisterFile(info *models.FileInfo) error
	SetStatus(id, status string) error
}

// LocalStore implements Store using the local filesystem. Metadata is kept in
// an index file next to the uploads so recent files survive a restart.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	files     map[string]*models.FileInfo
}

// NewLocalStore creates a new LocalStore and loads an existing index.
func NewLocalStore(uploadDir string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	s := &LocalStore{
		uploadDir: uploadDir,
		files:     make(map[string]*models.FileInfo),
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.uploadDir, indexFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading index: %w", err)
	}

	var list []*models.FileInfo
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decoding index: %w", err)
	}
	for _, info := range list {
		if _, err := os.Stat(filepath.Join(s.uploadDir, info.ID)); err == nil {
			s.files[info.ID] = info
		}
	}
	return nil
}

// saveIndex must be called with s.mu held.
func (s *LocalStore) saveIndex() error {
	list := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	tmp := filepath.Join(s.uploadDir, indexFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return os.Rename(tmp, filepath.Join(s.uploadDir, indexFile))
}

// Save saves a file to the local filesystem. Names ending in .gz are marked
// compressed so they get expanded before ingestion.
func (s *LocalStore) Save(name string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.New().String()
	path := filepath.Join(s.uploadDir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		Size:       size,
		Compressed: strings.HasSuffix(strings.ToLower(name), ".gz"),
		UploadedAt: time.Now(),
		Status:     "uploaded",
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = info
	if err := s.saveIndex(); err != nil {
		return nil, err
	}

	return info, nil
}

// Get retrieves file metadata by ID.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return info, nil
}

// List returns the most recent files.
func (s *LocalStore) List(limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Delete removes a file from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	path := filepath.Join(s.uploadDir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}

	delete(s.files, id)
	return s.saveIndex()
}

// GetFilePath returns the absolute path to a file.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.files[id]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return filepath.Join(s.uploadDir, id), nil
}

// RegisterFile replaces the metadata of a file, e.g. after decompression.
func (s *LocalStore) RegisterFile(info *models.FileInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[info.ID] = info
	return s.saveIndex()
}

// SetStatus updates the processing status shown for a file.
func (s *LocalStore) SetStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	info.Status = status
	return s.saveIndex()
}
