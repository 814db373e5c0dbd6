// Package testutil provides test doubles shared by package tests.
package testutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tracelens/backend/internal/models"
	"github.com/tracelens/backend/internal/storage"
)

// MockStorage implements storage.Store for testing. File contents are written
// under a caller supplied directory so GetFilePath returns real paths.
type MockStorage struct {
	mu    sync.RWMutex
	dir   string
	files map[string]*models.FileInfo
	next  int

	// SaveErr, when set, is returned by Save.
	SaveErr error
}

// NewMockStorage creates a mock storage rooted at dir.
func NewMockStorage(dir string) *MockStorage {
	return &MockStorage{
		dir:   dir,
		files: make(map[string]*models.FileInfo),
	}
}

func (m *MockStorage) Save(name string, r io.Reader) (*models.FileInfo, error) {
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.next++
	id := fmt.Sprintf("file-%d", m.next)
	m.mu.Unlock()
	return m.AddFile(id, name, data), nil
}

func (m *MockStorage) Get(id string) (*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	file, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	out := *file
	return &out, nil
}

func (m *MockStorage) List(limit int) ([]*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files := make([]*models.FileInfo, 0, len(m.files))
	for _, file := range m.files {
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.files[id]; !exists {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	delete(m.files, id)
	os.Remove(filepath.Join(m.dir, id))
	return nil
}

func (m *MockStorage) GetFilePath(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.files[id]; !ok {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return filepath.Join(m.dir, id), nil
}

func (m *MockStorage) RegisterFile(info *models.FileInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *info
	m.files[info.ID] = &out
	return nil
}

func (m *MockStorage) SetStatus(id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[id]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	file.Status = status
	return nil
}

// Ensure MockStorage implements storage.Store
var _ storage.Store = (*MockStorage)(nil)

// AddFile stores data under id directly.
func (m *MockStorage) AddFile(id string, name string, data []byte) *models.FileInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.WriteFile(filepath.Join(m.dir, id), data, 0644); err != nil {
		panic(err)
	}
	file := &models.FileInfo{
		ID:         id,
		Name:       name,
		Size:       int64(len(data)),
		Compressed: strings.HasSuffix(strings.ToLower(name), ".gz"),
		UploadedAt: time.Now(),
		Status:     "uploaded",
	}
	m.files[id] = file
	out := *file
	return &out
}

// GetFileCount returns the number of stored files
func (m *MockStorage) GetFileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}
