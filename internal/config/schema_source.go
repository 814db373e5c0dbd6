package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tracelens/backend/internal/models"
)

// ProfileExt is the file extension of profile files.
const ProfileExt = ".profile"

// ErrUnknownProfile is returned when a named profile does not exist.
var ErrUnknownProfile = errors.New("unknown profile")

// SchemaSource holds the active schema file and resolves named profiles
// against a profile directory. It is safe for concurrent use.
type SchemaSource struct {
	mu         sync.RWMutex
	path       string
	profileDir string
	file       *SchemaFile
}

// NewSchemaSource loads the schema at path. A missing file yields the defaults.
func NewSchemaSource(path, profileDir string) (*SchemaSource, error) {
	f, err := LoadSchema(path)
	if err != nil {
		return nil, err
	}
	return &SchemaSource{path: path, profileDir: profileDir, file: f}, nil
}

// Current returns a copy of the active schema file.
func (s *SchemaSource) Current() *SchemaFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := *s.file
	out.Schema = s.file.Schema.Clone()
	return &out
}

// Schema returns the active schema, overlaid with the named profile if any.
// The active schema is not changed by a profile.
func (s *SchemaSource) Schema(profile string) (models.Schema, error) {
	cur := s.Current()
	if profile == "" {
		return cur.Schema, nil
	}
	path, err := s.ProfilePath(profile)
	if err != nil {
		return models.Schema{}, err
	}
	p, err := LoadProfile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.Schema{}, fmt.Errorf("%w: %s", ErrUnknownProfile, profile)
		}
		return models.Schema{}, err
	}
	return ApplyProfile(cur, *p).Schema, nil
}

// Replace validates f, writes it to disk and makes it the active schema.
func (s *SchemaSource) Replace(f *SchemaFile) error {
	if err := f.Schema.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path != "" {
		if err := SaveSchema(s.path, f); err != nil {
			return err
		}
	}
	s.file = f
	return nil
}

// ProfilePath maps a profile name to its file. Names must not contain path
// separators.
func (s *SchemaSource) ProfilePath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return filepath.Join(s.profileDir, name+ProfileExt), nil
}

// Profiles lists the profile names found in the profile directory.
func (s *SchemaSource) Profiles() ([]string, error) {
	entries, err := os.ReadDir(s.profileDir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ProfileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ProfileExt))
	}
	sort.Strings(names)
	return names, nil
}
