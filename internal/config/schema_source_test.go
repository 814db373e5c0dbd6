package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelens/backend/internal/models"
)

func TestSchemaSourceProfiles(t *testing.T) {
	dir := t.TempDir()
	profiles := filepath.Join(dir, "profiles")

	src, err := NewSchemaSource(filepath.Join(dir, "schema.ini"), profiles)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSchema().Columns, src.Current().Schema.Columns)

	names, err := src.Profiles()
	require.NoError(t, err)
	assert.Empty(t, names)

	p := models.DefaultSchema()
	p.Columns = 3
	p.Headers = nil
	p.Alignments = nil
	p.Fields = nil
	p.ThreadColumn = 2
	path, err := src.ProfilePath("short")
	require.NoError(t, err)
	require.NoError(t, SaveProfile(path, p))

	names, err = src.Profiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"short"}, names)

	s, err := src.Schema("short")
	require.NoError(t, err)
	assert.Equal(t, 3, s.Columns)
	assert.Equal(t, 8, src.Current().Schema.Columns, "profile must not change the active schema")

	_, err = src.Schema("missing")
	assert.ErrorIs(t, err, ErrUnknownProfile)
	_, err = src.Schema("../escape")
	assert.ErrorIs(t, err, ErrUnknownProfile)
}

func TestSchemaSourceReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.ini")
	src, err := NewSchemaSource(path, dir)
	require.NoError(t, err)

	f := src.Current()
	f.Schema.Delimiter = ";"
	require.NoError(t, src.Replace(f))
	assert.Equal(t, ";", src.Current().Schema.Delimiter)

	reloaded, err := LoadSchema(path)
	require.NoError(t, err)
	assert.Equal(t, ";", reloaded.Schema.Delimiter)

	bad := src.Current()
	bad.Schema.Columns = 0
	assert.ErrorIs(t, src.Replace(bad), models.ErrInvalidSchema)
	assert.Equal(t, ";", src.Current().Schema.Delimiter)
}
