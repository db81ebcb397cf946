package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDocumentedKnobs(t *testing.T) {
	cfg := Default()
	assert.Equal(t, time.Hour, cfg.Purge.Frequency)
	assert.Equal(t, 7*24*time.Hour, cfg.Purge.RecycleBinMaxAge)
	assert.Equal(t, 90*24*time.Hour, cfg.Purge.ChangelogMaxAge)
}

func TestLoadLayersOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wardend.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
nodeId: node-7
purge:
  frequency: 15m
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "node-7", cfg.NodeID)
	assert.Equal(t, 15*time.Minute, cfg.Purge.Frequency)
	// Fields the file didn't mention keep their defaults.
	assert.Equal(t, Default().DataDir, cfg.DataDir)
	assert.Equal(t, Default().Purge.RecycleBinMaxAge, cfg.Purge.RecycleBinMaxAge)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
