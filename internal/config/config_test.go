package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "store:\n  path: /tmp/test.db\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.Store.Path)
	assert.Equal(t, DefaultBatchWindow, cfg.Batch.Window)
	assert.Equal(t, DefaultBatchMaxSize, cfg.Batch.MaxSize)
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("CONTEXTHUB_DB", "/var/lib/hub.db")
	path := writeConfig(t, "store:\n  path: ${CONTEXTHUB_DB}\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/hub.db", cfg.Store.Path)
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: loud\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsOversizedBatchWindow(t *testing.T) {
	path := writeConfig(t, "batch:\n  window: 30s\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestBatchDefaultsMatchPolicy(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 500*time.Millisecond, cfg.Batch.Window)
	assert.Equal(t, 50, cfg.Batch.MaxSize)
}

func TestWriteRefusesOverwrite(t *testing.T) {
	path := writeConfig(t, "store: {}\n")
	err := Default().Write(path, false)
	require.Error(t, err)
	require.NoError(t, Default().Write(path, true))
}
