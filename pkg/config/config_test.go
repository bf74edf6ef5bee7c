package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg := LoadFromEnv()
	assert.Equal(t, "", cfg.WALPath)
	assert.Equal(t, 3, cfg.MaxCheckpoints)
	assert.Equal(t, 256, cfg.GCTriggerThreshold)
	assert.Equal(t, 256, cfg.IteratorBatchSize)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("MINIGU_WAL_PATH", "/data/wal.log")
	t.Setenv("MINIGU_MAX_CHECKPOINTS", "7")
	t.Setenv("MINIGU_ANN_SELECTIVITY_THRESHOLD", "0.6")

	cfg := LoadFromEnv()
	assert.Equal(t, "/data/wal.log", cfg.WALPath)
	assert.Equal(t, 7, cfg.MaxCheckpoints)
	assert.Equal(t, 0.6, cfg.ANNSelectivityThreshold)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wal_path: /var/lib/minigu/wal.log\nmax_checkpoints: 5\n"), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/minigu/wal.log", cfg.WALPath)
	assert.Equal(t, 5, cfg.MaxCheckpoints)
	assert.Equal(t, 256, cfg.GCTriggerThreshold, "unset fields keep LoadFromEnv defaults")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := LoadFromEnv()
	cfg.MaxCheckpoints = 0
	assert.Error(t, cfg.Validate())

	cfg = LoadFromEnv()
	cfg.ANNSelectivityThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = LoadFromEnv()
	cfg.WALPath = "/data/wal.log"
	cfg.CheckpointDir = ""
	assert.Error(t, cfg.Validate())
}
