package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "text-embedding-004", cfg.Vertex.Model)
	assert.Equal(t, 250, cfg.Vertex.MaxBatchSize)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.InDelta(t, 0.7, cfg.Dedup.VectorWeight, 0.001)
	assert.InDelta(t, 0.3, cfg.Dedup.KeywordWeight, 0.001)
	assert.InDelta(t, 0.90, cfg.Dedup.AcceptThreshold, 0.001)
	assert.InDelta(t, 0.95, cfg.Dedup.RerankThreshold, 0.001)
	assert.InDelta(t, 0.8, cfg.Dedup.ReviewThreshold, 0.001)
	assert.Equal(t, 250, cfg.Dedup.EmbedBatchSize)
	assert.Equal(t, 5000, cfg.Dedup.ChunkSize)
	assert.Equal(t, 768, cfg.Dedup.EmbeddingDim)
	assert.Equal(t, 3, cfg.Dedup.MaxRetries)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
  database_url: dedup.db
log:
  level: debug
  format: console
dedup:
  accept_threshold: 0.85
  worker_count: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "dedup.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.InDelta(t, 0.85, cfg.Dedup.AcceptThreshold, 0.001)
	assert.Equal(t, 8, cfg.Dedup.WorkerCount)
	// Defaults still apply for unset values
	assert.InDelta(t, 0.95, cfg.Dedup.RerankThreshold, 0.001)
	assert.Equal(t, 5000, cfg.Dedup.ChunkSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DEDUP_STORE_DRIVER", "postgres")
	t.Setenv("DEDUP_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "not-a-level"})
	assert.Error(t, err)
}
