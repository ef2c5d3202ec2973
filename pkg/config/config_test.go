package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigBeforeLoad(t *testing.T) {
	SetConfigForTesting(nil)

	_, err := GetConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LoadConfig")

	// Getters fall back to defaults when nothing is loaded.
	assert.Equal(t, DefaultFlushIntervalMS*time.Millisecond, GetFlushInterval())
	assert.Equal(t, DefaultResearchParallelism, GetResearchParallelism())
	assert.Equal(t, ExecutorNoop, GetExecutorType())
	assert.False(t, GetStopOnFailure())
}

func TestLoadConfigCreatesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadConfig(dir))

	configPath := filepath.Join(dir, ProjectConfigDir, ProjectConfigFilename)
	_, err := os.Stat(configPath)
	require.NoError(t, err, "config file should be created")

	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, cfg.SchemaVersion)
	assert.Equal(t, DefaultResearchParallelism, cfg.Research.Parallelism)
	assert.Equal(t, DefaultFlushIntervalMS, cfg.Orchestration.FlushIntervalMS)
	assert.Equal(t, ExecutorNoop, cfg.Executor.Type)
	assert.Equal(t, dir, GetProjectDir())
}

func TestLoadConfigAppliesDefaultsToPartialFile(t *testing.T) {
	dir := t.TempDir()
	configDir := filepath.Join(dir, ProjectConfigDir)
	require.NoError(t, os.MkdirAll(configDir, 0755))

	partial := `{"schema_version":"1.0","research":{"parallelism":5}}`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, ProjectConfigFilename), []byte(partial), 0644))

	require.NoError(t, LoadConfig(dir))

	assert.Equal(t, 5, GetResearchParallelism())
	assert.Equal(t, DefaultFlushIntervalMS*time.Millisecond, GetFlushInterval())
	assert.Equal(t, DefaultWatchDebounceMS*time.Millisecond, GetWatchDebounce())
	assert.Equal(t, DefaultMaxScopeTokens, GetMaxScopeTokens())
}

func TestLoadConfigRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	configDir := filepath.Join(dir, ProjectConfigDir)
	require.NoError(t, os.MkdirAll(configDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, ProjectConfigFilename), []byte("{not json"), 0644))

	err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be parsed")
}

func TestLoadConfigRejectsUnknownExecutor(t *testing.T) {
	dir := t.TempDir()
	configDir := filepath.Join(dir, ProjectConfigDir)
	require.NoError(t, os.MkdirAll(configDir, 0755))

	bad := `{"schema_version":"1.0","executor":{"type":"rocket"}}`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, ProjectConfigFilename), []byte(bad), 0644))

	err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown executor type")
}

func TestLoadConfigRejectsNegativeParallelism(t *testing.T) {
	dir := t.TempDir()
	configDir := filepath.Join(dir, ProjectConfigDir)
	require.NoError(t, os.MkdirAll(configDir, 0755))

	bad := `{"schema_version":"1.0","research":{"parallelism":-2}}`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, ProjectConfigFilename), []byte(bad), 0644))

	err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallelism")
}

func TestUpdateOrchestrationPersists(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadConfig(dir))

	require.NoError(t, UpdateOrchestration(&OrchestrationConfig{
		FlushIntervalMS: 100,
		WatchDebounceMS: 250,
		StopOnFailure:   true,
	}))

	assert.Equal(t, 100*time.Millisecond, GetFlushInterval())
	assert.Equal(t, 250*time.Millisecond, GetWatchDebounce())
	assert.True(t, GetStopOnFailure())

	// Changes survive a reload from disk.
	require.NoError(t, LoadConfig(dir))
	assert.Equal(t, 100*time.Millisecond, GetFlushInterval())
	assert.True(t, GetStopOnFailure())
}

func TestGetConfigReturnsCopy(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadConfig(dir))

	cfg, err := GetConfig()
	require.NoError(t, err)
	cfg.SchemaVersion = "hacked"
	fresh, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, fresh.SchemaVersion)
}

func TestGetLogsDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadConfig(dir))

	logsDir, err := GetLogsDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ProjectConfigDir, LogsDirName), logsDir)
}
