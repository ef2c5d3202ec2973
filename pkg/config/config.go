// Package config provides configuration loading, validation, and management
// for the pipeline.
//
// ARCHITECTURE OVERVIEW:
//
// This package implements an atomic configuration management system that
// strictly separates configuration from state.
//
// KEY PRINCIPLES:
//
//  1. SEPARATION OF CONCERNS:
//     - Project Config: Per-project settings (orchestration, research,
//     executor) saved to .prpipe/config.json
//     - Constants: Hardcoded algorithm parameters that users should not modify
//     - State/Metadata: Unit status, timestamps, etc. belong in the session
//     backlog and journal, never in config
//
//  2. SCHEMA VERSIONING: All config changes MUST increment SchemaVersion to
//     prevent breaking changes to existing installations.
//
//  3. GLOBAL SINGLETON: A single global Config instance is maintained in
//     memory, protected by mutex for thread safety.
//
//  4. VALUE-BASED ACCESS: GetConfig() returns the config BY VALUE (copy, not
//     reference) to prevent external mutation. All updates MUST go through
//     the Update* functions.
//
//  5. VALIDATION FIRST: All config updates are validated before persistence.
//
// USAGE PATTERNS:
//
//	// Load config from file (usually done once at startup)
//	err := config.LoadConfig(projectDir)
//
//	// Access config (always by value)
//	cfg, err := config.GetConfig()
//
//	// Update orchestration settings atomically with validation
//	err := config.UpdateOrchestration(&newOrchestration)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"prpipe/pkg/logx"
)

// Project layout and schema constants.
const (
	ProjectConfigDir      = ".prpipe"
	ProjectConfigFilename = "config.json"
	SchemaVersion         = "1.0"

	LogsDirName = "logs"
)

// Executor types wired by the driver. Only the no-op executor ships in-tree;
// real executors are external processes.
const (
	ExecutorNoop = "noop"
)

// Defaults applied to missing config sections.
const (
	DefaultResearchParallelism = 3
	DefaultMaxScopeTokens      = 4000
	DefaultFlushIntervalMS     = 2000
	DefaultWatchDebounceMS     = 500
)

// Global config instance with mutex protection.
// projectDir is set once during LoadConfig and never changes - it defines
// where all pipeline files are stored relative to the project root.
//
//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config     *Config
	projectDir string       // Immutable after LoadConfig - set once at startup
	logger     *logx.Logger // Package logger for config operations
	mu         sync.RWMutex
)

// getLogger returns the config logger, initializing it if needed.
func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// LogInfo logs an info message using the config logger.
// This is exposed for other packages (like main) to use consistent logging.
func LogInfo(format string, args ...interface{}) {
	getLogger().Info(format, args...)
}

// Config is the root of .prpipe/config.json.
type Config struct {
	SchemaVersion string `json:"schema_version"`

	Orchestration *OrchestrationConfig `json:"orchestration,omitempty"`
	Research      *ResearchConfig      `json:"research,omitempty"`
	Executor      *ExecutorConfig      `json:"executor,omitempty"`
}

// OrchestrationConfig holds run-loop settings.
type OrchestrationConfig struct {
	FlushIntervalMS int  `json:"flush_interval_ms"`
	WatchDebounceMS int  `json:"watch_debounce_ms"`
	StopOnFailure   bool `json:"stop_on_failure"`
	AutoDelta       bool `json:"auto_delta"`
}

// ResearchConfig holds research queue settings.
type ResearchConfig struct {
	Parallelism    int `json:"parallelism"`
	MaxScopeTokens int `json:"max_scope_tokens"`
}

// ExecutorConfig selects the unit executor.
type ExecutorConfig struct {
	Type string `json:"type"`
}

// GetConfig returns a copy of the current config.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()

	if config == nil {
		return Config{}, fmt.Errorf("config not loaded - call LoadConfig first")
	}
	return *config, nil
}

// SetConfigForTesting replaces the global config without touching disk.
// Tests only.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	config = cfg
}

// LoadConfig loads (or creates) the project config and installs it as the
// global instance.
func LoadConfig(inputProjectDir string) error {
	mu.Lock()
	defer mu.Unlock()

	// Store project directory - immutable after this point
	projectDir = inputProjectDir
	configPath := filepath.Join(projectDir, ProjectConfigDir, ProjectConfigFilename)

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Missing file - create new config with defaults
		getLogger().Info("📝 Config file not found, creating new config at %s", configPath)
		config = createDefaultConfig()

		if err := validateConfig(config); err != nil {
			return fmt.Errorf("default config validation failed: %w", err)
		}
		if err := saveConfigLocked(); err != nil {
			return fmt.Errorf("failed to save initial config: %w", err)
		}
		return nil
	}

	// File exists - try to load it
	loadedConfig, err := loadConfigFromFile(configPath)
	if err != nil {
		return fmt.Errorf("fatal: config file exists but cannot be parsed (to avoid overwriting your changes): %w", err)
	}

	applyDefaults(loadedConfig)
	if err := validateConfig(loadedConfig); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	config = loadedConfig

	// Save config back to disk with applied defaults (ensures old configs get updated)
	if err := saveConfigLocked(); err != nil {
		return fmt.Errorf("failed to save config with applied defaults: %w", err)
	}

	getLogger().Info("✅ Config loaded and validated successfully")
	return nil
}

// UpdateOrchestration atomically replaces the orchestration section.
func UpdateOrchestration(orch *OrchestrationConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if config == nil {
		return fmt.Errorf("config not loaded - call LoadConfig first")
	}

	updated := *config
	updated.Orchestration = orch
	applyDefaults(&updated)
	if err := validateConfig(&updated); err != nil {
		return fmt.Errorf("orchestration config validation failed: %w", err)
	}

	config = &updated
	return saveConfigLocked()
}

// UpdateResearch atomically replaces the research section.
func UpdateResearch(research *ResearchConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if config == nil {
		return fmt.Errorf("config not loaded - call LoadConfig first")
	}

	updated := *config
	updated.Research = research
	applyDefaults(&updated)
	if err := validateConfig(&updated); err != nil {
		return fmt.Errorf("research config validation failed: %w", err)
	}

	config = &updated
	return saveConfigLocked()
}

// GetProjectDir returns the project directory set at LoadConfig time.
func GetProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// GetProjectConfigDir returns the absolute path of the .prpipe directory.
func GetProjectConfigDir() (string, error) {
	mu.RLock()
	defer mu.RUnlock()

	if projectDir == "" {
		return "", fmt.Errorf("config not loaded - call LoadConfig first")
	}
	return filepath.Join(projectDir, ProjectConfigDir), nil
}

// GetLogsDir returns the absolute path of the .prpipe/logs directory.
func GetLogsDir() (string, error) {
	configDir, err := GetProjectConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, LogsDirName), nil
}

// GetFlushInterval returns the batcher flush interval.
func GetFlushInterval() time.Duration {
	mu.RLock()
	defer mu.RUnlock()

	if config == nil || config.Orchestration == nil {
		return DefaultFlushIntervalMS * time.Millisecond
	}
	return time.Duration(config.Orchestration.FlushIntervalMS) * time.Millisecond
}

// GetWatchDebounce returns the PRD watcher debounce window.
func GetWatchDebounce() time.Duration {
	mu.RLock()
	defer mu.RUnlock()

	if config == nil || config.Orchestration == nil {
		return DefaultWatchDebounceMS * time.Millisecond
	}
	return time.Duration(config.Orchestration.WatchDebounceMS) * time.Millisecond
}

// GetResearchParallelism returns the research queue capacity.
func GetResearchParallelism() int {
	mu.RLock()
	defer mu.RUnlock()

	if config == nil || config.Research == nil {
		return DefaultResearchParallelism
	}
	return config.Research.Parallelism
}

// GetMaxScopeTokens returns the advisory context scope token limit.
func GetMaxScopeTokens() int {
	mu.RLock()
	defer mu.RUnlock()

	if config == nil || config.Research == nil {
		return DefaultMaxScopeTokens
	}
	return config.Research.MaxScopeTokens
}

// GetExecutorType returns the configured unit executor type.
func GetExecutorType() string {
	mu.RLock()
	defer mu.RUnlock()

	if config == nil || config.Executor == nil {
		return ExecutorNoop
	}
	return config.Executor.Type
}

// GetStopOnFailure returns whether the run loop halts on the first failed unit.
func GetStopOnFailure() bool {
	mu.RLock()
	defer mu.RUnlock()

	if config == nil || config.Orchestration == nil {
		return false
	}
	return config.Orchestration.StopOnFailure
}

// GetAutoDelta returns whether PRD changes fork delta sessions automatically.
func GetAutoDelta() bool {
	mu.RLock()
	defer mu.RUnlock()

	if config == nil || config.Orchestration == nil {
		return false
	}
	return config.Orchestration.AutoDelta
}

func loadConfigFromFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

func createDefaultConfig() *Config {
	return &Config{
		SchemaVersion: SchemaVersion,

		Orchestration: &OrchestrationConfig{
			FlushIntervalMS: DefaultFlushIntervalMS,
			WatchDebounceMS: DefaultWatchDebounceMS,
		},
		Research: &ResearchConfig{
			Parallelism:    DefaultResearchParallelism,
			MaxScopeTokens: DefaultMaxScopeTokens,
		},
		Executor: &ExecutorConfig{
			Type: ExecutorNoop,
		},
	}
}

// applyDefaults fills in missing sections and zero fields so configs written
// by older versions keep working.
func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SchemaVersion
	}
	if cfg.Orchestration == nil {
		cfg.Orchestration = &OrchestrationConfig{}
	}
	if cfg.Orchestration.FlushIntervalMS == 0 {
		cfg.Orchestration.FlushIntervalMS = DefaultFlushIntervalMS
	}
	if cfg.Orchestration.WatchDebounceMS == 0 {
		cfg.Orchestration.WatchDebounceMS = DefaultWatchDebounceMS
	}
	if cfg.Research == nil {
		cfg.Research = &ResearchConfig{}
	}
	if cfg.Research.Parallelism == 0 {
		cfg.Research.Parallelism = DefaultResearchParallelism
	}
	if cfg.Research.MaxScopeTokens == 0 {
		cfg.Research.MaxScopeTokens = DefaultMaxScopeTokens
	}
	if cfg.Executor == nil {
		cfg.Executor = &ExecutorConfig{}
	}
	if cfg.Executor.Type == "" {
		cfg.Executor.Type = ExecutorNoop
	}
}

func validateConfig(cfg *Config) error {
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema version %q (expected %q)", cfg.SchemaVersion, SchemaVersion)
	}
	if cfg.Orchestration.FlushIntervalMS < 0 {
		return fmt.Errorf("flush_interval_ms must not be negative, got %d", cfg.Orchestration.FlushIntervalMS)
	}
	if cfg.Orchestration.WatchDebounceMS < 0 {
		return fmt.Errorf("watch_debounce_ms must not be negative, got %d", cfg.Orchestration.WatchDebounceMS)
	}
	if cfg.Research.Parallelism < 1 {
		return fmt.Errorf("research parallelism must be at least 1, got %d", cfg.Research.Parallelism)
	}
	if cfg.Research.MaxScopeTokens < 0 {
		return fmt.Errorf("max_scope_tokens must not be negative, got %d", cfg.Research.MaxScopeTokens)
	}
	if cfg.Executor.Type != ExecutorNoop {
		return fmt.Errorf("unknown executor type %q", cfg.Executor.Type)
	}
	return nil
}

func saveConfigLocked() error {
	if projectDir == "" {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}

	configPath := filepath.Join(projectDir, ProjectConfigDir, ProjectConfigFilename)

	// Create directory if needed
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
