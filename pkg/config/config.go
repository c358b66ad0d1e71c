// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

var validate = validator.New()

// Config holds all engine configuration.
type Config struct {
	Version int `yaml:"version"`

	Engine     EngineConfig     `yaml:"engine"`
	Validation ValidationConfig `yaml:"validation"`
	Cache      CacheConfig      `yaml:"cache"`
	S3         S3Config         `yaml:"s3"`
	Results    ResultsConfig    `yaml:"results"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// EngineConfig controls the embedded DuckDB runtime.
type EngineConfig struct {
	MemoryLimit string `yaml:"memory_limit"` // e.g., "4GB"
	Threads     int    `yaml:"threads" validate:"gte=0"` // 0 = auto
	TempDir     string `yaml:"temp_dir"`
	// Persist stores loaded batches as tables instead of views.
	Persist *bool `yaml:"persist"`
}

// PersistEnabled reports whether batches are materialized on load.
func (e EngineConfig) PersistEnabled() bool {
	return e.Persist == nil || *e.Persist
}

// ValidationConfig sets defaults applied to every expectation.
type ValidationConfig struct {
	ResultFormat           string `yaml:"result_format" validate:"omitempty,oneof=BOOLEAN_ONLY BASIC SUMMARY COMPLETE"`
	PartialUnexpectedCount int    `yaml:"partial_unexpected_count" validate:"gte=0"`
	CatchExceptions        bool   `yaml:"catch_exceptions"`
	Concurrency            int    `yaml:"concurrency" validate:"gte=0"`
}

// CacheConfig bounds the loaded batch cache.
type CacheConfig struct {
	MaxBatches int           `yaml:"max_batches" validate:"gte=0"`
	MaxAge     time.Duration `yaml:"max_age"`
}

// S3Config for remote batch sources.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// ResultsConfig selects where validation runs are persisted.
type ResultsConfig struct {
	Backend string      `yaml:"backend" validate:"omitempty,oneof=none file redis"`
	Dir     string      `yaml:"dir"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig for the redis results backend.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db" validate:"gte=0"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// TelemetryConfig for traces and metrics.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate" validate:"gte=0,lte=1"`
	MetricsAddr string  `yaml:"metrics_addr"`
}

// LoggingConfig for the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".dqengine")

	return &Config{
		Version: 1,
		Engine: EngineConfig{
			MemoryLimit: "4GB",
			Threads:     0,
			TempDir:     filepath.Join(os.TempDir(), "dqengine"),
		},
		Validation: ValidationConfig{
			ResultFormat:           "BASIC",
			PartialUnexpectedCount: 20,
			Concurrency:            runtime.NumCPU(),
		},
		Cache: CacheConfig{
			MaxBatches: 16,
			MaxAge:     time.Hour,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Results: ResultsConfig{
			Backend: "none",
			Dir:     filepath.Join(dataDir, "results"),
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "dqengine:",
				TTL:       7 * 24 * time.Hour,
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "dqengine",
			SampleRate:  1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks struct-level constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return dqerrors.Wrap(err, dqerrors.CodeConfiguration, "invalid configuration")
	}
	return nil
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	return m.LoadFrom(m.getConfigPaths()...)
}

// LoadFrom loads defaults, then each existing path in order, then the environment.
func (m *Manager) LoadFrom(paths ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			if !os.IsNotExist(err) {
				return dqerrors.Wrapf(err, dqerrors.CodeConfiguration, "load %s", path)
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	m.loadEnv()

	return m.config.Validate()
}

func (m *Manager) getConfigPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/dqengine/config.yaml")
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".dqengine", "config.yaml"))
	}

	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".dqengine.yaml"))
	}

	return paths
}

func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	// Engine
	if src.Engine.MemoryLimit != "" {
		m.config.Engine.MemoryLimit = src.Engine.MemoryLimit
	}
	if src.Engine.Threads != 0 {
		m.config.Engine.Threads = src.Engine.Threads
	}
	if src.Engine.TempDir != "" {
		m.config.Engine.TempDir = src.Engine.TempDir
	}
	if src.Engine.Persist != nil {
		m.config.Engine.Persist = src.Engine.Persist
	}

	// Validation
	if src.Validation.ResultFormat != "" {
		m.config.Validation.ResultFormat = src.Validation.ResultFormat
	}
	if src.Validation.PartialUnexpectedCount != 0 {
		m.config.Validation.PartialUnexpectedCount = src.Validation.PartialUnexpectedCount
	}
	if src.Validation.CatchExceptions {
		m.config.Validation.CatchExceptions = true
	}
	if src.Validation.Concurrency != 0 {
		m.config.Validation.Concurrency = src.Validation.Concurrency
	}

	// Cache
	if src.Cache.MaxBatches != 0 {
		m.config.Cache.MaxBatches = src.Cache.MaxBatches
	}
	if src.Cache.MaxAge != 0 {
		m.config.Cache.MaxAge = src.Cache.MaxAge
	}

	// S3
	if src.S3.Region != "" {
		m.config.S3.Region = src.S3.Region
	}
	if src.S3.Endpoint != "" {
		m.config.S3.Endpoint = src.S3.Endpoint
	}
	if src.S3.AccessKeyID != "" {
		m.config.S3.AccessKeyID = src.S3.AccessKeyID
	}
	if src.S3.SecretAccessKey != "" {
		m.config.S3.SecretAccessKey = src.S3.SecretAccessKey
	}
	if src.S3.UsePathStyle {
		m.config.S3.UsePathStyle = true
	}

	// Results
	if src.Results.Backend != "" {
		m.config.Results.Backend = src.Results.Backend
	}
	if src.Results.Dir != "" {
		m.config.Results.Dir = src.Results.Dir
	}
	if src.Results.Redis.Addr != "" {
		m.config.Results.Redis.Addr = src.Results.Redis.Addr
	}
	if src.Results.Redis.Password != "" {
		m.config.Results.Redis.Password = src.Results.Redis.Password
	}
	if src.Results.Redis.DB != 0 {
		m.config.Results.Redis.DB = src.Results.Redis.DB
	}
	if src.Results.Redis.KeyPrefix != "" {
		m.config.Results.Redis.KeyPrefix = src.Results.Redis.KeyPrefix
	}
	if src.Results.Redis.TTL != 0 {
		m.config.Results.Redis.TTL = src.Results.Redis.TTL
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
	if src.Telemetry.ServiceName != "" {
		m.config.Telemetry.ServiceName = src.Telemetry.ServiceName
	}
	if src.Telemetry.SampleRate != 0 {
		m.config.Telemetry.SampleRate = src.Telemetry.SampleRate
	}
	if src.Telemetry.MetricsAddr != "" {
		m.config.Telemetry.MetricsAddr = src.Telemetry.MetricsAddr
	}

	// Logging
	if src.Logging.Level != "" {
		m.config.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		m.config.Logging.Format = src.Logging.Format
	}
}

// loadEnv loads configuration from DQENGINE_* environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("DQENGINE_MEMORY_LIMIT"); v != "" {
		m.config.Engine.MemoryLimit = v
	}

	if v := os.Getenv("DQENGINE_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			m.config.Engine.Threads = n
		}
	}

	if v := os.Getenv("DQENGINE_RESULT_FORMAT"); v != "" {
		m.config.Validation.ResultFormat = v
	}

	if v := os.Getenv("DQENGINE_RESULTS_BACKEND"); v != "" {
		m.config.Results.Backend = v
	}

	if v := os.Getenv("DQENGINE_REDIS_ADDR"); v != "" {
		m.config.Results.Redis.Addr = v
	}

	if v := os.Getenv("DQENGINE_S3_ENDPOINT"); v != "" {
		m.config.S3.Endpoint = v
	}

	if v := os.Getenv("DQENGINE_LOG_LEVEL"); v != "" {
		m.config.Logging.Level = v
	}

	if v := os.Getenv("DQENGINE_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Endpoint = v
		m.config.Telemetry.Enabled = true
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to path.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}
