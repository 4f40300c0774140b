// Package config provides hierarchical configuration management.
// Priority: defaults < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all datadock configuration. The access token is never
// read from a file; it comes from the environment only.
type Config struct {
	Version int `yaml:"version"`

	Source    SourceConfig        `yaml:"source"`
	Cache     CacheConfig         `yaml:"cache"`
	Modules   map[string][]string `yaml:"modules"`
	Telemetry TelemetryConfig     `yaml:"telemetry"`
	Logging   LoggingConfig       `yaml:"logging"`

	// Token authenticates against the remote repository API.
	// Environment only (DATADOCK_TOKEN), never persisted.
	Token string `yaml:"-"`
}

// SourceConfig selects where module files come from.
type SourceConfig struct {
	Mode      string `yaml:"mode"` // local | remote | s3
	LocalRoot string `yaml:"local_root"`

	BaseURL string `yaml:"base_url"`
	RepoID  string `yaml:"repo_id"`
	Branch  string `yaml:"branch"`

	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// CacheConfig controls the disk cache and its staleness poller.
type CacheConfig struct {
	Dir           string        `yaml:"dir"`
	CheckInterval time.Duration `yaml:"check_interval"`

	// Backend selects where cache metadata is kept: file | redis.
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig for the optional redis metadata backend.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`
}

// TelemetryConfig for optional trace export.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dockDir := filepath.Join(homeDir, ".datadock")

	return &Config{
		Version: 1,
		Source: SourceConfig{
			Mode:   "remote",
			Branch: "main",
		},
		Cache: CacheConfig{
			Dir:           filepath.Join(dockDir, "cache"),
			CheckInterval: 10 * time.Minute,
			Backend:       "file",
		},
		Modules: map[string][]string{},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// env mirrors the environment overrides. Processed with the DATADOCK
// prefix, so Token becomes DATADOCK_TOKEN and so on.
type env struct {
	Token         string        `envconfig:"TOKEN"`
	RepoID        string        `envconfig:"REPO_ID"`
	Branch        string        `envconfig:"BRANCH"`
	BaseURL       string        `envconfig:"BASE_URL"`
	Mode          string        `envconfig:"MODE"`
	LocalRoot     string        `envconfig:"LOCAL_ROOT"`
	CacheDir      string        `envconfig:"CACHE_DIR"`
	CheckInterval time.Duration `envconfig:"CHECK_INTERVAL"`
	LogLevel      string        `envconfig:"LOG_LEVEL"`
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string
}

// NewManager creates a manager holding the defaults.
func NewManager() *Manager {
	return &Manager{config: Default()}
}

// Load loads configuration from all sources in priority order.
// extra, if non-empty, is an explicit config file loaded last.
func (m *Manager) Load(extra string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	paths := configPaths()
	if extra != "" {
		paths = append(paths, extra)
	}
	for _, path := range paths {
		err := m.loadFile(path)
		switch {
		case err == nil:
			m.paths = append(m.paths, path)
		case os.IsNotExist(err) && path != extra:
			// Standard locations are optional.
		default:
			return fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := m.loadEnv(); err != nil {
		return err
	}

	os.MkdirAll(m.config.Cache.Dir, 0o755)
	return nil
}

func configPaths() []string {
	var paths []string
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/datadock/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".datadock", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".datadock.yaml"))
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

// merge merges non-zero values from src into the current config.
func (m *Manager) merge(src *Config) {
	if src.Source.Mode != "" {
		m.config.Source.Mode = src.Source.Mode
	}
	if src.Source.LocalRoot != "" {
		m.config.Source.LocalRoot = src.Source.LocalRoot
	}
	if src.Source.BaseURL != "" {
		m.config.Source.BaseURL = src.Source.BaseURL
	}
	if src.Source.RepoID != "" {
		m.config.Source.RepoID = src.Source.RepoID
	}
	if src.Source.Branch != "" {
		m.config.Source.Branch = src.Source.Branch
	}
	if src.Source.Bucket != "" {
		m.config.Source.Bucket = src.Source.Bucket
	}
	if src.Source.Prefix != "" {
		m.config.Source.Prefix = src.Source.Prefix
	}
	if src.Source.Region != "" {
		m.config.Source.Region = src.Source.Region
	}
	if src.Source.Endpoint != "" {
		m.config.Source.Endpoint = src.Source.Endpoint
	}

	if src.Cache.Dir != "" {
		m.config.Cache.Dir = src.Cache.Dir
	}
	if src.Cache.CheckInterval != 0 {
		m.config.Cache.CheckInterval = src.Cache.CheckInterval
	}
	if src.Cache.Backend != "" {
		m.config.Cache.Backend = src.Cache.Backend
	}
	if src.Cache.Redis.Address != "" {
		m.config.Cache.Redis = src.Cache.Redis
	}

	if len(src.Modules) > 0 {
		m.config.Modules = src.Modules
	}

	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}

	if src.Logging.Level != "" {
		m.config.Logging.Level = src.Logging.Level
	}
}

func (m *Manager) loadEnv() error {
	var e env
	if err := envconfig.Process("datadock", &e); err != nil {
		return fmt.Errorf("process environment: %w", err)
	}

	if e.Token != "" {
		m.config.Token = e.Token
	}
	if e.RepoID != "" {
		m.config.Source.RepoID = e.RepoID
	}
	if e.Branch != "" {
		m.config.Source.Branch = e.Branch
	}
	if e.BaseURL != "" {
		m.config.Source.BaseURL = e.BaseURL
	}
	if e.Mode != "" {
		m.config.Source.Mode = e.Mode
	}
	if e.LocalRoot != "" {
		m.config.Source.LocalRoot = e.LocalRoot
	}
	if e.CacheDir != "" {
		m.config.Cache.Dir = e.CacheDir
	}
	if e.CheckInterval != 0 {
		m.config.Cache.CheckInterval = e.CheckInterval
	}
	if e.LogLevel != "" {
		m.config.Logging.Level = e.LogLevel
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the config files that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}
