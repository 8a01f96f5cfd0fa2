// Package config provides configuration management for the ingestion
// service. It supports loading, saving, and runtime updates of system
// configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Config holds all system configuration.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Store    StoreConfig    `json:"store"`
	Ingest   IngestConfig   `json:"ingest"`
	Registry RegistryConfig `json:"registry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int `json:"port"`
	// MaxUploadMB caps the accepted workbook size.
	MaxUploadMB int `json:"max_upload_mb"`
}

// StoreConfig selects and configures the chunk object store.
type StoreConfig struct {
	// Backend is "fs" or "http".
	Backend string `json:"backend"`
	// Root is the filesystem store directory (fs backend).
	Root string `json:"root"`
	// BaseURL is the remote object endpoint (http backend). The bearer
	// token, if any, comes from the COSTGRID_STORE_TOKEN environment
	// variable, never from this file.
	BaseURL string `json:"base_url"`

	RetryAttempts int `json:"retry_attempts"`
	RetryBaseMs   int `json:"retry_base_ms"`
}

// IngestConfig holds pipeline tunables.
type IngestConfig struct {
	ChunkSize     int  `json:"chunk_size"`
	PadRows       int  `json:"pad_rows"`
	PadCols       int  `json:"pad_cols"`
	ExtractAssets bool `json:"extract_assets"`

	AssetMaxEdge     int `json:"asset_max_edge"`
	AssetQuality     int `json:"asset_quality"`
	AssetConcurrency int `json:"asset_concurrency"`
}

// RegistryConfig holds estimate registry configuration.
type RegistryConfig struct {
	DBPath string `json:"db_path"`
}

// ConfigManager manages loading, saving, and updating configuration.
type ConfigManager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewConfigManager creates a new ConfigManager for the given config file path.
func NewConfigManager(configPath string) *ConfigManager {
	return &ConfigManager{configPath: configPath}
}

// DefaultConfig returns a Config populated with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			MaxUploadMB: 100,
		},
		Store: StoreConfig{
			Backend:       "fs",
			Root:          "./data/store",
			RetryAttempts: 3,
			RetryBaseMs:   200,
		},
		Ingest: IngestConfig{
			ChunkSize:        2000,
			PadRows:          100,
			PadCols:          10,
			ExtractAssets:    true,
			AssetMaxEdge:     1600,
			AssetQuality:     85,
			AssetConcurrency: 3,
		},
		Registry: RegistryConfig{
			DBPath: "./data/costgrid.db",
		},
	}
}

// Load reads the config file from disk. If the file does not exist, it
// initializes with default values and saves.
func (cm *ConfigManager) Load() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cm.config = DefaultConfig()
			return cm.saveLocked()
		}
		return fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	cm.applyDefaults(&cfg)
	cm.config = &cfg
	return nil
}

// Save writes the current config to disk.
func (cm *ConfigManager) Save() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.saveLocked()
}

// saveLocked writes config to disk. Caller must hold at least a read lock.
func (cm *ConfigManager) saveLocked() error {
	if cm.config == nil {
		return errors.New("no config loaded")
	}

	data, err := json.MarshalIndent(cm.config, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(cm.configPath, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.config == nil {
		return nil
	}
	c := *cm.config
	return &c
}

// Update applies partial updates to the configuration and saves to disk.
// Supported keys: "server.port", "server.max_upload_mb", "store.backend",
// "store.root", "store.base_url", "store.retry_attempts", "store.retry_base_ms",
// "ingest.chunk_size", "ingest.pad_rows", "ingest.pad_cols",
// "ingest.extract_assets", "ingest.asset_max_edge",
// "ingest.asset_quality", "ingest.asset_concurrency", "registry.db_path".
func (cm *ConfigManager) Update(updates map[string]interface{}) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.config == nil {
		cm.config = DefaultConfig()
	}

	for key, val := range updates {
		if err := cm.applyUpdate(key, val); err != nil {
			return fmt.Errorf("update key %q: %w", key, err)
		}
	}

	return cm.saveLocked()
}

func (cm *ConfigManager) applyUpdate(key string, val interface{}) error {
	switch key {
	case "server.port":
		n, ok := asInt(val)
		if !ok || n <= 0 || n > 65535 {
			return errors.New("expected port number")
		}
		cm.config.Server.Port = n
	case "server.max_upload_mb":
		n, ok := asInt(val)
		if !ok || n <= 0 {
			return errors.New("expected positive integer")
		}
		cm.config.Server.MaxUploadMB = n
	case "store.backend":
		s, ok := val.(string)
		if !ok || (s != "fs" && s != "http") {
			return errors.New(`expected "fs" or "http"`)
		}
		cm.config.Store.Backend = s
	case "store.root":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		cm.config.Store.Root = s
	case "store.base_url":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		cm.config.Store.BaseURL = s
	case "store.retry_attempts":
		n, ok := asInt(val)
		if !ok || n <= 0 {
			return errors.New("expected positive integer")
		}
		cm.config.Store.RetryAttempts = n
	case "store.retry_base_ms":
		n, ok := asInt(val)
		if !ok || n <= 0 {
			return errors.New("expected positive integer")
		}
		cm.config.Store.RetryBaseMs = n
	case "ingest.chunk_size":
		n, ok := asInt(val)
		if !ok || n <= 0 {
			return errors.New("expected positive integer")
		}
		cm.config.Ingest.ChunkSize = n
	case "ingest.pad_rows":
		n, ok := asInt(val)
		if !ok || n <= 0 {
			return errors.New("expected positive integer")
		}
		cm.config.Ingest.PadRows = n
	case "ingest.pad_cols":
		n, ok := asInt(val)
		if !ok || n <= 0 {
			return errors.New("expected positive integer")
		}
		cm.config.Ingest.PadCols = n
	case "ingest.extract_assets":
		b, ok := val.(bool)
		if !ok {
			return errors.New("expected boolean")
		}
		cm.config.Ingest.ExtractAssets = b
	case "ingest.asset_max_edge":
		n, ok := asInt(val)
		if !ok || n <= 0 {
			return errors.New("expected positive integer")
		}
		cm.config.Ingest.AssetMaxEdge = n
	case "ingest.asset_quality":
		n, ok := asInt(val)
		if !ok || n < 1 || n > 100 {
			return errors.New("expected quality 1-100")
		}
		cm.config.Ingest.AssetQuality = n
	case "ingest.asset_concurrency":
		n, ok := asInt(val)
		if !ok || n <= 0 {
			return errors.New("expected positive integer")
		}
		cm.config.Ingest.AssetConcurrency = n
	case "registry.db_path":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		cm.config.Registry.DBPath = s
	default:
		return errors.New("unknown config key")
	}
	return nil
}

// asInt accepts native ints and JSON-decoded float64 numbers.
func asInt(val interface{}) (int, bool) {
	switch v := val.(type) {
	case int:
		return v, true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

// applyDefaults fills in zero-value fields with defaults.
func (cm *ConfigManager) applyDefaults(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = defaults.Server.MaxUploadMB
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = defaults.Store.Backend
	}
	if cfg.Store.Root == "" {
		cfg.Store.Root = defaults.Store.Root
	}
	if cfg.Store.RetryAttempts == 0 {
		cfg.Store.RetryAttempts = defaults.Store.RetryAttempts
	}
	if cfg.Store.RetryBaseMs == 0 {
		cfg.Store.RetryBaseMs = defaults.Store.RetryBaseMs
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = defaults.Ingest.ChunkSize
	}
	if cfg.Ingest.PadRows == 0 {
		cfg.Ingest.PadRows = defaults.Ingest.PadRows
	}
	if cfg.Ingest.PadCols == 0 {
		cfg.Ingest.PadCols = defaults.Ingest.PadCols
	}
	if cfg.Ingest.AssetMaxEdge == 0 {
		cfg.Ingest.AssetMaxEdge = defaults.Ingest.AssetMaxEdge
	}
	if cfg.Ingest.AssetQuality == 0 {
		cfg.Ingest.AssetQuality = defaults.Ingest.AssetQuality
	}
	if cfg.Ingest.AssetConcurrency == 0 {
		cfg.Ingest.AssetConcurrency = defaults.Ingest.AssetConcurrency
	}
	if cfg.Registry.DBPath == "" {
		cfg.Registry.DBPath = defaults.Registry.DBPath
	}
}
