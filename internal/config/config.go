package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for ctrack.
type Config struct {
	BaseDir     string           `toml:"base_dir"`
	StorageRoot string           `toml:"storage_root"`
	LogDir      string           `toml:"log_dir"`
	Cache       CacheConfig      `toml:"cache"`
	Store       StoreConfig      `toml:"store"`
	Index       IndexConfig      `toml:"index"`
	Watch       WatchConfig      `toml:"watch"`
	Encryption  EncryptionConfig `toml:"encryption"`
}

// CacheConfig controls the in-memory change buffer.
type CacheConfig struct {
	Capacity int `toml:"capacity"` // records held before a flush; defaults to 1000
}

// StoreConfig represents configuration for the change and snapshot store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type"` // "filesystem" (default) or "memory"
}

// IndexConfig represents configuration for the snapshot chain index.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type IndexConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// WatchConfig holds settings for the filesystem watcher.
type WatchConfig struct {
	Ignore    []string `toml:"ignore"`
	HashFiles bool     `toml:"hash_files"`
}

// EncryptionConfig holds paths to the age key pair used for export bundles.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// NewConfig creates a new Config with default locations under baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:     baseDir,
		StorageRoot: filepath.Join(baseDir, "data"),
		LogDir:      filepath.Join(baseDir, "log"),
		Cache:       CacheConfig{Capacity: 1000},
		Store:       StoreConfig{Type: "filesystem"},
		Index: IndexConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data", "index"),
		},
		Watch: WatchConfig{
			Ignore:    []string{".git", "node_modules", "*.swp", "*.tmp"},
			HashFiles: true,
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "ctrack.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "ctrack.key"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
