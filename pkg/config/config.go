// Package config loads the kopabase settings file, the saved connection
// profile and the environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DirName is the per-user kopabase directory under the home directory
	DirName = ".kopabase"
	// FileName is the settings file inside DirName
	FileName = "config.yaml"
	// StateFileName is the state database inside DirName
	StateFileName = "state.db"
)

// Config holds the user settings
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	// StateDB is the path of the SQLite state database
	StateDB string `yaml:"state_db"`
}

// ServerConfig configures `kopabase serve`
type ServerConfig struct {
	Addr     string `yaml:"addr"`
	Metrics  bool   `yaml:"metrics"`
	PageSize int    `yaml:"page_size"`
}

// ClientConfig configures the API client
type ClientConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	SignedURLSeconds int           `yaml:"signed_url_seconds"`
}

// DefaultConfig returns the built-in settings
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:     "127.0.0.1:8787",
			Metrics:  true,
			PageSize: 20,
		},
		Client: ClientConfig{
			Timeout:          30 * time.Second,
			SignedURLSeconds: 60,
		},
		StateDB: filepath.Join(Dir(), StateFileName),
	}
}

// Validate checks the settings for values the commands cannot work with
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.PageSize <= 0 {
		return fmt.Errorf("server.page_size must be positive, got %d", c.Server.PageSize)
	}
	if c.Client.Timeout <= 0 {
		return fmt.Errorf("client.timeout must be positive, got %s", c.Client.Timeout)
	}
	if c.Client.SignedURLSeconds <= 0 {
		return fmt.Errorf("client.signed_url_seconds must be positive, got %d", c.Client.SignedURLSeconds)
	}
	if c.StateDB == "" {
		return fmt.Errorf("state_db is required")
	}
	return nil
}

// Dir returns the kopabase directory, falling back to the working directory
// when the home directory is unknown
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DirName
	}
	return filepath.Join(home, DirName)
}

// DefaultPath returns the default settings file path
func DefaultPath() string {
	return filepath.Join(Dir(), FileName)
}

// LoadFromFile reads settings from a YAML file on top of the defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load reads the settings file at path when it exists, applies environment
// overrides and validates the result
func Load(path string) (*Config, error) {
	config, err := LoadFromFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		config = DefaultConfig()
	} else if err != nil {
		return nil, err
	}

	if db := os.Getenv(EnvStateDB); db != "" {
		config.StateDB = db
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// SaveToFile writes the settings as YAML
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
