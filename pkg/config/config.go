// Package config loads mnemos configuration from a YAML file with
// environment-variable overrides for credentials.
package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

// Config is the application configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Search    SearchConfig    `yaml:"search"`
}

// DatabaseConfig holds the SQLite location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ExtractorConfig configures the OpenRouter extraction model.
type ExtractorConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// EmbedderConfig configures the optional embeddings model. Empty means the
// deterministic pseudo-embedding is used.
type EmbedderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// SearchConfig holds retrieval defaults.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Path: defaultDatabasePath()},
		Search:   SearchConfig{DefaultLimit: 10},
	}
}

// Load reads configuration from the config path (MNEMOS_CONFIG or the user
// config dir), then applies environment overrides. A missing file is not an
// error, defaults apply.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath, err := configFilePath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MNEMOS_DB"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.Extractor.APIKey = v
	}
	if v := os.Getenv("MNEMOS_MODEL"); v != "" {
		cfg.Extractor.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Embedder.APIKey == "" {
		cfg.Embedder.APIKey = v
	}
	if v := os.Getenv("MNEMOS_EMBED_MODEL"); v != "" {
		cfg.Embedder.Model = v
	}
}

func configFilePath() (string, error) {
	if path := os.Getenv("MNEMOS_CONFIG"); path != "" {
		return path, nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "mnemos", "config.yaml"), nil
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "mnemos.db"
	}
	return filepath.Join(home, ".mnemos", "mnemos.db")
}
