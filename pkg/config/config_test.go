package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MNEMOS_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path == "" {
		t.Error("expected a default database path")
	}
	if cfg.Search.DefaultLimit != 10 {
		t.Errorf("expected default limit 10, got %d", cfg.Search.DefaultLimit)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
database:
  path: /tmp/from-file.db
extractor:
  model: some/model
search:
  default_limit: 25
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("MNEMOS_CONFIG", path)
	t.Setenv("MNEMOS_DB", "/tmp/from-env.db")
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path != "/tmp/from-env.db" {
		t.Errorf("env should override file, got %s", cfg.Database.Path)
	}
	if cfg.Extractor.Model != "some/model" {
		t.Errorf("file value lost: %s", cfg.Extractor.Model)
	}
	if cfg.Extractor.APIKey != "sk-test" {
		t.Errorf("env API key not applied: %s", cfg.Extractor.APIKey)
	}
	if cfg.Search.DefaultLimit != 25 {
		t.Errorf("expected limit 25, got %d", cfg.Search.DefaultLimit)
	}
}
