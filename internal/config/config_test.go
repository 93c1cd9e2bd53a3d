package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8811 {
		t.Errorf("Port: got %d, want 8811", cfg.Server.Port)
	}
	if cfg.Database.Path != "priceradar.db" {
		t.Errorf("Path: got %q", cfg.Database.Path)
	}
	if cfg.Scrape.FilterMode != "soft" || !cfg.Scrape.ExcludeBadText {
		t.Errorf("scrape defaults: %+v", cfg.Scrape)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8811 {
		t.Errorf("Port: got %d, want 8811", cfg.Server.Port)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/other.db
server:
  port: 9000
scrape:
  filter_mode: strict
logging:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Path != "/tmp/other.db" {
		t.Errorf("Path: got %q", cfg.Database.Path)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port: got %d", cfg.Server.Port)
	}
	if cfg.Scrape.FilterMode != "strict" {
		t.Errorf("FilterMode: got %q", cfg.Scrape.FilterMode)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level: got %q", cfg.Logging.Level)
	}
	// Untouched fields keep their defaults.
	if cfg.Scrape.Limit != 500 {
		t.Errorf("Limit: got %d, want 500", cfg.Scrape.Limit)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	t.Setenv("PRICERADAR_PORT", "9100")
	t.Setenv("PRICERADAR_DB_PATH", "/tmp/env.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Port: got %d, want 9100", cfg.Server.Port)
	}
	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("Path: got %q", cfg.Database.Path)
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	path := writeConfig(t, "server:\n  port: -1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
