package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing config file must not error: %v", err)
	}
	defaults := Default()
	if cfg.ListenAddr != defaults.ListenAddr || cfg.MaxRetries != defaults.MaxRetries {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadAppliesYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncbox.yaml")
	content := strings.Join([]string{
		"listen_addr: \":9100\"",
		"auth_token: yaml-token",
		"max_retries: 3",
		"probe_interval: 30s",
		"crm:",
		"  base_url: https://crm.example.com",
		"  timeout: 20s",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ListenAddr != ":9100" || cfg.AuthToken != "yaml-token" || cfg.MaxRetries != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.ProbeInterval != 30*time.Second {
		t.Fatalf("expected probe interval 30s, got %v", cfg.ProbeInterval)
	}
	if cfg.CRM.BaseURL != "https://crm.example.com" || cfg.CRM.Timeout != 20*time.Second {
		t.Fatalf("unexpected CRM config: %+v", cfg.CRM)
	}
	// Fields the file omits keep their defaults.
	if cfg.DataDir != Default().DataDir {
		t.Fatalf("expected default data dir, got %q", cfg.DataDir)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected malformed YAML to fail")
	}
}

func TestApplyEnvOverridesLoadedValues(t *testing.T) {
	t.Setenv("SYNCBOX_ADDR", ":9200")
	t.Setenv("SYNCBOX_MAX_RETRIES", "7")
	t.Setenv("SYNCBOX_PROBE_INTERVAL", "45s")
	t.Setenv("SYNCBOX_CRM_BASE_URL", "https://crm.internal")

	cfg := Default()
	cfg.ApplyEnv()
	if cfg.ListenAddr != ":9200" || cfg.MaxRetries != 7 {
		t.Fatalf("expected env overrides, got %+v", cfg)
	}
	if cfg.ProbeInterval != 45*time.Second {
		t.Fatalf("expected probe interval 45s, got %v", cfg.ProbeInterval)
	}
	if cfg.CRM.BaseURL != "https://crm.internal" {
		t.Fatalf("expected CRM base URL override, got %q", cfg.CRM.BaseURL)
	}
}

func TestApplyEnvIgnoresUnparsableValues(t *testing.T) {
	t.Setenv("SYNCBOX_MAX_RETRIES", "lots")
	t.Setenv("SYNCBOX_PROBE_INTERVAL", "soonish")

	cfg := Default()
	cfg.ApplyEnv()
	if cfg.MaxRetries != Default().MaxRetries || cfg.ProbeInterval != Default().ProbeInterval {
		t.Fatalf("expected unparsable env values ignored, got %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	cfg.ListenAddr = " "
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected empty listen addr to fail")
	}

	cfg = Default()
	cfg.MaxRetries = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected negative max retries to fail")
	}
}

func TestEffectiveQueueDSN(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/syncbox"
	want := "bolt://" + filepath.Join("/var/lib/syncbox", "queue.db")
	if got := cfg.EffectiveQueueDSN(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	cfg.QueueDSN = "postgres://localhost/syncbox"
	if got := cfg.EffectiveQueueDSN(); got != "postgres://localhost/syncbox" {
		t.Fatalf("expected explicit DSN to win, got %q", got)
	}
}
