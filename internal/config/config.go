// Package config loads the sync agent configuration from an optional YAML
// file with environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type CRMConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type Config struct {
	ListenAddr    string        `yaml:"listen_addr"`
	AuthToken     string        `yaml:"auth_token"`
	DataDir       string        `yaml:"data_dir"`
	QueueDSN      string        `yaml:"queue_dsn"`
	MaxRetries    int           `yaml:"max_retries"`
	DropFolder    string        `yaml:"drop_folder"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	CRM           CRMConfig     `yaml:"crm"`
}

func Default() Config {
	return Config{
		ListenAddr:    ":8787",
		DataDir:       ".syncbox",
		MaxRetries:    5,
		ProbeInterval: 15 * time.Second,
		CRM: CRMConfig{
			BaseURL: "http://127.0.0.1:3000",
			Timeout: 15 * time.Second,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error; the
// defaults plus env overrides carry a zero-config agent.
func Load(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv layers SYNCBOX_* environment variables over the loaded values.
func (c *Config) ApplyEnv() {
	c.ListenAddr = envOrDefault("SYNCBOX_ADDR", c.ListenAddr)
	c.AuthToken = envOrDefault("SYNCBOX_AUTH_TOKEN", c.AuthToken)
	c.DataDir = envOrDefault("SYNCBOX_DATA_DIR", c.DataDir)
	c.QueueDSN = envOrDefault("SYNCBOX_QUEUE_DSN", c.QueueDSN)
	c.MaxRetries = intEnv("SYNCBOX_MAX_RETRIES", c.MaxRetries)
	c.DropFolder = envOrDefault("SYNCBOX_DROP_FOLDER", c.DropFolder)
	c.ProbeInterval = durationEnv("SYNCBOX_PROBE_INTERVAL", c.ProbeInterval)
	c.CRM.BaseURL = envOrDefault("SYNCBOX_CRM_BASE_URL", c.CRM.BaseURL)
	c.CRM.APIKey = envOrDefault("SYNCBOX_CRM_API_KEY", c.CRM.APIKey)
	c.CRM.Timeout = durationEnv("SYNCBOX_CRM_TIMEOUT", c.CRM.Timeout)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if strings.TrimSpace(c.CRM.BaseURL) == "" {
		return fmt.Errorf("crm.base_url is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	return nil
}

// EffectiveQueueDSN resolves the queue backend DSN, defaulting to an
// embedded bolt file under the data directory.
func (c Config) EffectiveQueueDSN() string {
	if strings.TrimSpace(c.QueueDSN) != "" {
		return c.QueueDSN
	}
	return "bolt://" + filepath.Join(c.DataDir, "queue.db")
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
