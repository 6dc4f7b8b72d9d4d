package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/user/termloom/internal/approval"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	Server        struct {
		Addr string `json:"addr"`
	} `json:"server"`
	Backend struct {
		// Mode selects "local" (in-process executors) or "http" (sidecar).
		Mode    string `json:"mode"`
		BaseURL string `json:"base_url"`
	} `json:"backend"`
	Tokens struct {
		Model      string `json:"model"`
		MaxContext int    `json:"max_context"`
	} `json:"tokens"`
	Approvals approval.Config `json:"approvals"`
	Telegram  struct {
		Token  string `json:"token"`
		ChatID int64  `json:"chat_id"`
	} `json:"telegram"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".termloom"),
		MaxConcurrent: 4,
	}
	cfg.LogLevel = "info"
	cfg.Server.Addr = ":8743"
	cfg.Backend.Mode = "local"
	cfg.Tokens.Model = "gpt-4o"
	cfg.Tokens.MaxContext = 128000
	cfg.Approvals = approval.DefaultConfig()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if addr := os.Getenv("TERMLOOM_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if baseURL := os.Getenv("TERMLOOM_BACKEND_URL"); baseURL != "" {
		cfg.Backend.Mode = "http"
		cfg.Backend.BaseURL = baseURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}

	return cfg, nil
}

// Save writes the config atomically via a temp file rename.
func Save(path string, cfg *Config) error {
	return writeDefaults(path, cfg)
}

// ToMap renders the config as a nested map for flatten/display.
func (c *Config) ToMap() (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config map: %w", err)
	}
	return m, nil
}

// ApplyMap merges a nested map of overrides into the config.
func (c *Config) ApplyMap(m map[string]any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal overrides: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("apply overrides: %w", err)
	}
	return nil
}

// DBPath returns the location of the SQLite database under DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "termloom.db")
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
