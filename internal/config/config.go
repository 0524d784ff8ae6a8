package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models tasktalk.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		TokenTTL string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Chat struct {
		MaxInputChars     int      `yaml:"max_input_chars"`
		DeniedPatterns    []string `yaml:"denied_patterns"`
		RepoTimeout       string   `yaml:"repo_timeout"`
		RetryAttempts     int      `yaml:"retry_attempts"`
		RetryBaseDelay    string   `yaml:"retry_base_delay"`
		DefaultTaskStatus string   `yaml:"default_task_status"`
		DefaultPriority   string   `yaml:"default_priority"`
	} `yaml:"chat"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with tt config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Chat.MaxInputChars <= 0 {
		return fmt.Errorf("config.chat.max_input_chars must be positive")
	}
	if c.Chat.RetryAttempts <= 0 {
		return fmt.Errorf("config.chat.retry_attempts must be positive")
	}
	if _, err := time.ParseDuration(c.Chat.RepoTimeout); err != nil {
		return fmt.Errorf("config.chat.repo_timeout invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Chat.RetryBaseDelay); err != nil {
		return fmt.Errorf("config.chat.retry_base_delay invalid: %w", err)
	}
	if c.Auth.TokenTTL != "" {
		if _, err := time.ParseDuration(c.Auth.TokenTTL); err != nil {
			return fmt.Errorf("config.auth.token_ttl invalid: %w", err)
		}
	}
	switch c.Chat.DefaultTaskStatus {
	case "pending", "in-progress", "completed", "cancelled":
	default:
		return fmt.Errorf("config.chat.default_task_status must be a task status")
	}
	switch c.Chat.DefaultPriority {
	case "low", "medium", "high", "urgent":
	default:
		return fmt.Errorf("config.chat.default_priority must be a task priority")
	}
	return nil
}

// RepoTimeout returns the parsed repository call timeout.
func (c *Config) RepoTimeout() time.Duration {
	d, err := time.ParseDuration(c.Chat.RepoTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// RetryBaseDelay returns the parsed backoff base delay.
func (c *Config) RetryBaseDelay() time.Duration {
	d, err := time.ParseDuration(c.Chat.RetryBaseDelay)
	if err != nil {
		return 100 * time.Millisecond
	}
	return d
}

// TokenTTL returns the parsed JWT lifetime.
func (c *Config) TokenTTL() time.Duration {
	d, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "tasktalk.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

auth:
  token_ttl: 24h

chat:
  max_input_chars: 10000
  denied_patterns:
    - "DROP TABLE"
    - "DELETE FROM"
    - "--"
    - "/*"
    - "*/"
    - "xp_"
    - "sp_"
  repo_timeout: 30s
  retry_attempts: 3
  retry_base_delay: 100ms
  default_task_status: pending
  default_priority: medium
`
