package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config models tasklane.yml.
type Config struct {
	Server struct {
		Addr                string `yaml:"addr"`
		BasePath            string `yaml:"base_path"`
		AllowHeaderIdentity bool   `yaml:"allow_header_identity"`
	} `yaml:"server"`
	Ledger struct {
		Views []string `yaml:"views"`
	} `yaml:"ledger"`
	Limits struct {
		BatchMax int `yaml:"batch_max"`
	} `yaml:"limits"`
	Approval ApprovalConfig `yaml:"approval"`
}

type ApprovalConfig struct {
	RequestQueue    string `yaml:"request_queue"`
	ReturnQueue     string `yaml:"return_queue"`
	CancelQueue     string `yaml:"cancel_queue"`
	ServiceURL      string `yaml:"service_url"`
	Secret          string `yaml:"secret"`
	DispatchEvery   string `yaml:"dispatch_schedule"`
	ConsumeEvery    string `yaml:"consume_schedule"`
	BatchSize       int    `yaml:"batch_size"`
	MaxAttempts     int    `yaml:"max_attempts"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	ProcessingLease int    `yaml:"processing_lease_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Ledger.Views) == 0 {
		return fmt.Errorf("config.ledger.views requires at least one view")
	}
	seen := map[string]bool{}
	for _, v := range c.Ledger.Views {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("config.ledger.views contains an empty view")
		}
		if seen[v] {
			return fmt.Errorf("config.ledger.views lists %s twice", v)
		}
		seen[v] = true
	}
	if c.Limits.BatchMax <= 0 {
		return fmt.Errorf("config.limits.batch_max must be positive")
	}
	a := c.Approval
	if a.RequestQueue == "" || a.ReturnQueue == "" || a.CancelQueue == "" {
		return fmt.Errorf("config.approval queues are required")
	}
	if a.RequestQueue == a.ReturnQueue || a.CancelQueue == a.ReturnQueue {
		return fmt.Errorf("config.approval.return_queue must differ from outbound queues")
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{"dispatch_schedule": a.DispatchEvery, "consume_schedule": a.ConsumeEvery} {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("config.approval.%s: %w", name, err)
		}
	}
	if a.BatchSize <= 0 {
		return fmt.Errorf("config.approval.batch_size must be positive")
	}
	if a.MaxAttempts <= 0 {
		return fmt.Errorf("config.approval.max_attempts must be positive")
	}
	return nil
}

// DefaultView is the view used when a caller does not name one.
func (c *Config) DefaultView() string {
	return c.Ledger.Views[0]
}

// HasView reports whether view is configured.
func (c *Config) HasView(view string) bool {
	for _, v := range c.Ledger.Views {
		if v == view {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "tasklane.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config from raw YAML bytes on top of the defaults and validates it.
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
  base_path: /api
  allow_header_identity: false

ledger:
  views: [board, list, gantt]

limits:
  batch_max: 1000

approval:
  request_queue: approval.request
  return_queue: approval.return
  cancel_queue: approval.cancel
  service_url: ""
  dispatch_schedule: "@every 2s"
  consume_schedule: "@every 1s"
  batch_size: 50
  max_attempts: 5
  timeout_seconds: 5
  processing_lease_seconds: 60
`
