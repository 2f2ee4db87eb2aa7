// ABOUTME: Configuration loading and parsing for beacon-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete beacon-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Agent    AgentConfig    `yaml:"agent"`
	Policy   PolicyConfig   `yaml:"send_policy"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Dedupe   DedupeConfig   `yaml:"dedupe"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// StoreConfig holds paths for durable session state
type StoreConfig struct {
	SessionsPath  string `yaml:"sessions_path"`
	TranscriptDir string `yaml:"transcript_dir"`
}

// CatalogConfig holds the model catalog file location
type CatalogConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// AgentConfig holds execution defaults applied when a request omits them
type AgentConfig struct {
	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`

	ThinkLevel   string `yaml:"think_level"`
	VerboseLevel string `yaml:"verbose_level"`
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
}

// PolicyConfig holds the outbound send policy document
type PolicyConfig struct {
	Default string           `yaml:"default"`
	Rules   []PolicyRuleYAML `yaml:"rules"`
}

// PolicyRuleYAML is one ordered send-policy rule as it appears in YAML
type PolicyRuleYAML struct {
	Action string `yaml:"action"`
	Match  struct {
		Provider   string `yaml:"provider"`
		ChatType   string `yaml:"chat_type"`
		KeyPrefix  string `yaml:"key_prefix"`
		SessionKey string `yaml:"session_key"`
	} `yaml:"match"`
}

// DeliveryConfig holds outbound channel routing configuration
type DeliveryConfig struct {
	DefaultProvider  string   `yaml:"default_provider"`
	AllowedAddresses []string `yaml:"allowed_addresses"`
}

// DedupeConfig bounds the idempotency cache
type DedupeConfig struct {
	TTL time.Duration `yaml:"-"`

	TTLRaw  string `yaml:"ttl"`
	MaxSize int    `yaml:"max_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values for optional fields left unset in the file.
func (c *Config) applyDefaults() {
	if c.Agent.Timeout == 0 {
		c.Agent.Timeout = 2 * time.Minute
	}
	if c.Policy.Default == "" {
		c.Policy.Default = "allow"
	}
	if c.Delivery.DefaultProvider == "" {
		c.Delivery.DefaultProvider = "whatsapp"
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = 24 * time.Hour
	}
	if c.Dedupe.MaxSize == 0 {
		c.Dedupe.MaxSize = 100_000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Store.SessionsPath == "" {
		return fmt.Errorf("store.sessions_path is required")
	}
	if c.Store.TranscriptDir == "" {
		return fmt.Errorf("store.transcript_dir is required")
	}

	if c.Policy.Default != "allow" && c.Policy.Default != "deny" {
		return fmt.Errorf("send_policy.default must be %q or %q, got %q", "allow", "deny", c.Policy.Default)
	}
	for i, rule := range c.Policy.Rules {
		if rule.Action != "allow" && rule.Action != "deny" {
			return fmt.Errorf("send_policy.rules[%d].action must be %q or %q, got %q", i, "allow", "deny", rule.Action)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agent.TimeoutRaw != "" {
		cfg.Agent.Timeout, err = time.ParseDuration(cfg.Agent.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing agent.timeout %q: %w", cfg.Agent.TimeoutRaw, err)
		}
	}

	if cfg.Dedupe.TTLRaw != "" {
		cfg.Dedupe.TTL, err = time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe.ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
	}

	return nil
}
