// ABOUTME: Configuration loading for mealdesk-chat
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/2389/mealdesk/internal/chat"
	"github.com/2389/mealdesk/internal/store"
)

type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	Auth    AuthConfig    `toml:"auth"`
	Session SessionConfig `toml:"session"`
	Logging LoggingConfig `toml:"logging"`
}

type GatewayConfig struct {
	URL string `toml:"url"`
}

type AuthConfig struct {
	Token string `toml:"token"`
}

type SessionConfig struct {
	HistoryLimit      int      `toml:"history_limit"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	HeartbeatTimeout  Duration `toml:"heartbeat_timeout"`
	SubscribeTimeout  Duration `toml:"subscribe_timeout"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// Duration decodes TOML strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

const defaultGatewayURL = "http://127.0.0.1:8080"

// defaultConfigPath returns MEALDESK_CHAT_CONFIG or the XDG location.
func defaultConfigPath() string {
	if p := os.Getenv("MEALDESK_CHAT_CONFIG"); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chat.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "mealdesk", "chat.toml")
}

// Load reads config from the given path, expanding environment variables.
// A missing file yields the defaults so flags alone can drive the client.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		// Expand environment variables (${VAR} syntax)
		expanded := expandEnvVars(string(data))
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Gateway.URL == "" {
		c.Gateway.URL = defaultGatewayURL
	}
	if c.Auth.Token == "" {
		c.Auth.Token = os.Getenv("MEALDESK_TOKEN")
	}
	if c.Session.HistoryLimit == 0 {
		c.Session.HistoryLimit = store.DefaultHistoryLimit
	}
	if c.Session.HeartbeatInterval.Duration == 0 {
		c.Session.HeartbeatInterval.Duration = chat.DefaultHeartbeatInterval
	}
	if c.Session.HeartbeatTimeout.Duration == 0 {
		c.Session.HeartbeatTimeout.Duration = chat.DefaultHeartbeatTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "warn"
	}
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Auth.Token == "" {
		return fmt.Errorf("auth.token is required (or set MEALDESK_TOKEN)")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gateway.url must use http or https scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("gateway.url must include a host")
	}
	if c.Session.HistoryLimit < 0 || c.Session.HistoryLimit > store.MaxHistoryLimit {
		return fmt.Errorf("session.history_limit must be between 1 and %d", store.MaxHistoryLimit)
	}
	if c.Session.HeartbeatTimeout.Duration <= c.Session.HeartbeatInterval.Duration {
		return fmt.Errorf("session.heartbeat_timeout must exceed session.heartbeat_interval")
	}
	if c.Session.SubscribeTimeout.Duration < 0 {
		return fmt.Errorf("session.subscribe_timeout must not be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

// ChatConfig converts the file settings into chat session tuning.
func (c *Config) ChatConfig() chat.Config {
	cfg := chat.DefaultConfig()
	cfg.HistoryLimit = c.Session.HistoryLimit
	cfg.HeartbeatInterval = c.Session.HeartbeatInterval.Duration
	cfg.HeartbeatTimeout = c.Session.HeartbeatTimeout.Duration
	return cfg
}
