// Package config loads client configuration from an optional TOML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults match the original deployment.
const (
	DefaultHTTPBase    = "http://127.0.0.1:8000"
	DefaultWSBase      = "ws://127.0.0.1:8000"
	DefaultRoom        = "opcode_convo"
	DefaultDBPath      = "opcode.db"
	DefaultRetryDelay  = 2 * time.Second
	DefaultHTTPTimeout = 10 * time.Second
)

// Config is the full client configuration. The group member roster is a
// deployment input, not user data; it reaches the router at construction.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Group     GroupConfig     `toml:"group"`
	Storage   StorageConfig   `toml:"storage"`
	Transport TransportConfig `toml:"transport"`
}

type ServerConfig struct {
	HTTPBase    string   `toml:"http"`
	WSBase      string   `toml:"ws"`
	HTTPTimeout duration `toml:"http_timeout"`
}

type GroupConfig struct {
	Room    string   `toml:"room"`
	Members []string `toml:"members"`
}

type StorageConfig struct {
	// Path is the sqlite file for local history. Empty selects the
	// in-memory store (history lost on exit).
	Path string `toml:"path"`
}

type TransportConfig struct {
	RetryDelay duration `toml:"retry_delay"`
}

// duration lets TOML carry values like "2s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns the configuration for the stock deployment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPBase:    DefaultHTTPBase,
			WSBase:      DefaultWSBase,
			HTTPTimeout: duration{DefaultHTTPTimeout},
		},
		Group: GroupConfig{
			Room:    DefaultRoom,
			Members: []string{"leesa", "mohendran", "deepan", "sathish"},
		},
		Storage: StorageConfig{
			Path: DefaultDBPath,
		},
		Transport: TransportConfig{
			RetryDelay: duration{DefaultRetryDelay},
		},
	}
}

// Load reads the TOML file at path (skipped when path is empty or missing)
// and then applies environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPCODE_HTTP_BASE"); v != "" {
		c.Server.HTTPBase = v
	}
	if v := os.Getenv("OPCODE_WS_BASE"); v != "" {
		c.Server.WSBase = v
	}
	if v := os.Getenv("OPCODE_ROOM"); v != "" {
		c.Group.Room = v
	}
	if v := os.Getenv("OPCODE_GROUP_MEMBERS"); v != "" {
		members := strings.Split(v, ",")
		for i := range members {
			members[i] = strings.TrimSpace(members[i])
		}
		c.Group.Members = members
	}
	if v := os.Getenv("OPCODE_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("OPCODE_RETRY_DELAY"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			c.Transport.RetryDelay = duration{parsed}
		}
	}
}

// HTTPTimeout returns the HTTP client timeout.
func (c *Config) HTTPTimeout() time.Duration {
	if c.Server.HTTPTimeout.Duration <= 0 {
		return DefaultHTTPTimeout
	}
	return c.Server.HTTPTimeout.Duration
}

// RetryDelay returns the reconnect delay.
func (c *Config) RetryDelay() time.Duration {
	if c.Transport.RetryDelay.Duration <= 0 {
		return DefaultRetryDelay
	}
	return c.Transport.RetryDelay.Duration
}
