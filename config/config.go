// Package config handles treewatch configuration from YAML files.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/treewatch/idgen"
	"github.com/hazyhaar/treewatch/wire"
)

// Config is the top-level treewatch configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Agent  AgentConfig  `yaml:"agent"`
	Store  StoreConfig  `yaml:"store"`
	Probe  ProbeConfig  `yaml:"probe"`
	Prefs  PrefsConfig  `yaml:"prefs"`
	Log    LogConfig    `yaml:"log"`
	Codec  string       `yaml:"codec"` // json | cbor
}

// ServerConfig controls the HTTP listener observers attach to.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// AgentConfig controls the source side.
type AgentConfig struct {
	Profiling    bool   `yaml:"profiling"`
	MaxProfiles  int    `yaml:"max_profiles"`
	InspectDepth int    `yaml:"inspect_depth"`
	IDStrategy   string `yaml:"id_strategy"` // uuidv7 | ulid | nanoid
}

// StoreConfig controls the sink side.
type StoreConfig struct {
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ProbeConfig controls the Chrome mutation probe.
type ProbeConfig struct {
	Remote   string        `yaml:"remote"` // DevTools websocket URL; empty launches a local browser
	Selector string        `yaml:"selector"`
	Duration time.Duration `yaml:"duration"`
	Interval time.Duration `yaml:"interval"`
}

// PrefsConfig locates the preferences database.
type PrefsConfig struct {
	Path string `yaml:"path"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":7780"
	}
	if c.Server.Path == "" {
		c.Server.Path = "/ws"
	}
	if c.Agent.MaxProfiles <= 0 {
		c.Agent.MaxProfiles = 32
	}
	if c.Agent.InspectDepth <= 0 {
		c.Agent.InspectDepth = 6
	}
	if c.Agent.IDStrategy == "" {
		c.Agent.IDStrategy = "uuidv7"
	}
	if c.Store.RetryInterval <= 0 {
		c.Store.RetryInterval = 500 * time.Millisecond
	}
	if c.Probe.Selector == "" {
		c.Probe.Selector = "body"
	}
	if c.Probe.Duration <= 0 {
		c.Probe.Duration = 30 * time.Second
	}
	if c.Probe.Interval <= 0 {
		c.Probe.Interval = time.Second
	}
	if c.Prefs.Path == "" {
		c.Prefs.Path = "treewatch.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Codec == "" {
		c.Codec = "json"
	}
}

// Validate rejects unknown enumerated values.
func (c *Config) Validate() error {
	if _, err := idgen.ByName(c.Agent.IDStrategy); err != nil {
		return fmt.Errorf("config: agent.id_strategy: %w", err)
	}
	if _, err := wire.CodecByName(c.Codec); err != nil {
		return fmt.Errorf("config: codec: %w", err)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("config: server.path %q must start with /", c.Server.Path)
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return 0, err
	}
	return l, nil
}
