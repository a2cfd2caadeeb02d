// Package config loads debugtail settings from YAML. Producers and the
// listener read the same file; environment variables override the
// producer section.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/debugtail/internal/callstack"
	"github.com/ppiankov/debugtail/internal/intercept"
	"github.com/ppiankov/debugtail/internal/listener"
	"github.com/ppiankov/debugtail/internal/sender"
	"github.com/ppiankov/debugtail/internal/wire"
)

// Environment variables read by ApplyEnv.
const (
	EnvTransport = "DEBUGTAIL_TRANSPORT"
	EnvAddr      = "DEBUGTAIL_ADDR"
	EnvFile      = "DEBUGTAIL_FILE"
	EnvDisable   = "DEBUGTAIL_DISABLE"
)

// Producer configures the sending side.
type Producer struct {
	Transport  string   `yaml:"transport"`
	Addr       string   `yaml:"addr"`
	File       string   `yaml:"file"`
	Fsync      bool     `yaml:"fsync"`
	MaxPayload int      `yaml:"max_payload"`
	Backtraces bool     `yaml:"backtraces"`
	Exclude    []string `yaml:"exclude"`
	Disabled   bool     `yaml:"disabled"`
}

// Listen configures the console.
type Listen struct {
	Port       int           `yaml:"port"`
	Address    string        `yaml:"address"`
	File       string        `yaml:"file"`
	Interval   time.Duration `yaml:"interval"`
	FromStart  bool          `yaml:"from_start"`
	NoSocket   bool          `yaml:"no_socket"`
	Color      string        `yaml:"color"`
	Backtraces bool          `yaml:"backtraces"`
	ProfileOut string        `yaml:"profile_out"`
}

// Config is the whole file.
type Config struct {
	Producer  Producer          `yaml:"producer"`
	Listen    Listen            `yaml:"listen"`
	Intercept map[string]string `yaml:"intercept"`
}

// DefaultFile is where producers and the listener meet when the file
// transport is used without an explicit path.
func DefaultFile() string {
	return filepath.Join(os.TempDir(), "debugtail.log")
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		Producer: Producer{
			Transport:  sender.TransportSocket,
			Addr:       sender.DefaultAddr,
			File:       DefaultFile(),
			MaxPayload: wire.DefaultMaxPayload,
			Backtraces: true,
		},
		Listen: Listen{
			Port:     1729,
			Address:  "127.0.0.1",
			File:     DefaultFile(),
			Interval: listener.DefaultInterval,
			Color:    "auto",
		},
	}
}

// DefaultPath returns ~/.debugtail/config.yaml, or "" when the home
// directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".debugtail", "config.yaml")
}

// Load reads configuration from a YAML file.
// Empty path falls back to DefaultPath.
// Missing file returns defaults. Invalid YAML returns an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
		if path == "" {
			return DefaultConfig(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values yaml cannot type-check on its own.
func (c *Config) Validate() error {
	switch c.Producer.Transport {
	case sender.TransportSocket, sender.TransportFile:
	default:
		return fmt.Errorf("config: producer.transport must be %q or %q, got %q",
			sender.TransportSocket, sender.TransportFile, c.Producer.Transport)
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port %d out of range", c.Listen.Port)
	}
	if c.Listen.Interval < 0 {
		return fmt.Errorf("config: listen.interval must not be negative")
	}
	if _, err := callstack.CompilePatterns(c.Producer.Exclude); err != nil {
		return fmt.Errorf("config: producer.exclude: %w", err)
	}
	for name, m := range c.Intercept {
		if _, err := intercept.ParseMode(m); err != nil {
			return fmt.Errorf("config: intercept.%s: %w", name, err)
		}
	}
	return nil
}

// ApplyEnv overrides producer settings from the environment. lookup is
// os.LookupEnv outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvTransport); ok && v != "" {
		c.Producer.Transport = strings.ToLower(v)
	}
	if v, ok := lookup(EnvAddr); ok && v != "" {
		c.Producer.Addr = v
	}
	if v, ok := lookup(EnvFile); ok && v != "" {
		c.Producer.File = v
		if _, set := lookup(EnvTransport); !set {
			c.Producer.Transport = sender.TransportFile
		}
	}
	if v, ok := lookup(EnvDisable); ok {
		off, err := strconv.ParseBool(v)
		c.Producer.Disabled = err != nil || off
	}
}

// SenderConfig converts the producer section.
func (c *Config) SenderConfig() (sender.Config, error) {
	patterns, err := callstack.CompilePatterns(c.Producer.Exclude)
	if err != nil {
		return sender.Config{}, fmt.Errorf("config: producer.exclude: %w", err)
	}
	return sender.Config{
		Transport:  c.Producer.Transport,
		Addr:       c.Producer.Addr,
		File:       c.Producer.File,
		Fsync:      c.Producer.Fsync,
		MaxPayload: c.Producer.MaxPayload,
		Backtraces: c.Producer.Backtraces,
		Exclude:    patterns,
		Disabled:   c.Producer.Disabled,
	}, nil
}

// ListenerConfig converts the listen section.
func (c *Config) ListenerConfig() listener.Config {
	return listener.Config{
		Addr:      net.JoinHostPort(c.Listen.Address, strconv.Itoa(c.Listen.Port)),
		NoSocket:  c.Listen.NoSocket,
		File:      c.Listen.File,
		FromStart: c.Listen.FromStart,
		Interval:  c.Listen.Interval,
	}
}

// InterceptRules converts the intercept section. Invalid modes are
// rejected by Validate, so they are treated as Direct here.
func (c *Config) InterceptRules() *intercept.Rules {
	modes := make(map[string]intercept.Mode, len(c.Intercept))
	for name, m := range c.Intercept {
		mode, _ := intercept.ParseMode(m)
		modes[name] = mode
	}
	return intercept.NewRules(modes)
}
