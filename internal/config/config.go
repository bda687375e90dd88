// Package config provides configuration management with CLI > env > file precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Transport names.
const (
	TransportSSE    = "sse"
	TransportOpenAI = "openai"
)

// FileName is the config file looked up in $HOME and the working directory.
const FileName = ".deltamerge.yml"

// Config holds all configuration options for deltamerge.
type Config struct {
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api-key"`
	APIBase     string  `yaml:"api-base"`
	Transport   string  `yaml:"transport"`
	MaxTokens   int     `yaml:"max-tokens"`
	Temperature float64 `yaml:"temperature"`
	Forward     bool    `yaml:"forward"`
	Final       bool    `yaml:"final"`
	Render      bool    `yaml:"render"`
	LogLevel    string  `yaml:"log-level"`
	Listen      string  `yaml:"listen"`

	// Args holds the positional arguments left after flag parsing.
	Args []string `yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Model:       "gpt-4o",
		APIBase:     "https://api.openai.com",
		Transport:   TransportSSE,
		MaxTokens:   4096,
		Temperature: 0.7,
		Render:      true,
		LogLevel:    "info",
		Listen:      ":8080",
	}
}

// Load builds a Config by merging CLI flags, environment variables, and config files.
// Precedence: CLI args > env vars > config files ($HOME then cwd).
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()

	if home, err := os.UserHomeDir(); err == nil {
		if err := cfg.loadYAML(filepath.Join(home, FileName)); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadYAML(FileName); err != nil {
		return nil, err
	}

	// Load .env files.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.parseFlags(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportSSE, TransportOpenAI:
	default:
		return fmt.Errorf("invalid transport %q (want %s or %s)", c.Transport, TransportSSE, TransportOpenAI)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log-level: %w", err)
	}
	return nil
}

// Level returns the configured log level, defaulting to info.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DELTAMERGE_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("DELTAMERGE_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_BASE"); v != "" {
		c.APIBase = v
	}
	if v := os.Getenv("DELTAMERGE_API_BASE"); v != "" {
		c.APIBase = v
	}
	if v := os.Getenv("DELTAMERGE_TRANSPORT"); v != "" {
		c.Transport = v
	}
	if v := os.Getenv("DELTAMERGE_MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DELTAMERGE_MAX_TOKENS: %w", err)
		}
		c.MaxTokens = n
	}
	if v := os.Getenv("DELTAMERGE_TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid DELTAMERGE_TEMPERATURE: %w", err)
		}
		c.Temperature = f
	}
	if v := os.Getenv("DELTAMERGE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("DELTAMERGE_LISTEN"); v != "" {
		c.Listen = v
	}
	return nil
}

func (c *Config) parseFlags(args []string) error {
	fs := flag.NewFlagSet("deltamerge", flag.ContinueOnError)
	fs.StringVar(&c.Model, "model", c.Model, "Model name to use")
	fs.StringVar(&c.APIKey, "api-key", c.APIKey, "API key")
	fs.StringVar(&c.APIBase, "api-base", c.APIBase, "API base URL")
	fs.StringVar(&c.Transport, "transport", c.Transport, "Live transport (sse, openai)")
	fs.IntVar(&c.MaxTokens, "max-tokens", c.MaxTokens, "Maximum tokens")
	fs.Float64Var(&c.Temperature, "temperature", c.Temperature, "Sampling temperature")
	fs.BoolVar(&c.Forward, "forward", c.Forward, "Forward normalized chunks instead of accumulating")
	fs.BoolVar(&c.Final, "final", c.Final, "Print only the final merged state")
	fs.BoolVar(&c.Render, "render", c.Render, "Render markdown output")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&c.Listen, "listen", c.Listen, "HTTP listen address for serve")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c.Args = fs.Args()
	return nil
}
