// Package config assembles runtime configuration from defaults, an
// optional YAML file, and environment variables, in that order of
// precedence (environment wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the HTTP listen port.
	DefaultPort = 3100

	// DefaultACSURL is the agent-execution service endpoint.
	DefaultACSURL = "http://127.0.0.1:8377"

	// dbFileName is the SQLite file created under the data directory.
	dbFileName = "chat-router.db"
)

// Config holds every runtime setting of the hub.
type Config struct {
	// Port the HTTP server listens on.
	Port int `yaml:"port"`

	// DataDir holds the SQLite database. Created on startup if absent.
	DataDir string `yaml:"dataDir"`

	// HubURL is the base URL CLI commands and the deliverer use to
	// reach a running hub.
	HubURL string `yaml:"hubUrl"`

	// SelfURL is advertised to the triggered agent for callbacks.
	// Defaults to http://localhost:<port>.
	SelfURL string `yaml:"selfUrl"`

	// ACSJobName enables the external trigger when non-empty.
	ACSJobName string `yaml:"acsJobName"`

	// ACSURL is the trigger endpoint root.
	ACSURL string `yaml:"acsUrl"`

	// TelegramToken authenticates the telegram delivery sender.
	TelegramToken string `yaml:"telegramToken"`

	// DiscordToken authenticates the discord delivery sender.
	DiscordToken string `yaml:"discordToken"`
}

// Load builds the configuration. A .env file in the working directory
// is folded into the environment first; CHAT_ROUTER_CONFIG may name a
// YAML file applied between defaults and environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck

	cfg := &Config{
		Port:    DefaultPort,
		DataDir: "./data",
		ACSURL:  DefaultACSURL,
	}

	if path := os.Getenv("CHAT_ROUTER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDerived()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CHAT_ROUTER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid CHAT_ROUTER_PORT %q", v)
		}
		c.Port = port
	}
	if v := os.Getenv("CHAT_ROUTER_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("CHAT_ROUTER_URL"); v != "" {
		c.HubURL = v
	}
	if v := os.Getenv("ROUTER_SELF_URL"); v != "" {
		c.SelfURL = v
	}
	if v := os.Getenv("ACS_JOB_NAME"); v != "" {
		c.ACSJobName = v
	}
	if v := os.Getenv("ACS_URL"); v != "" {
		c.ACSURL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.TelegramToken = v
	}
	if v := os.Getenv("DISCORD_BOT_TOKEN"); v != "" {
		c.DiscordToken = v
	}
	return nil
}

// applyDerived fills settings whose defaults depend on other settings.
func (c *Config) applyDerived() {
	if c.HubURL == "" {
		c.HubURL = fmt.Sprintf("http://localhost:%d", c.Port)
	}
	if c.SelfURL == "" {
		c.SelfURL = fmt.Sprintf("http://localhost:%d", c.Port)
	}
}

// DatabasePath returns the SQLite file path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, dbFileName)
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
