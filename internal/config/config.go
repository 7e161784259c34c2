// Package config provides configuration types and loading for agentdeck.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".agentdeck"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// Config is the root configuration struct.
type Config struct {
	Backend BackendConfig `json:"backend"`
	Stream  StreamConfig  `json:"stream"`
	Profile ProfileConfig `json:"profile"`
}

// BackendConfig groups the HTTP contract settings.
type BackendConfig struct {
	BaseURL            string `json:"baseUrl" envconfig:"BACKEND_URL"`
	Token              string `json:"token" envconfig:"TOKEN"`
	ChatTimeoutSeconds int    `json:"chatTimeoutSeconds" envconfig:"CHAT_TIMEOUT_SECONDS"`
	// SeedHistory enables the one-time backend history fetch when local
	// storage is empty.
	SeedHistory bool `json:"seedHistory" envconfig:"SEED_HISTORY"`
}

// ChatTimeout returns the chat POST timeout as a duration.
func (b BackendConfig) ChatTimeout() time.Duration {
	return time.Duration(b.ChatTimeoutSeconds) * time.Second
}

// StreamConfig groups the live socket endpoints.
type StreamConfig struct {
	EventsURL    string `json:"eventsUrl" envconfig:"EVENTS_URL"`
	SubagentsURL string `json:"subagentsUrl" envconfig:"SUBAGENTS_URL"`
}

// ProfileConfig groups local state locations.
type ProfileConfig struct {
	Dir string `json:"dir" envconfig:"PROFILE_DIR"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:            "http://localhost:8080",
			ChatTimeoutSeconds: 60,
			SeedHistory:        true,
		},
		Stream: StreamConfig{
			EventsURL:    "ws://localhost:8080/ws/events",
			SubagentsURL: "ws://localhost:8080/ws/subagents",
		},
	}
}

// Path returns the config file path, honoring the AGENTDECK_CONFIG override.
func Path() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("AGENTDECK_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("resolve home dir: %w", err)
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// Load reads the config file (a missing file yields defaults), then applies
// AGENTDECK_* environment overrides.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process("AGENTDECK", cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if cfg.Profile.Dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.Profile.Dir = filepath.Join(home, ConfigDir)
	}
	return cfg, nil
}

// ConversationPath returns the durable conversation file location.
func (c *Config) ConversationPath() string {
	return filepath.Join(c.Profile.Dir, "conversation.jsonl")
}

// TimelinePath returns the sqlite archive location.
func (c *Config) TimelinePath() string {
	return filepath.Join(c.Profile.Dir, "timeline.db")
}
