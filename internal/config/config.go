// Package config loads chainbot configuration from YAML with environment
// variable overrides for secrets, plus a file watcher for hot-reloading
// the game tunables.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all chainbot configuration.
type Config struct {
	Name string `yaml:"name"`

	Discord DiscordConfig `yaml:"discord"`
	Judge   JudgeConfig   `yaml:"judge"`
	Game    GameConfig    `yaml:"game"`
	Story   StoryConfig   `yaml:"story"`
	Logging LoggingConfig `yaml:"logging"`
}

// DiscordConfig configures the gateway connection and admin access.
type DiscordConfig struct {
	Token string `yaml:"token"`

	// AdminUserIDs is the permission predicate for administrative
	// actions (mode switching, panels, story tests).
	AdminUserIDs []string `yaml:"admin_user_ids"`

	// MessageCacheSize bounds the edit/delete resolution cache.
	MessageCacheSize int `yaml:"message_cache_size"`
}

// JudgeConfig configures the LLM provider behind the referee, the chat
// relay, and the story generator.
type JudgeConfig struct {
	Provider string `yaml:"provider"` // groq, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`

	// Temperature drives the referee; ChatTemperature drives the relay
	// and the storyteller, which want creative output rather than a
	// deterministic ruling.
	Temperature     float64 `yaml:"temperature"`
	ChatTemperature float64 `yaml:"chat_temperature"`

	Timeout string `yaml:"timeout"`
}

// TimeoutDuration parses the judge call timeout, defaulting to 30s.
func (c JudgeConfig) TimeoutDuration() time.Duration {
	if c.Timeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GameConfig configures the word-chain rules.
type GameConfig struct {
	// AllowSelfFollow permits consecutive moves by the same player.
	AllowSelfFollow bool `yaml:"allow_self_follow"`

	// RecoveryLookback is how many messages the startup history scan
	// reads per game channel.
	RecoveryLookback int `yaml:"recovery_lookback"`
}

// StoryConfig configures the daily story generator.
type StoryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hour     int    `yaml:"hour"`
	Minute   int    `yaml:"minute"`
	Timezone string `yaml:"timezone"`

	// TestWordLimit caps the word count of the !storytest command.
	TestWordLimit int `yaml:"test_word_limit"`
}

// Location resolves the configured timezone, falling back to UTC.
func (c StoryConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "chainbot",
		Discord: DiscordConfig{
			MessageCacheSize: 2048,
		},
		Judge: JudgeConfig{
			Provider:        "groq",
			Model:           "llama-3.3-70b-versatile",
			Temperature:     0.2,
			ChatTemperature: 0.7,
			Timeout:         "30s",
		},
		Game: GameConfig{
			AllowSelfFollow:  false,
			RecoveryLookback: 10,
		},
		Story: StoryConfig{
			Enabled:       true,
			Hour:          8,
			Minute:        0,
			Timezone:      "Asia/Taipei",
			TestWordLimit: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the config file at path over the defaults, then applies
// environment overrides. A missing file is not an error: env-only setups
// are supported.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides lets environment variables win for secrets and the
// provider switch. Priority: env > file > defaults.
func (c *Config) applyEnvOverrides() {
	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		c.Discord.Token = token
	}
	if provider := os.Getenv("CHAINBOT_JUDGE_PROVIDER"); provider != "" {
		c.Judge.Provider = provider
	}
	if key := os.Getenv("GROQ_API_KEY"); key != "" && c.Judge.Provider == "groq" {
		c.Judge.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.Judge.Provider == "gemini" {
		c.Judge.APIKey = key
	}
}

// Validate checks that the config can actually start the bot.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord token required (config discord.token or DISCORD_TOKEN)")
	}
	if c.Game.RecoveryLookback <= 0 {
		return fmt.Errorf("game.recovery_lookback must be positive")
	}
	if c.Story.Hour < 0 || c.Story.Hour > 23 || c.Story.Minute < 0 || c.Story.Minute > 59 {
		return fmt.Errorf("story schedule %02d:%02d out of range", c.Story.Hour, c.Story.Minute)
	}
	return nil
}
