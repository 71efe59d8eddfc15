package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration, loaded from YAML with environment
// variables (API keys) supplied via the process environment or a .env file.
type Config struct {
	// DBPath is the SQLite database location. Empty selects the in-memory
	// store.
	DBPath string `yaml:"db_path"`

	// Provider selects the backend family: openai, anthropic or mock.
	Provider string `yaml:"provider"`

	// JuniorModel and SeniorModel name the models for the two stages.
	JuniorModel string `yaml:"junior_model"`
	SeniorModel string `yaml:"senior_model"`

	// PersonaPath points at a persona YAML seeding mood profiles.
	PersonaPath string `yaml:"persona_path"`

	// SleepCron is the consolidation schedule for serve-sleep.
	SleepCron string `yaml:"sleep_cron"`

	// Session identifies the conversation for the chat command.
	Session string `yaml:"session"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Provider:    "openai",
		JuniorModel: "gpt-4o-mini",
		SeniorModel: "gpt-4o",
		SleepCron:   "0 4 * * *",
		Session:     "default",
	}
}

// LoadConfig reads the YAML config at path, layered over defaults. A missing
// file is not an error; the defaults apply. A .env file next to the working
// directory is loaded first so the SDK clients can pick up API keys.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
