// Package config loads server settings from the environment with the
// LOCALCHAT prefix. A .env file in the working directory is applied
// first when present.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable the server reads at startup.
type Config struct {
	Addr          string `envconfig:"ADDR" default:":3001"`
	DBPath        string `envconfig:"DB_PATH" default:"localchat.db"`
	UploadsDir    string `envconfig:"UPLOADS_DIR" default:"uploads"`
	WebhookSecret string `envconfig:"WEBHOOK_SECRET"`
	Debug         bool   `envconfig:"DEBUG" default:"false"`
}

// Load reads LOCALCHAT_* variables, honoring a local .env file if one
// exists. A missing .env is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("LOCALCHAT", &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	return cfg, nil
}
