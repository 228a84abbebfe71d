package config

import (
	"fmt"
	"net/url"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the client configuration. Connection constants (ICE
// servers, retry ceiling, reconnect delay) are fixed in code, not here.
type Config struct {
	RelayURL  string `mapstructure:"relay_url"`
	LogLevel  string `mapstructure:"log_level"`
	VideoFile string `mapstructure:"video_file"`
	AudioFile string `mapstructure:"audio_file"`
	RecordDir string `mapstructure:"record_dir"`
}

// Load reads configuration from a .env file (if present) and environment
// variables prefixed with GUFFGAFF_. Environment variables take precedence
// over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GUFFGAFF")

	for key, def := range map[string]string{
		"relay_url":  "",
		"log_level":  "info",
		"video_file": "",
		"audio_file": "",
		"record_dir": "",
	} {
		v.SetDefault(key, def)
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.RelayURL == "" {
		return nil, fmt.Errorf("GUFFGAFF_RELAY_URL environment variable is required")
	}
	u, err := url.Parse(cfg.RelayURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("relay url must be ws:// or wss://, got %q", cfg.RelayURL)
	}

	return &cfg, nil
}
