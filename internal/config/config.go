package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	ServerAddr            string   `mapstructure:"server_addr"`
	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	UploadDir             string   `mapstructure:"upload_dir"`
	BaseURL               string   `mapstructure:"base_url"`
	HistoryLimit          int      `mapstructure:"history_limit"`
	PersistentMemberships bool     `mapstructure:"persistent_memberships"`
}

// Load reads the configuration from the optional file at path,
// layered over defaults and CHATRELAY_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server_addr", "localhost:8000")
	v.SetDefault("allowed_origins", []string{"http://localhost:3000", "http://localhost:8000"})
	v.SetDefault("upload_dir", "uploads")
	v.SetDefault("base_url", "http://localhost:8000")
	v.SetDefault("history_limit", 100)
	v.SetDefault("persistent_memberships", false)

	v.SetEnvPrefix("chatrelay")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.UploadDir == "" {
		return fmt.Errorf("upload directory cannot be empty")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive, got %d", c.HistoryLimit)
	}

	return nil
}
