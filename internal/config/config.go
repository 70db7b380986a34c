// Package config loads daemon configuration from file and environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	Store struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"store"`

	Model struct {
		APIKey  string `mapstructure:"api_key"`
		BaseURL string `mapstructure:"base_url"`
		Name    string `mapstructure:"name"`
	} `mapstructure:"model"`

	Deepgram struct {
		APIKey string `mapstructure:"api_key"`
	} `mapstructure:"deepgram"`

	Sync struct {
		// Schedule is a cron expression for background cache refreshes.
		Schedule   string   `mapstructure:"schedule"`
		Identities []string `mapstructure:"identities"`
	} `mapstructure:"sync"`

	Turn struct {
		TimeoutSeconds             int    `mapstructure:"timeout_seconds"`
		ConfirmationTimeoutSeconds int    `mapstructure:"confirmation_timeout_seconds"`
		Timezone                   string `mapstructure:"timezone"`
	} `mapstructure:"turn"`
}

func setDefaults() {
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("store.path", "juna.db")
	viper.SetDefault("model.base_url", "https://api.openai.com/v1")
	viper.SetDefault("model.name", "gpt-4o-mini")
	viper.SetDefault("sync.schedule", "@every 5m")
	viper.SetDefault("turn.timeout_seconds", 60)
	viper.SetDefault("turn.confirmation_timeout_seconds", 120)
	viper.SetDefault("turn.timezone", "UTC")
}

// Load reads configuration from the optional file at path, with JUNA_*
// environment variables taking precedence over file values.
func Load(path string) (*Config, error) {
	viper.Reset()
	setDefaults()

	viper.SetEnvPrefix("JUNA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
