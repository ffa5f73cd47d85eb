package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	CORSOrigin  string        `mapstructure:"cors_origin"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	SendBuffer  int           `mapstructure:"send_buffer"`
	RingTimeout time.Duration `mapstructure:"ring_timeout"`
	RedisURL    string        `mapstructure:"redis_url"`
}

// Load reads configuration from the environment, with an optional yaml
// file underneath (config/config.<CONFIG_ENV>.yaml). Environment
// variables win.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	v.SetConfigFile(fmt.Sprintf("config/config.%s.yaml", env))

	v.SetDefault("mode", "release")
	v.SetDefault("port", 3001)
	v.SetDefault("cors_origin", "*")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("ring_timeout", "0s")
	v.SetDefault("redis_url", "")

	v.AutomaticEnv()

	// Missing file is fine, defaults plus env cover everything.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
