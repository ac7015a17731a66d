package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`
	RateLimit  RateLimit     `mapstructure:"rate_limit"`
	Store      StoreConfig   `mapstructure:"store"`
	WebRTC     WebRTCConfig  `mapstructure:"webrtc"`
	Shutdown   time.Duration `mapstructure:"shutdown_grace_period"`
}

type RateLimit struct {
	Events   int           `mapstructure:"events"`
	Interval time.Duration `mapstructure:"interval"`
}

// StoreConfig selects the session-store backend. "memory" is the
// in-process default; "dynamo" points at the shared durable table.
type StoreConfig struct {
	Backend string        `mapstructure:"backend"`
	Table   string        `mapstructure:"table"`
	Region  string        `mapstructure:"region"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type WebRTCConfig struct {
	STUNServers    []string `mapstructure:"stun_servers"`
	TURNServer     string   `mapstructure:"turn_server"`
	TURNUsername   string   `mapstructure:"turn_username"`
	TURNCredential string   `mapstructure:"turn_credential"`
}

// Load reads configuration from the optional file path and the
// environment. Environment variables are prefixed with RELAY_ and
// override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RELAY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("send_buffer", 32)
	v.SetDefault("secret", "")
	v.SetDefault("rate_limit.events", 60)
	v.SetDefault("rate_limit.interval", "10s")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.table", "relay-sessions")
	v.SetDefault("store.region", "us-east-1")
	v.SetDefault("store.ttl", "1h")
	v.SetDefault("webrtc.stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("shutdown_grace_period", "5s")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("secret is required (RELAY_SECRET)")
	}
	return &cfg, nil
}
