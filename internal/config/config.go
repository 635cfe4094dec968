// Package config loads and validates server configuration from flags,
// environment variables and an optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ducktracker/ducktracker/internal/geo"
)

// Config is the fully resolved server configuration.
type Config struct {
	Bind      string `mapstructure:"bind"`
	Passwd    string `mapstructure:"passwd"`
	PublicURL string `mapstructure:"public_url"`

	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxPoints   int           `mapstructure:"max_points"`
	MaxPointAge time.Duration `mapstructure:"max_point_age"`

	TickInterval time.Duration `mapstructure:"tick_interval"`
	Keepalive    time.Duration `mapstructure:"keepalive"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	QueueSize    int           `mapstructure:"queue_size"`

	BoxCoords string `mapstructure:"box_coords"`

	MetricsUser string `mapstructure:"metrics_user"`
	MetricsPass string `mapstructure:"metrics_pass"`

	Dev bool `mapstructure:"dev"`

	// Box is parsed out of BoxCoords during Load; nil disables the wrap.
	Box *geo.Box `mapstructure:"-"`
}

// SetDefaults registers the documented defaults on a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("bind", "0.0.0.0:8080")
	v.SetDefault("passwd", "ducktracker.passwd")
	v.SetDefault("public_url", "")
	v.SetDefault("default_ttl", time.Hour)
	v.SetDefault("max_points", 100)
	v.SetDefault("max_point_age", time.Duration(0))
	v.SetDefault("tick_interval", 10*time.Second)
	v.SetDefault("keepalive", 25*time.Second)
	v.SetDefault("idle_timeout", 5*time.Minute)
	v.SetDefault("token_ttl", 5*time.Minute)
	v.SetDefault("queue_size", 256)
	v.SetDefault("box_coords", "")
	v.SetDefault("metrics_user", "")
	v.SetDefault("metrics_pass", "")
	v.SetDefault("dev", false)
}

// Load resolves configuration from the given viper instance, which the
// command layer has already bound to flags. Environment variables use the
// DUCKTRACKER_ prefix.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("DUCKTRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if cfg.BoxCoords != "" {
		box, err := geo.ParseBox(cfg.BoxCoords)
		if err != nil {
			return nil, err
		}
		cfg.Box = &box
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Bind == "" {
		return fmt.Errorf("bind address is required")
	}
	if c.Passwd == "" {
		return fmt.Errorf("password file path is required")
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default_ttl must be positive, got %s", c.DefaultTTL)
	}
	if c.MaxPoints <= 0 {
		return fmt.Errorf("max_points must be positive, got %d", c.MaxPoints)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.Keepalive <= 0 {
		return fmt.Errorf("keepalive must be positive, got %s", c.Keepalive)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if (c.MetricsUser == "") != (c.MetricsPass == "") {
		return fmt.Errorf("metrics_user and metrics_pass must be set together")
	}
	return nil
}

// HardMaxPoints is the absolute ceiling a points:N request can ask for.
const HardMaxPoints = 10000
