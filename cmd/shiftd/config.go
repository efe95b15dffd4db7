package main

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds every daemon-wide setting: socket path override, DRM
// device, log filter, and the optional admin-client launch command.
type Config struct {
	SocketPath   string   `mapstructure:"socket"`
	DRMDevice    string   `mapstructure:"drm_device"`
	LogLevel     string   `mapstructure:"log_level"`
	AdminCommand []string `mapstructure:"admin_command"`
	ConfigFile   string   `mapstructure:"-"`
}

// Default returns the configuration used when no flag, environment
// variable, or config file overrides a value.
func Default() *Config {
	return &Config{
		SocketPath: "/tmp/shift.sock",
		DRMDevice:  "/dev/dri/card0",
		LogLevel:   "info",
	}
}

// Load merges flags (already bound into v, carrying the real defaults),
// environment variables prefixed SHIFT_, and an optional config file.
// Precedence follows viper's own: explicit Set > flag > env > config file
// > flag default.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	v.SetEnvPrefix("SHIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.ConfigFile = cfgFile
	return cfg, nil
}
