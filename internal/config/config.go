// Package config loads the daemon's configuration from pwmixerd.yaml and
// PWMIXER_* environment overrides via viper.
package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// Config is the daemon's resolved runtime configuration.
type Config struct {
	ConfigDir       string `mapstructure:"config_dir"`
	BufferFrames    int    `mapstructure:"buffer_frames"`
	CommandQueueLen int    `mapstructure:"command_queue_len"`
	LADSPAPath      string `mapstructure:"ladspa_path"`
	IPCPort         int    `mapstructure:"ipc_port"`
	MetricsAddr     string `mapstructure:"metrics_addr"`
	LogLevel        string `mapstructure:"log_level"`
}

func defaults() Config {
	return Config{
		ConfigDir:       "/var/lib/pwmixer",
		BufferFrames:    1024,
		CommandQueueLen: 64,
		IPCPort:         0,
		MetricsAddr:     "127.0.0.1:9520",
		LogLevel:        "info",
	}
}

// Load reads configPath (if non-empty and present) merged with
// PWMIXER_*-prefixed environment variables over the defaults.
func Load(configPath string) (Config, error) {
	v := viper.New()
	d := defaults()
	v.SetDefault("config_dir", d.ConfigDir)
	v.SetDefault("buffer_frames", d.BufferFrames)
	v.SetDefault("command_queue_len", d.CommandQueueLen)
	v.SetDefault("ladspa_path", d.LADSPAPath)
	v.SetDefault("ipc_port", d.IPCPort)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("log_level", d.LogLevel)

	v.SetEnvPrefix("PWMIXER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
