package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for mcpmon.yaml/.yml in
// standard locations. The search requires an explicit YAML extension so the
// mcpmon binary itself is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by Load).
		viper.SetConfigName("mcpmon")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: MCPMON_WATCH, MCPMON_DELAY, ...
	viper.SetEnvPrefix("MCPMON")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindEnvKeys()
}

// findConfigFile searches standard locations for an mcpmon config file with
// an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".mcpmon"),
		"/etc/mcpmon",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "mcpmon"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindEnvKeys binds all config keys for environment variable support.
// Example: MCPMON_EXTENSIONS_DATA_DIR overrides extensions.data_dir.
func bindEnvKeys() {
	_ = viper.BindEnv("watch")
	_ = viper.BindEnv("delay")
	_ = viper.BindEnv("verbose")
	_ = viper.BindEnv("kill_grace")
	_ = viper.BindEnv("kill_probe")
	_ = viper.BindEnv("spawn_retries")
	_ = viper.BindEnv("spawn_backoff")
	_ = viper.BindEnv("request_timeout")
	_ = viper.BindEnv("buffer_size")
	_ = viper.BindEnv("ignore_dirs")
	_ = viper.BindEnv("extensions.enabled")
	_ = viper.BindEnv("extensions.disabled")
	_ = viper.BindEnv("extensions.config")
	_ = viper.BindEnv("extensions.data_dir")
}

// Load reads the configuration from viper into a validated Config.
// A missing config file is not an error; everything has defaults.
func Load() (Config, error) {
	cfg := Default()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	// MCPMON_WATCH accepts a comma-separated list.
	cfg.Watch = splitCommaLists(cfg.Watch)
	cfg.IgnoreDirs = splitCommaLists(cfg.IgnoreDirs)

	if cfg.Extensions.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.Extensions.DataDir = filepath.Join(home, ".mcpmon", "extensions")
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// splitCommaLists expands any comma-separated entries, so both repeated
// flags and a single MCPMON_WATCH="a.js,b.js" work.
func splitCommaLists(in []string) []string {
	var out []string
	for _, v := range in {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
