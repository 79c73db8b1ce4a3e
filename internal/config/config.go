// Package config provides configuration types for mcpmon.
//
// Configuration is layered: flags override environment variables
// (MCPMON_* prefix), which override an optional mcpmon.yaml file, which
// overrides built-in defaults. The supervised command itself is always
// positional and never comes from the file.
package config

import (
	"time"
)

// Defaults for the restart engine's timers and bounds.
const (
	DefaultDelayMs        = 300
	DefaultKillGrace      = "5s"
	DefaultKillProbe      = "1s"
	DefaultSpawnRetries   = 3
	DefaultSpawnBackoff   = "250ms"
	DefaultRequestTimeout = "5s"
	DefaultBufferSize     = 1000
)

// Config is the top-level configuration for mcpmon.
type Config struct {
	// Watch lists the files or directories to watch. Empty means
	// auto-detect entry files from the supervised command's arguments.
	Watch []string `yaml:"watch" mapstructure:"watch"`

	// DelayMs is the debounce window in milliseconds.
	DelayMs int `yaml:"delay" mapstructure:"delay" validate:"gte=0,lte=600000"`

	// Verbose enables debug-level logging.
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`

	// KillGrace is how long a SIGTERM'd server gets before SIGKILL
	// (e.g. "5s").
	KillGrace string `yaml:"kill_grace" mapstructure:"kill_grace" validate:"omitempty,duration"`

	// KillProbe is the extra wait after SIGKILL before the liveness probe
	// declares the kill failed (e.g. "1s").
	KillProbe string `yaml:"kill_probe" mapstructure:"kill_probe" validate:"omitempty,duration"`

	// SpawnRetries is the total number of spawn attempts per restart.
	SpawnRetries int `yaml:"spawn_retries" mapstructure:"spawn_retries" validate:"gte=1,lte=10"`

	// SpawnBackoff is the base backoff between spawn attempts, doubled
	// each retry (e.g. "250ms").
	SpawnBackoff string `yaml:"spawn_backoff" mapstructure:"spawn_backoff" validate:"omitempty,duration"`

	// RequestTimeout bounds waits for proxy-synthesized requests
	// (e.g. "5s").
	RequestTimeout string `yaml:"request_timeout" mapstructure:"request_timeout" validate:"omitempty,duration"`

	// BufferSize bounds the restart message buffer.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"gte=1"`

	// IgnoreDirs are directory names filtered out of the watch stream.
	// Empty means the built-in vendor-directory defaults.
	IgnoreDirs []string `yaml:"ignore_dirs" mapstructure:"ignore_dirs"`

	// Extensions configures the extension subsystem.
	Extensions ExtensionsConfig `yaml:"extensions" mapstructure:"extensions"`
}

// ExtensionsConfig configures the extension registry.
type ExtensionsConfig struct {
	// Enabled lists extension ids to activate. Extensions are off by
	// default.
	Enabled []string `yaml:"enabled" mapstructure:"enabled"`

	// Disabled lists extension ids to keep off. Validate rejects an id
	// that appears in both Enabled and Disabled.
	Disabled []string `yaml:"disabled" mapstructure:"disabled"`

	// Config is a JSON object keyed by extension id with per-extension
	// settings.
	Config string `yaml:"config" mapstructure:"config" validate:"omitempty,json_object"`

	// DataDir is where extensions persist their state. Defaults to
	// ~/.mcpmon/extensions.
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
}

// Default returns a Config populated with built-in defaults.
func Default() Config {
	return Config{
		DelayMs:        DefaultDelayMs,
		KillGrace:      DefaultKillGrace,
		KillProbe:      DefaultKillProbe,
		SpawnRetries:   DefaultSpawnRetries,
		SpawnBackoff:   DefaultSpawnBackoff,
		RequestTimeout: DefaultRequestTimeout,
		BufferSize:     DefaultBufferSize,
	}
}

// Debounce returns the debounce window as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// KillGraceDuration returns the parsed kill grace window.
func (c *Config) KillGraceDuration() time.Duration {
	return parseDuration(c.KillGrace, DefaultKillGrace)
}

// KillProbeDuration returns the parsed post-SIGKILL probe window.
func (c *Config) KillProbeDuration() time.Duration {
	return parseDuration(c.KillProbe, DefaultKillProbe)
}

// SpawnBackoffDuration returns the parsed spawn backoff base.
func (c *Config) SpawnBackoffDuration() time.Duration {
	return parseDuration(c.SpawnBackoff, DefaultSpawnBackoff)
}

// RequestTimeoutDuration returns the parsed synthesized-request timeout.
func (c *Config) RequestTimeoutDuration() time.Duration {
	return parseDuration(c.RequestTimeout, DefaultRequestTimeout)
}

// parseDuration parses s, falling back to def. Validation has already
// rejected unparseable non-empty values, so the fallback only covers the
// empty string.
func parseDuration(s, def string) time.Duration {
	if s == "" {
		s = def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
