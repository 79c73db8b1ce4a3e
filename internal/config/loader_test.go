package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadFromYAML(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "mcpmon.yaml")
	content := `
watch:
  - src
  - package.json
delay: 500
verbose: true
kill_grace: 2s
extensions:
  enabled:
    - reqlog
  data_dir: /tmp/mcpmon-ext
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	InitViper(path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Watch) != 2 || cfg.Watch[0] != "src" || cfg.Watch[1] != "package.json" {
		t.Errorf("Watch = %v", cfg.Watch)
	}
	if cfg.DelayMs != 500 {
		t.Errorf("DelayMs = %d, want 500", cfg.DelayMs)
	}
	if !cfg.Verbose {
		t.Error("Verbose not loaded")
	}
	if cfg.KillGrace != "2s" {
		t.Errorf("KillGrace = %q", cfg.KillGrace)
	}
	if len(cfg.Extensions.Enabled) != 1 || cfg.Extensions.Enabled[0] != "reqlog" {
		t.Errorf("Extensions.Enabled = %v", cfg.Extensions.Enabled)
	}
	if cfg.Extensions.DataDir != "/tmp/mcpmon-ext" {
		t.Errorf("Extensions.DataDir = %q", cfg.Extensions.DataDir)
	}

	// Defaults fill what the file omits.
	if cfg.SpawnRetries != DefaultSpawnRetries {
		t.Errorf("SpawnRetries = %d", cfg.SpawnRetries)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("MCPMON_WATCH", "a.js,b.js")
	t.Setenv("MCPMON_DELAY", "750")
	t.Setenv("MCPMON_VERBOSE", "true")

	// No config file in an empty directory.
	InitViper(filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Watch) != 2 || cfg.Watch[0] != "a.js" || cfg.Watch[1] != "b.js" {
		t.Errorf("Watch = %v, want comma-split env list", cfg.Watch)
	}
	if cfg.DelayMs != 750 {
		t.Errorf("DelayMs = %d, want 750", cfg.DelayMs)
	}
	if !cfg.Verbose {
		t.Error("MCPMON_VERBOSE not honored")
	}
}

func TestLoadDefaultsWhenNothingConfigured(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	InitViper(filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DelayMs != DefaultDelayMs || cfg.BufferSize != DefaultBufferSize {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Extensions.DataDir == "" {
		t.Error("extensions data dir default not derived")
	}
}
