// Package cmd provides the CLI commands for mcpmon.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/neilopet/mcpmon/internal/adapter/inbound/stdio"
	"github.com/neilopet/mcpmon/internal/adapter/outbound/process"
	"github.com/neilopet/mcpmon/internal/adapter/outbound/watch"
	"github.com/neilopet/mcpmon/internal/config"
	"github.com/neilopet/mcpmon/internal/domain/hook"
	"github.com/neilopet/mcpmon/internal/domain/session"
	"github.com/neilopet/mcpmon/internal/extension"
	"github.com/neilopet/mcpmon/internal/extension/filter"
	"github.com/neilopet/mcpmon/internal/extension/metrics"
	"github.com/neilopet/mcpmon/internal/extension/reqlog"
	"github.com/neilopet/mcpmon/internal/port/outbound"
	"github.com/neilopet/mcpmon/internal/service"
)

var (
	cfgFile           string
	watchFlags        []string
	delayMs           int
	verbose           bool
	listExtensions    bool
	enableExtensions  []string
	disableExtensions []string
	extensionConfig   string
	extensionsDataDir string
)

var rootCmd = &cobra.Command{
	Use:   "mcpmon [flags] -- <command> [args...]",
	Short: "mcpmon - hot-reload supervisor for MCP servers",
	Long: `mcpmon supervises an MCP server subprocess, forwarding JSON-RPC traffic
between your MCP client and the server while watching source files. When a
watched file changes, mcpmon restarts the server and restores the session
transparently: the client connection stays open, messages sent during the
restart are buffered and replayed, and a tools/list_changed notification
tells the client to refresh its tool catalog.

The supervised command comes after "--"; everything before it configures
mcpmon itself.

Examples:
  # Supervise a Node MCP server, watching the entry file it runs
  mcpmon -- node server.js

  # Watch specific paths and use a longer debounce
  mcpmon --watch src --watch package.json --delay 500 -- node server.js

  # Enable the request logger and metrics extensions
  mcpmon --enable-extension reqlog --enable-extension metrics \
    --extension-config '{"metrics":{"addr":"127.0.0.1:9091"}}' -- python server.py

Configuration:
  Flags override environment variables (MCPMON_WATCH, MCPMON_DELAY,
  MCPMON_VERBOSE, ...), which override an optional mcpmon.yaml searched in
  the current directory, $HOME/.mcpmon/, and /etc/mcpmon/.

Exit codes:
  mcpmon propagates the server's exit code on clean shutdown, exits 1 on
  fatal proxy errors (e.g. spawn retries exhausted), and 130 on Ctrl+C.`,
	Args: cobra.ArbitraryArgs,
	RunE: runProxy,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: mcpmon.yaml or mcpmon.yml searched in ., $HOME/.mcpmon, /etc/mcpmon)")
	rootCmd.Flags().StringArrayVar(&watchFlags, "watch", nil, "file or directory to watch (repeatable; overrides auto-detection)")
	rootCmd.Flags().IntVar(&delayMs, "delay", config.DefaultDelayMs, "debounce window in milliseconds")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&listExtensions, "list-extensions", false, "list available extensions and exit")
	rootCmd.Flags().StringArrayVar(&enableExtensions, "enable-extension", nil, "enable an extension by id (repeatable)")
	rootCmd.Flags().StringArrayVar(&disableExtensions, "disable-extension", nil, "disable an extension by id (repeatable)")
	rootCmd.Flags().StringVar(&extensionConfig, "extension-config", "", "JSON object with per-extension settings")
	rootCmd.Flags().StringVar(&extensionsDataDir, "extensions-data-dir", "", "directory for extension state (default: ~/.mcpmon/extensions)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// runProxy is the entry point; it calls runProxyInternal (where defers run
// on return) and then propagates the exit code via os.Exit if needed.
func runProxy(cmd *cobra.Command, args []string) error {
	exitCode, err := runProxyInternal(cmd, args)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

// runProxyInternal contains the full proxy logic. All defers in this
// function execute before it returns, even when the child exits non-zero.
func runProxyInternal(cmd *cobra.Command, args []string) (int, error) {
	cfg, err := config.Load()
	if err != nil {
		return 0, err
	}
	applyFlagOverrides(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	registry := extension.NewRegistry(logger)
	for _, ext := range []extension.Extension{metrics.New(), reqlog.New(), filter.New()} {
		if err := registry.Register(ext); err != nil {
			return 0, err
		}
	}
	if err := registry.SetEnabled(cfg.Extensions.Enabled, cfg.Extensions.Disabled); err != nil {
		return 0, err
	}

	if listExtensions {
		for _, info := range registry.List() {
			state := "disabled"
			if info.Enabled {
				state = "enabled"
			}
			fmt.Printf("%-10s %-9s %s\n", info.ID, state, info.Description)
		}
		return 0, nil
	}

	if len(args) == 0 {
		return 0, fmt.Errorf("no command specified; usage: mcpmon [flags] -- <command> [args...]")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hooks := hook.NewBus(logger)
	if err := registry.InitEnabled(ctx, hooks, cfg.Extensions.DataDir, cfg.Extensions.Config); err != nil {
		return 0, err
	}
	defer registry.Close()

	watchPaths := cfg.Watch
	if len(watchPaths) == 0 {
		watchPaths = detectEntryFiles(args)
		if len(watchPaths) > 0 {
			logger.Info("auto-detected watch targets", "paths", watchPaths)
		}
	}

	var changes outbound.ChangeSource
	if len(watchPaths) > 0 {
		watcher, err := watch.New(watchPaths, cfg.IgnoreDirs, logger)
		if err != nil {
			return 0, fmt.Errorf("start file watcher: %w", err)
		}
		changes = watcher
	} else {
		logger.Warn("no watch targets; supervising without hot reload")
	}

	supervisor := service.NewSupervisor(
		os.Stdin,
		os.Stdout,
		os.Stderr,
		process.NewManager(),
		changes,
		hooks,
		session.New(),
		logger,
		service.Options{
			Command:        args[0],
			Args:           args[1:],
			Debounce:       cfg.Debounce(),
			KillGrace:      cfg.KillGraceDuration(),
			KillProbe:      cfg.KillProbeDuration(),
			SpawnRetries:   cfg.SpawnRetries,
			SpawnBackoff:   cfg.SpawnBackoffDuration(),
			RequestTimeout: cfg.RequestTimeoutDuration(),
			BufferCapacity: cfg.BufferSize,
		},
	)
	transport := stdio.New(supervisor)

	// Cancel the context on SIGINT/SIGTERM; the supervisor shuts down
	// cooperatively and we map SIGINT to the conventional 130.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, gracefulSignals()...)
	defer signal.Stop(sigCh)

	received := make(chan os.Signal, 1)
	go func() {
		if sig, ok := <-sigCh; ok {
			received <- sig
			cancel()
		}
	}()

	if err := transport.Start(ctx); err != nil {
		return 1, nil
	}

	select {
	case sig := <-received:
		if isInterrupt(sig) {
			return 130, nil
		}
	default:
	}
	return transport.ExitCode(), nil
}

// applyFlagOverrides lets explicitly-set flags win over env and file config.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("watch") {
		cfg.Watch = watchFlags
	}
	if cmd.Flags().Changed("delay") {
		cfg.DelayMs = delayMs
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = verbose
	}
	if len(enableExtensions) > 0 {
		cfg.Extensions.Enabled = append(cfg.Extensions.Enabled, enableExtensions...)
	}
	if len(disableExtensions) > 0 {
		cfg.Extensions.Disabled = append(cfg.Extensions.Disabled, disableExtensions...)
	}
	if cmd.Flags().Changed("extension-config") {
		cfg.Extensions.Config = extensionConfig
	}
	if cmd.Flags().Changed("extensions-data-dir") {
		cfg.Extensions.DataDir = extensionsDataDir
	}
}
