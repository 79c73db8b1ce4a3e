// Package metrics provides the prometheus metrics extension. It counts
// proxied messages and restarts, and optionally serves /metrics over HTTP.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neilopet/mcpmon/internal/domain/hook"
	"github.com/neilopet/mcpmon/internal/extension"
	"github.com/neilopet/mcpmon/pkg/mcp"
)

// ExtensionID is the registry id of the metrics extension.
const ExtensionID = "metrics"

// config is the extension's --extension-config section.
type config struct {
	// Addr, when set, serves /metrics on this address (e.g. "127.0.0.1:9091").
	Addr string `json:"addr"`
}

// Extension collects proxy metrics on a private registry.
type Extension struct {
	registry *prometheus.Registry

	messagesTotal   *prometheus.CounterVec
	restartsTotal   prometheus.Counter
	restartDuration prometheus.Histogram

	mu           sync.Mutex
	restartBegan time.Time

	server *http.Server
}

// New creates the metrics extension.
func New() *Extension {
	return &Extension{}
}

// ID implements extension.Extension.
func (e *Extension) ID() string { return ExtensionID }

// Description implements extension.Extension.
func (e *Extension) Description() string {
	return "prometheus counters for proxied messages and restarts"
}

// Init registers the metrics and wires the hook bus.
func (e *Extension) Init(ctx context.Context, host *extension.Host) error {
	var cfg config
	if host.Config != nil {
		if err := json.Unmarshal(host.Config, &cfg); err != nil {
			return fmt.Errorf("parse metrics config: %w", err)
		}
	}

	e.registry = prometheus.NewRegistry()
	e.messagesTotal = promauto.With(e.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpmon",
			Name:      "messages_total",
			Help:      "Total number of proxied MCP messages",
		},
		[]string{"direction"},
	)
	e.restartsTotal = promauto.With(e.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "mcpmon",
			Name:      "restarts_total",
			Help:      "Total number of server restarts",
		},
	)
	e.restartDuration = promauto.With(e.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mcpmon",
			Name:      "restart_duration_seconds",
			Help:      "Time from restart begin to new server start",
			Buckets:   prometheus.DefBuckets,
		},
	)

	host.Hooks.RegisterMessageHook(hook.BeforeStdinForward, ExtensionID,
		func(ctx context.Context, msg *mcp.Message) (*mcp.Message, error) {
			e.messagesTotal.WithLabelValues(mcp.ClientToServer.String()).Inc()
			return msg, nil
		})
	host.Hooks.RegisterMessageHook(hook.AfterStdoutReceive, ExtensionID,
		func(ctx context.Context, msg *mcp.Message) (*mcp.Message, error) {
			e.messagesTotal.WithLabelValues(mcp.ServerToClient.String()).Inc()
			return msg, nil
		})
	host.Hooks.RegisterLifecycleHook(hook.BeforeRestart, ExtensionID,
		func(ctx context.Context) error {
			e.mu.Lock()
			e.restartBegan = time.Now()
			e.mu.Unlock()
			return nil
		})
	host.Hooks.RegisterLifecycleHook(hook.AfterServerStart, ExtensionID,
		func(ctx context.Context) error {
			e.mu.Lock()
			began := e.restartBegan
			e.restartBegan = time.Time{}
			e.mu.Unlock()
			if began.IsZero() {
				// Initial start, not a restart.
				return nil
			}
			e.restartsTotal.Inc()
			e.restartDuration.Observe(time.Since(began).Seconds())
			return nil
		})

	if cfg.Addr != "" {
		if err := e.serve(cfg.Addr); err != nil {
			return err
		}
		host.Logger.Info("metrics endpoint listening", "addr", cfg.Addr)
	}
	return nil
}

// serve starts the /metrics listener.
func (e *Extension) serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	e.server = &http.Server{Handler: mux}

	// A listener failure after startup is not fatal to the proxy.
	go func() { _ = e.server.Serve(ln) }()
	return nil
}

// Close stops the metrics listener.
func (e *Extension) Close() error {
	if e.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return e.server.Shutdown(ctx)
}

// Compile-time check that Extension implements extension.Extension.
var _ extension.Extension = (*Extension)(nil)
