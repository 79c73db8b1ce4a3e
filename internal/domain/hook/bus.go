// Package hook implements the dispatch bus for message and lifecycle
// interceptors. Extensions register callbacks at startup; the bus is empty
// by default and the proxy is fully functional without any hooks.
package hook

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/neilopet/mcpmon/pkg/mcp"
)

// Point identifies a message hook point.
type Point int

const (
	// BeforeStdinForward runs on client messages before they are written
	// to the child (or buffered for replay).
	BeforeStdinForward Point = iota
	// AfterStdoutReceive runs on parsed child output before it is written
	// to the client.
	AfterStdoutReceive
)

// String returns the string representation of the Point.
func (p Point) String() string {
	switch p {
	case BeforeStdinForward:
		return "beforeStdinForward"
	case AfterStdoutReceive:
		return "afterStdoutReceive"
	default:
		return "unknown"
	}
}

// LifecyclePoint identifies a payload-free lifecycle hook point.
type LifecyclePoint int

const (
	// BeforeRestart runs when the controller enters Draining.
	BeforeRestart LifecyclePoint = iota
	// AfterServerStart runs once a new child has been spawned.
	AfterServerStart
	// OnShutdown runs when the proxy begins shutting down.
	OnShutdown
)

// String returns the string representation of the LifecyclePoint.
func (p LifecyclePoint) String() string {
	switch p {
	case BeforeRestart:
		return "beforeRestart"
	case AfterServerStart:
		return "afterServerStart"
	case OnShutdown:
		return "onShutdown"
	default:
		return "unknown"
	}
}

// MessageHook inspects one message. Returning (msg, nil) forwards msg —
// possibly a replacement whose Raw holds the serialized substitute.
// Returning (nil, nil) suppresses the message for downstream hooks and for
// the forward. Returning an error is logged and treated as identity.
type MessageHook func(ctx context.Context, msg *mcp.Message) (*mcp.Message, error)

// LifecycleHook is a payload-free callback. Errors are logged and swallowed.
type LifecycleHook func(ctx context.Context) error

// Tool is a synthetic tool definition contributed by a hook, merged into the
// reply when the proxy intercepts a tools/list response.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolContributor supplies synthetic tool definitions. Registering one opts
// the bus into tools/list interception; default behavior is pure passthrough.
type ToolContributor func() []Tool

type namedMessageHook struct {
	name string
	fn   MessageHook
}

type namedLifecycleHook struct {
	name string
	fn   LifecycleHook
}

// Bus dispatches registered callbacks in registration order. Registration
// happens during startup; dispatch is read-mostly and guarded for safety.
type Bus struct {
	mu           sync.RWMutex
	message      map[Point][]namedMessageHook
	lifecycle    map[LifecyclePoint][]namedLifecycleHook
	contributors []ToolContributor
	logger       *slog.Logger
}

// NewBus creates an empty hook bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		message:   make(map[Point][]namedMessageHook),
		lifecycle: make(map[LifecyclePoint][]namedLifecycleHook),
		logger:    logger,
	}
}

// RegisterMessageHook adds fn at the given point. name identifies the
// registrant (extension id) in log output.
func (b *Bus) RegisterMessageHook(point Point, name string, fn MessageHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.message[point] = append(b.message[point], namedMessageHook{name: name, fn: fn})
}

// RegisterLifecycleHook adds fn at the given lifecycle point.
func (b *Bus) RegisterLifecycleHook(point LifecyclePoint, name string, fn LifecycleHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lifecycle[point] = append(b.lifecycle[point], namedLifecycleHook{name: name, fn: fn})
}

// RegisterToolContributor adds a synthetic-tool supplier and opts the bus
// into tools/list interception.
func (b *Bus) RegisterToolContributor(fn ToolContributor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contributors = append(b.contributors, fn)
}

// DispatchMessage applies the hooks registered at point to msg in
// registration order. The second return value is true when a hook
// suppressed the message; the caller must not forward it.
func (b *Bus) DispatchMessage(ctx context.Context, point Point, msg *mcp.Message) (*mcp.Message, bool) {
	b.mu.RLock()
	hooks := b.message[point]
	b.mu.RUnlock()

	current := msg
	for _, h := range hooks {
		out, err := b.invokeMessageHook(ctx, point, h, current)
		if err != nil {
			b.logger.Error("hook failed, passing message through unchanged",
				"point", point.String(),
				"hook", h.name,
				"error", err,
			)
			continue
		}
		if out == nil {
			return nil, true
		}
		current = out
	}
	return current, false
}

// invokeMessageHook runs one hook, converting panics into errors so a
// misbehaving extension cannot take down the proxy.
func (b *Bus) invokeMessageHook(ctx context.Context, point Point, h namedMessageHook, msg *mcp.Message) (out *mcp.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("hook panicked",
				"point", point.String(),
				"hook", h.name,
				"panic", r,
			)
			out, err = msg, nil
		}
	}()
	return h.fn(ctx, msg)
}

// DispatchLifecycle runs the hooks registered at point. Errors and panics
// are logged and swallowed.
func (b *Bus) DispatchLifecycle(ctx context.Context, point LifecyclePoint) {
	b.mu.RLock()
	hooks := b.lifecycle[point]
	b.mu.RUnlock()

	for _, h := range hooks {
		b.invokeLifecycleHook(ctx, point, h)
	}
}

func (b *Bus) invokeLifecycleHook(ctx context.Context, point LifecyclePoint, h namedLifecycleHook) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("lifecycle hook panicked",
				"point", point.String(),
				"hook", h.name,
				"panic", r,
			)
		}
	}()
	if err := h.fn(ctx); err != nil {
		b.logger.Error("lifecycle hook failed",
			"point", point.String(),
			"hook", h.name,
			"error", err,
		)
	}
}

// HasToolContributors reports whether any hook opted into tools/list
// interception.
func (b *Bus) HasToolContributors() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.contributors) > 0
}

// SyntheticTools collects tool definitions from all contributors.
func (b *Bus) SyntheticTools() []Tool {
	b.mu.RLock()
	contributors := b.contributors
	b.mu.RUnlock()

	var tools []Tool
	for _, c := range contributors {
		tools = append(tools, c()...)
	}
	return tools
}
