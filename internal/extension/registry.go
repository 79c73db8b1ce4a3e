package extension

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/neilopet/mcpmon/internal/domain/hook"
)

// Info describes a registered extension for --list-extensions.
type Info struct {
	ID          string
	Description string
	Enabled     bool
}

// Registry holds the known extensions and their enablement. Extensions are
// registered at startup and disabled by default.
type Registry struct {
	logger  *slog.Logger
	order   []Extension
	byID    map[string]Extension
	enabled map[string]bool
	inited  []Extension
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  logger,
		byID:    make(map[string]Extension),
		enabled: make(map[string]bool),
	}
}

// Register adds an extension. Duplicate ids are an error.
func (r *Registry) Register(ext Extension) error {
	id := ext.ID()
	if _, exists := r.byID[id]; exists {
		return fmt.Errorf("extension %q registered twice", id)
	}
	r.byID[id] = ext
	r.order = append(r.order, ext)
	return nil
}

// SetEnabled applies the enable/disable lists. Disabled wins over enabled.
// Unknown ids are an error so typos surface immediately.
func (r *Registry) SetEnabled(enabled, disabled []string) error {
	for _, id := range enabled {
		if _, ok := r.byID[id]; !ok {
			return fmt.Errorf("unknown extension %q", id)
		}
		r.enabled[id] = true
	}
	for _, id := range disabled {
		if _, ok := r.byID[id]; !ok {
			return fmt.Errorf("unknown extension %q", id)
		}
		r.enabled[id] = false
	}
	return nil
}

// List returns all registered extensions in registration order.
func (r *Registry) List() []Info {
	infos := make([]Info, 0, len(r.order))
	for _, ext := range r.order {
		infos = append(infos, Info{
			ID:          ext.ID(),
			Description: ext.Description(),
			Enabled:     r.enabled[ext.ID()],
		})
	}
	return infos
}

// InitEnabled initializes every enabled extension against the hook bus.
// configJSON is the raw --extension-config object keyed by extension id;
// dataDir is the shared extensions data directory (each extension gets a
// subdirectory).
func (r *Registry) InitEnabled(ctx context.Context, bus *hook.Bus, dataDir, configJSON string) error {
	var sections map[string]json.RawMessage
	if configJSON != "" {
		if err := json.Unmarshal([]byte(configJSON), &sections); err != nil {
			return fmt.Errorf("parse extension config: %w", err)
		}
	}

	for _, ext := range r.order {
		id := ext.ID()
		if !r.enabled[id] {
			continue
		}

		extDir := filepath.Join(dataDir, id)
		if err := os.MkdirAll(extDir, 0o755); err != nil {
			return fmt.Errorf("create data dir for extension %q: %w", id, err)
		}

		host := &Host{
			Hooks:   bus,
			Logger:  r.logger.With("extension", id),
			DataDir: extDir,
			Config:  sections[id],
		}
		if err := ext.Init(ctx, host); err != nil {
			return fmt.Errorf("init extension %q: %w", id, err)
		}
		r.inited = append(r.inited, ext)
		r.logger.Debug("extension initialized", "extension", id)
	}
	return nil
}

// Close shuts down initialized extensions in reverse order. Errors are
// logged, not propagated; shutdown proceeds regardless.
func (r *Registry) Close() {
	for i := len(r.inited) - 1; i >= 0; i-- {
		ext := r.inited[i]
		if err := ext.Close(); err != nil {
			r.logger.Warn("extension close failed", "extension", ext.ID(), "error", err)
		}
	}
	r.inited = nil
}
