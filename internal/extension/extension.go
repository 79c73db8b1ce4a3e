// Package extension implements the extension registry. Extensions are
// message interceptors and lifecycle observers hanging off the hook bus;
// the proxy core is fully functional with none enabled.
package extension

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/neilopet/mcpmon/internal/domain/hook"
)

// Host is what an extension gets to work with: the hook bus to register
// callbacks on, a logger, its slice of the shared data directory, and its
// own config section.
type Host struct {
	// Hooks is the proxy's hook bus.
	Hooks *hook.Bus

	// Logger is namespaced with the extension id.
	Logger *slog.Logger

	// DataDir is a directory the extension may persist state in. Created
	// before Init is called.
	DataDir string

	// Config is this extension's section of the --extension-config JSON
	// object, or nil when none was given.
	Config json.RawMessage
}

// Extension is the plug-in contract. Implementations register hooks during
// Init and release resources in Close.
type Extension interface {
	// ID is the stable identifier used by --enable-extension.
	ID() string

	// Description is a one-line summary for --list-extensions.
	Description() string

	// Init wires the extension into the host. Called once, before the
	// proxy starts, and only for enabled extensions.
	Init(ctx context.Context, host *Host) error

	// Close releases extension resources at proxy shutdown.
	Close() error
}
