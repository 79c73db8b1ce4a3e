// Package stdio provides the stdio transport adapter for the proxy.
package stdio

import (
	"context"

	"github.com/neilopet/mcpmon/internal/port/inbound"
	"github.com/neilopet/mcpmon/internal/service"
)

// Transport is the inbound adapter that connects the supervisor to the
// process's stdin/stdout. It implements the inbound.ProxyService interface.
type Transport struct {
	supervisor *service.Supervisor
}

// New creates a stdio transport wrapping the given supervisor.
func New(supervisor *service.Supervisor) *Transport {
	return &Transport{supervisor: supervisor}
}

// Start begins supervising and proxying between os.Stdin/os.Stdout and the
// child. It blocks until the context is cancelled, the client disconnects,
// or a fatal error occurs.
func (t *Transport) Start(ctx context.Context) error {
	return t.supervisor.Start(ctx)
}

// ExitCode returns the process exit code once Start has returned.
func (t *Transport) ExitCode() int {
	return t.supervisor.ExitCode()
}

// Close releases supervisor resources.
func (t *Transport) Close() error {
	return t.supervisor.Close()
}

// Compile-time check that Transport implements ProxyService.
var _ inbound.ProxyService = (*Transport)(nil)
