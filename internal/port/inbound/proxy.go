// Package inbound defines the inbound port interfaces for the proxy core.
// Inbound adapters (stdio) call these interfaces.
package inbound

import (
	"context"
)

// ProxyService is the inbound port for the proxy core.
type ProxyService interface {
	// Start begins supervising the child and proxying between the client
	// and the child. Blocks until context is cancelled, the client
	// disconnects, or a fatal error occurs.
	Start(ctx context.Context) error

	// Close gracefully shuts down the proxy and cleans up resources.
	Close() error
}
