// Package session holds the per-proxy-lifetime session state: the captured
// initialize handshake and the allocator for proxy-synthesized request ids.
package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDPrefix tags proxy-synthesized request ids. Client-originated ids are
// numbers or arbitrary strings; the prefix keeps the two spaces disjoint.
const IDPrefix = "mcpmon:"

// Response is the subset of a JSON-RPC response a pending waiter needs.
type Response struct {
	Result json.RawMessage
	Error  json.RawMessage
}

// Session is created at proxy start and destroyed at proxy shutdown.
// InitializeParams and the id allocator are touched only by the restart
// controller; the pending-response map is additionally resolved from the
// child-stdout pump, so it is mutex-protected.
type Session struct {
	// ID identifies this proxy lifetime in logs.
	ID string

	mu               sync.Mutex
	initializeParams json.RawMessage
	nextProxyID      int
	pending          map[string]chan Response
}

// New creates an empty session.
func New() *Session {
	return &Session{
		ID:      uuid.New().String(),
		pending: make(map[string]chan Response),
	}
}

// SetInitializeParams snapshots the params of a client-originated initialize
// request, overwriting any prior value.
func (s *Session) SetInitializeParams(params json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initializeParams = params
}

// InitializeParams returns the most recent initialize params, or nil if the
// client has not initialized yet.
func (s *Session) InitializeParams() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initializeParams
}

// AllocateRequestID returns the next proxy-synthesized request id.
// Ids are monotonic, starting at "mcpmon:1".
func (s *Session) AllocateRequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProxyID++
	return fmt.Sprintf("%s%d", IDPrefix, s.nextProxyID)
}

// RegisterPending creates a one-shot waiter for a proxy-synthesized request.
// The returned channel receives exactly one Response if the child answers;
// the caller must Cancel the id if it gives up waiting.
func (s *Session) RegisterPending(id string) <-chan Response {
	ch := make(chan Response, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = ch
	return ch
}

// Resolve delivers a response to the pending waiter for id, if any.
// Returns true when a waiter was resolved; the caller uses this to decide
// whether to swallow the frame instead of forwarding it to the client.
func (s *Session) Resolve(id string, resp Response) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp
	return true
}

// Cancel removes a pending waiter without resolving it.
func (s *Session) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// PendingCount returns the number of outstanding proxy-synthesized requests.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
