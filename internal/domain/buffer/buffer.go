// Package buffer implements the bounded FIFO of client messages captured
// while the child is unavailable during a restart.
package buffer

import (
	"log/slog"

	"github.com/neilopet/mcpmon/pkg/mcp"
)

// DefaultCapacity bounds the buffer when no explicit capacity is configured.
const DefaultCapacity = 1000

// MessageBuffer is an ordered, bounded sequence of client messages. On
// overflow the oldest non-initialize message is dropped with a warning; a
// buffered initialize is never dropped. Not safe for concurrent use: only
// the restart controller touches it.
type MessageBuffer struct {
	msgs   []*mcp.Message
	cap    int
	logger *slog.Logger
}

// New creates a buffer holding at most capacity messages.
// A capacity <= 0 falls back to DefaultCapacity.
func New(capacity int, logger *slog.Logger) *MessageBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MessageBuffer{
		cap:    capacity,
		logger: logger,
	}
}

// Push appends a message, evicting the oldest non-initialize message when
// the buffer is full.
func (b *MessageBuffer) Push(msg *mcp.Message) {
	if len(b.msgs) >= b.cap {
		if !b.evictOldest() {
			// Every buffered message is an initialize; drop the incoming
			// message instead so the cached handshake survives.
			b.logger.Warn("message buffer full, dropping incoming message",
				"method", msg.Method(),
				"capacity", b.cap,
			)
			return
		}
	}
	b.msgs = append(b.msgs, msg)
}

// PushFront requeues a message at the head. Used when an in-flight write to
// the child failed and the message must be replayed first after restart.
func (b *MessageBuffer) PushFront(msg *mcp.Message) {
	b.msgs = append([]*mcp.Message{msg}, b.msgs...)
	if len(b.msgs) > b.cap {
		b.evictOldestFrom(1)
	}
}

// Drain removes and returns all buffered messages in FIFO order.
func (b *MessageBuffer) Drain() []*mcp.Message {
	out := b.msgs
	b.msgs = nil
	return out
}

// DropInitialize removes any buffered initialize requests. Called before
// replay so the synthesized initialize from the session snapshot is the only
// one the new child sees.
func (b *MessageBuffer) DropInitialize() int {
	var kept []*mcp.Message
	dropped := 0
	for _, m := range b.msgs {
		if m.IsInitialize() {
			dropped++
			continue
		}
		kept = append(kept, m)
	}
	b.msgs = kept
	return dropped
}

// Len returns the number of buffered messages.
func (b *MessageBuffer) Len() int {
	return len(b.msgs)
}

// evictOldest drops the oldest non-initialize message.
// Returns false when the buffer contains only initialize messages.
func (b *MessageBuffer) evictOldest() bool {
	return b.evictOldestFrom(0)
}

func (b *MessageBuffer) evictOldestFrom(start int) bool {
	for i := start; i < len(b.msgs); i++ {
		if b.msgs[i].IsInitialize() {
			continue
		}
		b.logger.Warn("message buffer full, dropping oldest message",
			"method", b.msgs[i].Method(),
			"capacity", b.cap,
		)
		b.msgs = append(b.msgs[:i], b.msgs[i+1:]...)
		return true
	}
	return false
}
