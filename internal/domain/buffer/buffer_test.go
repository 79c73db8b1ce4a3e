package buffer

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/neilopet/mcpmon/pkg/mcp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func reqMsg(t *testing.T, id int, method string) *mcp.Message {
	t.Helper()
	raw := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":%q}`, id, method)
	msg, err := mcp.WrapMessage([]byte(raw), mcp.ClientToServer)
	if err != nil {
		t.Fatalf("WrapMessage failed: %v", err)
	}
	return msg
}

func TestPushDrainFIFO(t *testing.T) {
	b := New(10, discardLogger())
	for i := 1; i <= 3; i++ {
		b.Push(reqMsg(t, i, "ping"))
	}

	msgs := b.Drain()
	if len(msgs) != 3 {
		t.Fatalf("Drain returned %d messages, want 3", len(msgs))
	}
	for i, m := range msgs {
		if got := m.IDString(); got != fmt.Sprintf("%d", i+1) {
			t.Errorf("message %d has id %q", i, got)
		}
	}
	if b.Len() != 0 {
		t.Errorf("Len() = %d after drain", b.Len())
	}
}

func TestOverflowDropsOldestNonInit(t *testing.T) {
	b := New(3, discardLogger())
	b.Push(reqMsg(t, 1, "initialize"))
	b.Push(reqMsg(t, 2, "ping"))
	b.Push(reqMsg(t, 3, "ping"))

	// Overflow: id=2 (oldest non-init) must go, the initialize must stay.
	b.Push(reqMsg(t, 4, "ping"))

	msgs := b.Drain()
	if len(msgs) != 3 {
		t.Fatalf("Len = %d, want 3", len(msgs))
	}
	if !msgs[0].IsInitialize() {
		t.Error("initialize was dropped on overflow")
	}
	if got := msgs[1].IDString(); got != "3" {
		t.Errorf("expected id=3 to survive, got %q", got)
	}
	if got := msgs[2].IDString(); got != "4" {
		t.Errorf("expected id=4 appended, got %q", got)
	}
}

func TestOverflowAllInit(t *testing.T) {
	// A buffer full of initialize messages drops the incoming message
	// instead of the cached handshakes.
	b := New(2, discardLogger())
	b.Push(reqMsg(t, 1, "initialize"))
	b.Push(reqMsg(t, 2, "initialize"))
	b.Push(reqMsg(t, 3, "ping"))

	msgs := b.Drain()
	if len(msgs) != 2 {
		t.Fatalf("Len = %d, want 2", len(msgs))
	}
	for _, m := range msgs {
		if !m.IsInitialize() {
			t.Errorf("non-initialize message survived: %s", m.Method())
		}
	}
}

func TestPushFront(t *testing.T) {
	b := New(10, discardLogger())
	b.Push(reqMsg(t, 2, "ping"))
	b.PushFront(reqMsg(t, 1, "ping"))

	msgs := b.Drain()
	if got := msgs[0].IDString(); got != "1" {
		t.Errorf("head id = %q, want requeued message first", got)
	}
}

func TestDropInitialize(t *testing.T) {
	b := New(10, discardLogger())
	b.Push(reqMsg(t, 1, "initialize"))
	b.Push(reqMsg(t, 2, "ping"))
	b.Push(reqMsg(t, 3, "initialize"))

	if dropped := b.DropInitialize(); dropped != 2 {
		t.Errorf("DropInitialize() = %d, want 2", dropped)
	}
	msgs := b.Drain()
	if len(msgs) != 1 || msgs[0].Method() != "ping" {
		t.Errorf("unexpected survivors: %d", len(msgs))
	}
}

func TestBufferBoundNeverExceeded(t *testing.T) {
	b := New(5, discardLogger())
	for i := 0; i < 50; i++ {
		b.Push(reqMsg(t, i, "ping"))
		if b.Len() > 5 {
			t.Fatalf("buffer grew to %d, capacity 5", b.Len())
		}
	}
}
