package hook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/neilopet/mcpmon/pkg/mcp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMsg(t *testing.T, raw string) *mcp.Message {
	t.Helper()
	msg, err := mcp.WrapMessage([]byte(raw), mcp.ClientToServer)
	if err != nil {
		t.Fatalf("WrapMessage failed: %v", err)
	}
	return msg
}

func TestDispatchEmptyBusIsIdentity(t *testing.T) {
	b := NewBus(discardLogger())
	msg := testMsg(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)

	out, suppressed := b.DispatchMessage(context.Background(), BeforeStdinForward, msg)
	if suppressed {
		t.Fatal("empty bus suppressed a message")
	}
	if out != msg {
		t.Error("empty bus should return the input unchanged")
	}
}

func TestDispatchRegistrationOrder(t *testing.T) {
	b := NewBus(discardLogger())
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		b.RegisterMessageHook(BeforeStdinForward, name,
			func(ctx context.Context, msg *mcp.Message) (*mcp.Message, error) {
				order = append(order, name)
				return msg, nil
			})
	}

	b.DispatchMessage(context.Background(), BeforeStdinForward, testMsg(t, `{"jsonrpc":"2.0","method":"ping"}`))

	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Errorf("hook order = %v", order)
	}
}

func TestDispatchMutation(t *testing.T) {
	b := NewBus(discardLogger())
	replacement := testMsg(t, `{"jsonrpc":"2.0","id":1,"method":"renamed"}`)
	b.RegisterMessageHook(BeforeStdinForward, "mutator",
		func(ctx context.Context, msg *mcp.Message) (*mcp.Message, error) {
			return replacement, nil
		})

	var sawMethod string
	b.RegisterMessageHook(BeforeStdinForward, "observer",
		func(ctx context.Context, msg *mcp.Message) (*mcp.Message, error) {
			sawMethod = msg.Method()
			return msg, nil
		})

	out, suppressed := b.DispatchMessage(context.Background(), BeforeStdinForward,
		testMsg(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if suppressed {
		t.Fatal("unexpected suppression")
	}
	if out != replacement {
		t.Error("mutated message not returned")
	}
	if sawMethod != "renamed" {
		t.Errorf("downstream hook saw %q, want mutated message", sawMethod)
	}
}

func TestDispatchSuppression(t *testing.T) {
	b := NewBus(discardLogger())
	b.RegisterMessageHook(BeforeStdinForward, "suppressor",
		func(ctx context.Context, msg *mcp.Message) (*mcp.Message, error) {
			return nil, nil
		})

	called := false
	b.RegisterMessageHook(BeforeStdinForward, "downstream",
		func(ctx context.Context, msg *mcp.Message) (*mcp.Message, error) {
			called = true
			return msg, nil
		})

	out, suppressed := b.DispatchMessage(context.Background(), BeforeStdinForward,
		testMsg(t, `{"jsonrpc":"2.0","method":"ping"}`))
	if !suppressed {
		t.Fatal("expected suppression")
	}
	if out != nil {
		t.Error("suppressed dispatch should return nil message")
	}
	if called {
		t.Error("downstream hook ran after suppression")
	}
}

func TestDispatchErrorIsIdentity(t *testing.T) {
	b := NewBus(discardLogger())
	b.RegisterMessageHook(BeforeStdinForward, "broken",
		func(ctx context.Context, msg *mcp.Message) (*mcp.Message, error) {
			return nil, errors.New("boom")
		})

	msg := testMsg(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	out, suppressed := b.DispatchMessage(context.Background(), BeforeStdinForward, msg)
	if suppressed {
		t.Fatal("erroring hook must not suppress")
	}
	if out != msg {
		t.Error("erroring hook must pass the unmodified input along")
	}
}

func TestDispatchPanicIsIdentity(t *testing.T) {
	b := NewBus(discardLogger())
	b.RegisterMessageHook(BeforeStdinForward, "panicker",
		func(ctx context.Context, msg *mcp.Message) (*mcp.Message, error) {
			panic("kaboom")
		})

	msg := testMsg(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	out, suppressed := b.DispatchMessage(context.Background(), BeforeStdinForward, msg)
	if suppressed || out != msg {
		t.Error("panicking hook must be treated as identity")
	}
}

func TestLifecycleErrorsSwallowed(t *testing.T) {
	b := NewBus(discardLogger())
	ran := 0
	b.RegisterLifecycleHook(BeforeRestart, "bad", func(ctx context.Context) error {
		ran++
		return errors.New("ignored")
	})
	b.RegisterLifecycleHook(BeforeRestart, "panics", func(ctx context.Context) error {
		ran++
		panic("ignored too")
	})
	b.RegisterLifecycleHook(BeforeRestart, "good", func(ctx context.Context) error {
		ran++
		return nil
	})

	b.DispatchLifecycle(context.Background(), BeforeRestart)
	if ran != 3 {
		t.Errorf("ran %d lifecycle hooks, want all 3", ran)
	}
}

func TestToolContributors(t *testing.T) {
	b := NewBus(discardLogger())
	if b.HasToolContributors() {
		t.Error("fresh bus should have no contributors")
	}

	b.RegisterToolContributor(func() []Tool {
		return []Tool{{Name: "synthetic_tool"}}
	})

	if !b.HasToolContributors() {
		t.Error("expected contributor registered")
	}
	tools := b.SyntheticTools()
	if len(tools) != 1 || tools[0].Name != "synthetic_tool" {
		t.Errorf("SyntheticTools() = %+v", tools)
	}
}
