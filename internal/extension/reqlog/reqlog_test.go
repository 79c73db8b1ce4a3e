package reqlog

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/neilopet/mcpmon/internal/domain/hook"
	"github.com/neilopet/mcpmon/internal/extension"
	"github.com/neilopet/mcpmon/pkg/mcp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordsMessages(t *testing.T) {
	bus := hook.NewBus(discardLogger())
	ext := New()
	dataDir := t.TempDir()

	err := ext.Init(context.Background(), &extension.Host{
		Hooks:   bus,
		Logger:  discardLogger(),
		DataDir: dataDir,
	})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	msg, err := mcp.WrapMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`), mcp.ClientToServer)
	if err != nil {
		t.Fatalf("WrapMessage failed: %v", err)
	}
	out, suppressed := bus.DispatchMessage(context.Background(), hook.BeforeStdinForward, msg)
	if suppressed || out != msg {
		t.Fatal("reqlog must pass messages through unchanged")
	}

	if err := ext.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The row is queryable from a fresh connection.
	db, err := sql.Open("sqlite", filepath.Join(dataDir, "requests.db"))
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer db.Close()

	var direction, method, msgID string
	row := db.QueryRow("SELECT direction, method, msg_id FROM requests")
	if err := row.Scan(&direction, &method, &msgID); err != nil {
		t.Fatalf("scan row: %v", err)
	}
	if direction != "client->server" || method != "tools/list" || msgID != "1" {
		t.Errorf("row = (%q, %q, %q)", direction, method, msgID)
	}
}
