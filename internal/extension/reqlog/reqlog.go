// Package reqlog provides the request-logger extension: every intercepted
// message is appended to a SQLite database in the extensions data dir.
package reqlog

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/neilopet/mcpmon/internal/domain/hook"
	"github.com/neilopet/mcpmon/internal/extension"
	"github.com/neilopet/mcpmon/pkg/mcp"
)

// ExtensionID is the registry id of the request-logger extension.
const ExtensionID = "reqlog"

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ts        TEXT NOT NULL,
	direction TEXT NOT NULL,
	method    TEXT,
	msg_id    TEXT
);
CREATE INDEX IF NOT EXISTS idx_requests_ts ON requests(ts);
`

// Extension persists one row per proxied message.
type Extension struct {
	db     *sql.DB
	insert *sql.Stmt
}

// New creates the request-logger extension.
func New() *Extension {
	return &Extension{}
}

// ID implements extension.Extension.
func (e *Extension) ID() string { return ExtensionID }

// Description implements extension.Extension.
func (e *Extension) Description() string {
	return "append proxied messages to requests.db for offline inspection"
}

// Init opens the database and registers the logging hooks.
func (e *Extension) Init(ctx context.Context, host *extension.Host) error {
	path := filepath.Join(host.DataDir, "requests.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open request log %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return fmt.Errorf("create request log schema: %w", err)
	}
	insert, err := db.PrepareContext(ctx,
		"INSERT INTO requests (ts, direction, method, msg_id) VALUES (?, ?, ?, ?)")
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("prepare request log insert: %w", err)
	}
	e.db = db
	e.insert = insert

	host.Hooks.RegisterMessageHook(hook.BeforeStdinForward, ExtensionID, e.record)
	host.Hooks.RegisterMessageHook(hook.AfterStdoutReceive, ExtensionID, e.record)
	host.Logger.Info("request log open", "path", path)
	return nil
}

// record appends one row and passes the message through unchanged. Errors
// propagate to the bus, which logs them and treats the hook as identity.
func (e *Extension) record(ctx context.Context, msg *mcp.Message) (*mcp.Message, error) {
	_, err := e.insert.ExecContext(ctx,
		msg.Timestamp.UTC().Format(time.RFC3339Nano),
		msg.Direction.String(),
		msg.Method(),
		msg.IDString(),
	)
	if err != nil {
		return msg, fmt.Errorf("request log insert: %w", err)
	}
	return msg, nil
}

// Close closes the database.
func (e *Extension) Close() error {
	if e.insert != nil {
		_ = e.insert.Close()
	}
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

// Compile-time check that Extension implements extension.Extension.
var _ extension.Extension = (*Extension)(nil)
