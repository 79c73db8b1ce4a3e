package mcp

import (
	"testing"
)

func TestWrapMessageRequest(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)

	msg, err := WrapMessage(raw, ClientToServer)
	if err != nil {
		t.Fatalf("WrapMessage failed: %v", err)
	}
	if !msg.IsRequest() {
		t.Error("expected IsRequest() true")
	}
	if msg.IsResponse() {
		t.Error("expected IsResponse() false")
	}
	if msg.IsNotification() {
		t.Error("a call with an id is not a notification")
	}
	if got := msg.Method(); got != "tools/list" {
		t.Errorf("Method() = %q", got)
	}
	if got := string(msg.RawID()); got != "1" {
		t.Errorf("RawID() = %q, want 1", got)
	}
	if got := msg.IDString(); got != "1" {
		t.Errorf("IDString() = %q, want 1", got)
	}
}

func TestWrapMessageNotification(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	msg, err := WrapMessage(raw, ClientToServer)
	if err != nil {
		t.Fatalf("WrapMessage failed: %v", err)
	}
	if !msg.IsNotification() {
		t.Error("expected IsNotification() true")
	}
	if msg.RawID() != nil {
		t.Errorf("RawID() = %q, want nil", msg.RawID())
	}
	if got := msg.IDString(); got != "" {
		t.Errorf("IDString() = %q, want empty", got)
	}
}

func TestWrapMessageStringID(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":"mcpmon:3","result":{}}`)

	msg, err := WrapMessage(raw, ServerToClient)
	if err != nil {
		t.Fatalf("WrapMessage failed: %v", err)
	}
	if !msg.IsResponse() {
		t.Error("expected IsResponse() true")
	}
	if got := msg.IDString(); got != "mcpmon:3" {
		t.Errorf("IDString() = %q, want unquoted string id", got)
	}
	if got := string(msg.RawID()); got != `"mcpmon:3"` {
		t.Errorf("RawID() = %q, want original quoted form", got)
	}
}

func TestWrapMessageInitialize(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"test"}}}`)

	msg, err := WrapMessage(raw, ClientToServer)
	if err != nil {
		t.Fatalf("WrapMessage failed: %v", err)
	}
	if !msg.IsInitialize() {
		t.Error("expected IsInitialize() true")
	}
	if got := string(msg.Params()); got != `{"clientInfo":{"name":"test"}}` {
		t.Errorf("Params() = %q", got)
	}
}

func TestWrapMessageMalformed(t *testing.T) {
	if _, err := WrapMessage([]byte("not-json"), ServerToClient); err == nil {
		t.Error("expected error for malformed input")
	}
}

func TestDirectionString(t *testing.T) {
	if got := ClientToServer.String(); got != "client->server" {
		t.Errorf("ClientToServer = %q", got)
	}
	if got := ServerToClient.String(); got != "server->client" {
		t.Errorf("ServerToClient = %q", got)
	}
}
