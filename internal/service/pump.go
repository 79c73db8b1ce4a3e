package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/neilopet/mcpmon/internal/domain/hook"
	"github.com/neilopet/mcpmon/internal/domain/session"
	"github.com/neilopet/mcpmon/internal/port/outbound"
	"github.com/neilopet/mcpmon/pkg/mcp"
)

// toolListTracker remembers the ids of client tools/list requests so the
// stdout pump can merge synthetic tool definitions into their responses.
// Only populated when a hook registered a tool contributor.
type toolListTracker struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newToolListTracker() *toolListTracker {
	return &toolListTracker{ids: make(map[string]struct{})}
}

func (t *toolListTracker) track(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	t.ids[id] = struct{}{}
	t.mu.Unlock()
}

// take removes and reports whether id belongs to a tracked tools/list call.
func (t *toolListTracker) take(id string) bool {
	if id == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ids[id]; !ok {
		return false
	}
	delete(t.ids, id)
	return true
}

// trackToolsList records a client tools/list request id when synthetic tool
// merging is active.
func (s *Supervisor) trackToolsList(msg *mcp.Message) {
	if !s.hooks.HasToolContributors() {
		return
	}
	if msg.Method() != "tools/list" || msg.IsNotification() {
		return
	}
	s.tools.track(msg.IDString())
}

// pumpStdout copies child stdout to the client. Passthrough is
// authoritative: frames that fail to parse are forwarded verbatim and only
// skipped for interception. Parsed frames run the afterStdoutReceive hooks,
// resolve proxy-synthesized responses (which are never forwarded), and pick
// up synthetic tool definitions on intercepted tools/list responses.
func (s *Supervisor) pumpStdout(child outbound.ChildHandle) {
	framer := mcp.NewFramer(child.Stdout())
	for {
		frame, err := framer.Next()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return
		case errors.Is(err, mcp.ErrInvalidUTF8):
			s.logger.Warn("server emitted non-UTF-8 frame, forwarding verbatim",
				"frame", mcp.TruncateForLog(frame.Payload),
			)
			_ = s.out.WriteRaw(frame.Raw)
			continue
		case errors.Is(err, mcp.ErrFrameTooLarge):
			s.logger.Warn("dropping oversized server frame", "limit", mcp.MaxFrameSize)
			continue
		default:
			s.logger.Debug("server stdout closed", "error", err)
			return
		}

		start := time.Now()
		msg := &mcp.Message{
			Raw:       frame.Payload,
			Direction: mcp.ServerToClient,
			Timestamp: start,
		}

		decoded, derr := mcp.DecodeMessage(frame.Payload)
		if derr != nil {
			// ParseError: forward verbatim, skip interception.
			s.logger.Warn("failed to parse server output, forwarding verbatim",
				"frame", mcp.TruncateForLog(frame.Payload),
				"error", derr,
			)
			_ = s.out.WriteRaw(frame.Raw)
			continue
		}
		msg.Decoded = decoded

		out, suppressed := s.hooks.DispatchMessage(s.baseCtx, hook.AfterStdoutReceive, msg)
		if suppressed {
			s.logger.Debug("server message suppressed by hook")
			continue
		}

		// Responses to proxy-synthesized requests resolve their waiter and
		// are swallowed: the client never sees ids it did not allocate.
		if out.IsResponse() {
			id := out.IDString()
			if strings.HasPrefix(id, session.IDPrefix) && s.sess.Resolve(id, splitResponse(out.Raw)) {
				continue
			}
			if s.tools.take(id) {
				if merged, ok := s.mergeToolsResponse(out.Raw); ok {
					out = &mcp.Message{Raw: merged, Direction: out.Direction, Decoded: out.Decoded, Timestamp: out.Timestamp}
				}
			}
		}

		// Unmodified frames keep the child's exact bytes and framing.
		if bytes.Equal(out.Raw, frame.Payload) {
			if err := s.out.WriteRaw(frame.Raw); err != nil {
				s.logger.Debug("client write failed", "error", err)
				return
			}
		} else {
			if err := s.out.WriteLine(out.Raw); err != nil {
				s.logger.Debug("client write failed", "error", err)
				return
			}
		}

		s.logger.Debug("forwarded message",
			"direction", mcp.ServerToClient.String(),
			"method", out.Method(),
			"latency_us", time.Since(start).Microseconds(),
		)
	}
}

// pumpStderr forwards child stderr to the proxy's stderr with no parsing.
func (s *Supervisor) pumpStderr(child outbound.ChildHandle) {
	_, _ = io.Copy(s.errOut, child.Stderr())
}

// splitResponse extracts the result and error members from a raw response
// frame for delivery to a pending waiter.
func splitResponse(raw []byte) session.Response {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return session.Response{}
	}
	return session.Response{Result: fields["result"], Error: fields["error"]}
}

// mergeToolsResponse appends the hooks' synthetic tool definitions to the
// tools array of a tools/list response. Returns the rewritten frame, or
// ok=false when the frame does not have the expected shape.
func (s *Supervisor) mergeToolsResponse(raw []byte) ([]byte, bool) {
	synthetic := s.hooks.SyntheticTools()
	if len(synthetic) == 0 {
		return nil, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	resultRaw, ok := fields["result"]
	if !ok {
		return nil, false
	}
	var result map[string]json.RawMessage
	if err := json.Unmarshal(resultRaw, &result); err != nil {
		return nil, false
	}

	var tools []json.RawMessage
	if toolsRaw, ok := result["tools"]; ok {
		if err := json.Unmarshal(toolsRaw, &tools); err != nil {
			return nil, false
		}
	}
	for _, t := range synthetic {
		encoded, err := json.Marshal(t)
		if err != nil {
			continue
		}
		tools = append(tools, encoded)
	}

	toolsOut, err := json.Marshal(tools)
	if err != nil {
		return nil, false
	}
	result["tools"] = toolsOut
	resultOut, err := json.Marshal(result)
	if err != nil {
		return nil, false
	}
	fields["result"] = resultOut
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, false
	}
	return out, true
}

// mergeSyntheticTools appends the hooks' synthetic tool definitions to a
// raw tools array, used when building the tools/list_changed notification.
func (s *Supervisor) mergeSyntheticTools(toolsJSON json.RawMessage) json.RawMessage {
	if !s.hooks.HasToolContributors() {
		return toolsJSON
	}
	synthetic := s.hooks.SyntheticTools()
	if len(synthetic) == 0 {
		return toolsJSON
	}

	var tools []json.RawMessage
	if err := json.Unmarshal(toolsJSON, &tools); err != nil {
		return toolsJSON
	}
	for _, t := range synthetic {
		encoded, err := json.Marshal(t)
		if err != nil {
			continue
		}
		tools = append(tools, encoded)
	}
	out, err := json.Marshal(tools)
	if err != nil {
		return toolsJSON
	}
	return out
}
