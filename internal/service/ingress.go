package service

import (
	"errors"
	"io"

	"github.com/neilopet/mcpmon/pkg/mcp"
)

// readClient is the client-ingress loop: frame proxy stdin, parse, and post
// parsed messages to the controller queue. Malformed frames are logged
// (truncated) and dropped, never forwarded. EOF signals shutdown.
func (s *Supervisor) readClient() {
	framer := mcp.NewFramer(s.clientIn)
	for {
		frame, err := framer.Next()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			s.logger.Debug("client disconnected")
			s.post(evClientEOF{})
			return
		case errors.Is(err, mcp.ErrInvalidUTF8):
			s.logger.Warn("dropping non-UTF-8 client frame",
				"frame", mcp.TruncateForLog(frame.Payload),
			)
			continue
		case errors.Is(err, mcp.ErrFrameTooLarge):
			s.logger.Warn("dropping oversized client frame", "limit", mcp.MaxFrameSize)
			continue
		default:
			s.logger.Warn("client read failed", "error", err)
			s.post(evClientEOF{})
			return
		}

		msg, werr := mcp.WrapMessage(frame.Payload, mcp.ClientToServer)
		if werr != nil {
			// ParseError: client frames must be valid JSON-RPC to route.
			s.logger.Warn("dropping malformed client message",
				"frame", mcp.TruncateForLog(frame.Payload),
				"error", werr,
			)
			continue
		}

		s.post(evClientMessage{msg: msg})
	}
}
