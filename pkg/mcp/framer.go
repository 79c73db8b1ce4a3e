package mcp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// MaxFrameSize is the maximum accepted length of a single newline-delimited
// frame. MCP messages can be large (tool results with embedded content), so
// the cap is generous.
const MaxFrameSize = 1 << 20 // 1MiB

// LogTruncateLimit is how many bytes of a malformed frame are included in
// operator-facing log output.
const LogTruncateLimit = 256

// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize. The
// remainder of the oversized line is consumed and discarded.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// ErrInvalidUTF8 is returned for frames that are not valid UTF-8.
var ErrInvalidUTF8 = errors.New("frame is not valid UTF-8")

// Frame is one newline-delimited unit read from a stream.
type Frame struct {
	// Payload is the frame content with the trailing newline (and any
	// preceding carriage return) stripped. This is what gets parsed.
	Payload []byte

	// Raw is the exact byte sequence read from the stream, terminator
	// included. Forwarding Raw preserves whatever framing the peer chose.
	Raw []byte
}

// Framer splits a byte stream into newline-delimited frames. A partial
// trailing fragment is carried across reads; at EOF an unterminated final
// fragment is returned as its own frame. Blank lines are skipped.
type Framer struct {
	r *bufio.Reader
}

// NewFramer creates a Framer over r.
func NewFramer(r io.Reader) *Framer {
	return &Framer{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next non-blank frame. It returns io.EOF when the stream
// is exhausted, ErrFrameTooLarge when a line exceeds MaxFrameSize (the line
// is consumed and discarded), and ErrInvalidUTF8 for frames that fail strict
// UTF-8 decoding (Frame is still populated so callers that do verbatim
// passthrough can forward it).
func (f *Framer) Next() (Frame, error) {
	for {
		raw, err := f.readLine()
		if err != nil && len(raw) == 0 {
			return Frame{}, err
		}

		frame := Frame{
			Payload: trimLineEnding(raw),
			Raw:     raw,
		}

		// Skip blank lines (bare terminators or whitespace-free empties).
		if len(frame.Payload) == 0 {
			if err != nil {
				return Frame{}, err
			}
			continue
		}

		if !utf8.Valid(frame.Payload) {
			return frame, ErrInvalidUTF8
		}

		return frame, nil
	}
}

// readLine accumulates one line including its terminator. On EOF the final
// unterminated fragment is returned with a nil error if non-empty.
func (f *Framer) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := f.r.ReadSlice('\n')
		line = append(line, chunk...)

		if len(line) > MaxFrameSize {
			if discardErr := f.discardLine(err); discardErr != nil {
				return nil, discardErr
			}
			return nil, ErrFrameTooLarge
		}

		switch {
		case err == nil:
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(line) > 0 {
				return line, nil
			}
			return nil, io.EOF
		default:
			return nil, fmt.Errorf("read frame: %w", err)
		}
	}
}

// discardLine consumes the rest of an oversized line so the next frame
// starts clean. lastErr is the error from the ReadSlice that overflowed.
func (f *Framer) discardLine(lastErr error) error {
	for errors.Is(lastErr, bufio.ErrBufferFull) {
		_, lastErr = f.r.ReadSlice('\n')
	}
	if lastErr != nil && !errors.Is(lastErr, io.EOF) {
		return lastErr
	}
	return nil
}

// trimLineEnding strips a trailing "\n" or "\r\n" from a raw line.
func trimLineEnding(raw []byte) []byte {
	n := len(raw)
	if n > 0 && raw[n-1] == '\n' {
		n--
	}
	if n > 0 && raw[n-1] == '\r' {
		n--
	}
	return raw[:n]
}

// TruncateForLog shortens b to LogTruncateLimit bytes for inclusion in log
// output, appending an ellipsis marker when truncation occurred.
func TruncateForLog(b []byte) string {
	if len(b) <= LogTruncateLimit {
		return string(b)
	}
	return string(b[:LogTruncateLimit]) + "...(truncated)"
}
