package service

import (
	"io"
	"sync"
)

// frameWriter serializes frame writes to the client-facing output. Both the
// child-stdout pump and the controller (tool-change notifications) write to
// it, so every frame must land atomically.
type frameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{w: w}
}

// WriteRaw writes b exactly as given. Used for verbatim passthrough where
// the peer's own framing (terminator included) must be preserved.
func (f *frameWriter) WriteRaw(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.w.Write(b)
	return err
}

// WriteLine writes b followed by a newline.
func (f *frameWriter) WriteLine(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.w.Write(b); err != nil {
		return err
	}
	_, err := f.w.Write([]byte("\n"))
	return err
}
