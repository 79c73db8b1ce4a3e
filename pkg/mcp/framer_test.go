package mcp

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFramerSplitsLines(t *testing.T) {
	input := "{\"a\":1}\n{\"b\":2}\n"
	f := NewFramer(strings.NewReader(input))

	frame, err := f.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got := string(frame.Payload); got != `{"a":1}` {
		t.Errorf("payload = %q, want %q", got, `{"a":1}`)
	}
	if got := string(frame.Raw); got != "{\"a\":1}\n" {
		t.Errorf("raw = %q, want terminator preserved", got)
	}

	frame, err = f.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got := string(frame.Payload); got != `{"b":2}` {
		t.Errorf("payload = %q, want %q", got, `{"b":2}`)
	}

	if _, err := f.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestFramerSkipsBlankLines(t *testing.T) {
	f := NewFramer(strings.NewReader("\n\n{\"a\":1}\n\n"))

	frame, err := f.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got := string(frame.Payload); got != `{"a":1}` {
		t.Errorf("payload = %q", got)
	}
	if _, err := f.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestFramerPreservesCRLF(t *testing.T) {
	f := NewFramer(strings.NewReader("{\"a\":1}\r\n"))

	frame, err := f.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got := string(frame.Payload); got != `{"a":1}` {
		t.Errorf("payload = %q, want CR stripped", got)
	}
	if got := string(frame.Raw); got != "{\"a\":1}\r\n" {
		t.Errorf("raw = %q, want CRLF preserved", got)
	}
}

func TestFramerTrailingFragment(t *testing.T) {
	// Final line without a terminator is still delivered.
	f := NewFramer(strings.NewReader("{\"a\":1}"))

	frame, err := f.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got := string(frame.Payload); got != `{"a":1}` {
		t.Errorf("payload = %q", got)
	}
	if got := string(frame.Raw); got != `{"a":1}` {
		t.Errorf("raw = %q, no terminator should be invented", got)
	}
	if _, err := f.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestFramerFragmentAcrossReads(t *testing.T) {
	// Feed the frame in two chunks through a pipe to exercise the
	// partial-fragment path.
	pr, pw := io.Pipe()
	go func() {
		_, _ = pw.Write([]byte(`{"a":`))
		_, _ = pw.Write([]byte("1}\n"))
		_ = pw.Close()
	}()

	f := NewFramer(pr)
	frame, err := f.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got := string(frame.Payload); got != `{"a":1}` {
		t.Errorf("payload = %q", got)
	}
}

func TestFramerInvalidUTF8(t *testing.T) {
	raw := append([]byte{0xff, 0xfe}, '\n')
	f := NewFramer(bytes.NewReader(raw))

	frame, err := f.Next()
	if !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("expected ErrInvalidUTF8, got %v", err)
	}
	// Raw bytes are still available for verbatim passthrough.
	if !bytes.Equal(frame.Raw, raw) {
		t.Errorf("raw = %q, want original bytes", frame.Raw)
	}
}

func TestFramerOversizedLine(t *testing.T) {
	var b bytes.Buffer
	b.WriteString(strings.Repeat("x", MaxFrameSize+10))
	b.WriteString("\n{\"ok\":true}\n")

	f := NewFramer(&b)
	if _, err := f.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}

	// The next frame is readable after the oversized line is discarded.
	frame, err := f.Next()
	if err != nil {
		t.Fatalf("Next after oversize failed: %v", err)
	}
	if got := string(frame.Payload); got != `{"ok":true}` {
		t.Errorf("payload = %q", got)
	}
}

func TestTruncateForLog(t *testing.T) {
	short := []byte("short")
	if got := TruncateForLog(short); got != "short" {
		t.Errorf("TruncateForLog(short) = %q", got)
	}

	long := bytes.Repeat([]byte("a"), LogTruncateLimit+100)
	got := TruncateForLog(long)
	if len(got) != LogTruncateLimit+len("...(truncated)") {
		t.Errorf("truncated length = %d", len(got))
	}
	if !strings.HasSuffix(got, "...(truncated)") {
		t.Errorf("missing truncation marker: %q", got[len(got)-20:])
	}
}
