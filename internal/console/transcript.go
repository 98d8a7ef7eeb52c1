package console

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
)

// Transcript writes guest output to w as plain text lines. Escape sequences
// and carriage returns are removed. A line is written once its newline
// arrives; Close writes whatever is left.
type Transcript struct {
	mu   sync.Mutex
	w    io.Writer
	line []byte
}

// NewTranscript returns a Transcript writing to w.
func NewTranscript(w io.Writer) *Transcript {
	return &Transcript{w: w}
}

// Write implements io.Writer.
func (t *Transcript) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rest := p
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			t.line = append(t.line, rest...)
			return len(p), nil
		}
		t.line = append(t.line, rest[:i]...)
		rest = rest[i+1:]
		if err := t.emit(true); err != nil {
			return len(p) - len(rest), err
		}
	}
}

func (t *Transcript) emit(newline bool) error {
	text := ansi.Strip(string(t.line))
	text = strings.ReplaceAll(text, "\r", "")
	t.line = t.line[:0]
	if newline {
		text += "\n"
	} else if text == "" {
		return nil
	}
	_, err := io.WriteString(t.w, text)
	return err
}

// Flush flushes w if it buffers. A partial line stays held back so that an
// escape sequence split across writes is still stripped whole.
func (t *Transcript) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f, ok := t.w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// Close writes any partial line and flushes w.
func (t *Transcript) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.line) > 0 {
		if err := t.emit(false); err != nil {
			return err
		}
	}
	if f, ok := t.w.(flusher); ok {
		return f.Flush()
	}
	return nil
}
