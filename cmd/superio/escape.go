package main

import (
	"bytes"
	"io"
	"sync"
)

// escapeReader passes host input through until the escape byte, then reports
// io.EOF. done is closed when the escape byte is seen or r ends.
type escapeReader struct {
	r    io.Reader
	esc  byte
	done chan struct{}
	once sync.Once
}

func newEscapeReader(r io.Reader, esc byte) *escapeReader {
	return &escapeReader{r: r, esc: esc, done: make(chan struct{})}
}

func (e *escapeReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if i := bytes.IndexByte(p[:n], e.esc); i >= 0 {
		e.finish()
		return i, io.EOF
	}
	if err != nil {
		e.finish()
	}
	return n, err
}

func (e *escapeReader) finish() {
	e.once.Do(func() { close(e.done) })
}
