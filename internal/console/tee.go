package console

import (
	"errors"
	"io"
)

type flusher interface {
	Flush() error
}

// Tee duplicates writes to several sinks, like io.MultiWriter, and forwards
// Flush to the sinks that support it. The UART flushes its sink after every
// byte, so a Tee keeps a buffered transcript behind a live screen in step.
type Tee struct {
	sinks []io.Writer
}

// NewTee returns a Tee writing to every non-nil sink in order.
func NewTee(sinks ...io.Writer) *Tee {
	t := &Tee{}
	for _, s := range sinks {
		if s != nil {
			t.sinks = append(t.sinks, s)
		}
	}
	return t
}

// Write implements io.Writer. It stops at the first failing sink.
func (t *Tee) Write(p []byte) (int, error) {
	for _, s := range t.sinks {
		n, err := s.Write(p)
		if err != nil {
			return n, err
		}
		if n != len(p) {
			return n, io.ErrShortWrite
		}
	}
	return len(p), nil
}

// Flush flushes every sink that has a Flush method and joins their errors.
func (t *Tee) Flush() error {
	var errs []error
	for _, s := range t.sinks {
		if f, ok := s.(flusher); ok {
			if err := f.Flush(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
