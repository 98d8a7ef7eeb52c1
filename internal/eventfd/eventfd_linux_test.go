//go:build linux

package eventfd

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/superio/internal/devices/uart"
)

func TestEventFdCounts(t *testing.T) {
	efd, err := New(true)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer efd.Close()

	if _, err := efd.Wait(); !errors.Is(err, unix.EAGAIN) {
		t.Fatalf("wait on empty counter = %v, want EAGAIN", err)
	}

	if err := efd.Signal(3); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if err := efd.Trigger(); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	n, err := efd.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 4 {
		t.Fatalf("counter = %d, want 4", n)
	}
}

func TestEventFdAsUARTTrigger(t *testing.T) {
	efd, err := New(true)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer efd.Close()

	s := uart.New(efd, nil, nil)
	if err := s.Write(uart.IEROffset, uart.IERTHREmptyBit|uart.IERRDABit); err != nil {
		t.Fatalf("write IER: %v", err)
	}
	if err := s.Write(uart.DataOffset, 'a'); err != nil {
		t.Fatalf("write THR: %v", err)
	}
	if err := s.EnqueueRawBytes([]byte("b")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	n, err := efd.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 2 {
		t.Fatalf("interrupts = %d, want 2", n)
	}
}
