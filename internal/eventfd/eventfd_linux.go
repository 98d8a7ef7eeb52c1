//go:build linux

// Package eventfd wraps a Linux eventfd counter. A VMM hands the descriptor
// to KVM as an irqfd so a device can inject an interrupt with one write.
package eventfd

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// EventFd is an eventfd(2) counter.
type EventFd struct {
	fd int
}

// New creates an eventfd. Reads on a nonblocking eventfd return
// unix.EAGAIN while the counter is zero.
func New(nonblocking bool) (*EventFd, error) {
	flags := unix.EFD_CLOEXEC
	if nonblocking {
		flags |= unix.EFD_NONBLOCK
	}
	fd, err := unix.Eventfd(0, flags)
	if err != nil {
		return nil, fmt.Errorf("eventfd: create: %w", err)
	}
	return &EventFd{fd: fd}, nil
}

// Fd returns the underlying descriptor.
func (e *EventFd) Fd() int { return e.fd }

// Signal adds val to the counter.
func (e *EventFd) Signal(val uint64) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], val)
	for {
		_, err := unix.Write(e.fd, buf[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("eventfd: signal: %w", err)
		}
		return nil
	}
}

// Trigger signals the counter once. It lets an EventFd serve as the
// interrupt trigger of a UART.
func (e *EventFd) Trigger() error {
	return e.Signal(1)
}

// Wait returns and resets the counter.
func (e *EventFd) Wait() (uint64, error) {
	var buf [8]byte
	for {
		_, err := unix.Read(e.fd, buf[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("eventfd: wait: %w", err)
		}
		return binary.NativeEndian.Uint64(buf[:]), nil
	}
}

func (e *EventFd) Close() error {
	return unix.Close(e.fd)
}
