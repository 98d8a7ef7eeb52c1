package serial

import (
	"encoding/gob"
	"fmt"

	"github.com/tinyrange/superio/internal/chipset"
	"github.com/tinyrange/superio/internal/devices/uart"
)

func init() {
	gob.Register(&serialSnapshot{})
}

type serialSnapshot struct {
	Base    uint16
	State   uart.State
	Pending []byte
}

func (s *Serial16550) DeviceId() string { return "serial16550" }

func (s *Serial16550) CaptureSnapshot() (chipset.DeviceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &serialSnapshot{
		Base:  s.base,
		State: s.uart.State(),
	}
	if len(s.pending) > 0 {
		snap.Pending = append([]byte(nil), s.pending...)
	}
	return snap, nil
}

func (s *Serial16550) RestoreSnapshot(snap chipset.DeviceSnapshot) error {
	data, ok := snap.(*serialSnapshot)
	if !ok {
		return fmt.Errorf("serial16550: invalid snapshot type %T", snap)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if data.Base != s.base {
		return fmt.Errorf("serial16550: snapshot base 0x%04x does not match device base 0x%04x", data.Base, s.base)
	}
	restored, err := uart.NewFromState(data.State, s.trigger, s.out, &s.stats)
	if err != nil {
		return fmt.Errorf("serial16550: restore: %w", err)
	}
	s.uart = restored
	s.pending = append(s.pending[:0], data.Pending...)
	return nil
}
