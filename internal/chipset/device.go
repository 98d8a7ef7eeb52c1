package chipset

import (
	"context"
)

// PortSpaceSize is the number of addressable x86 I/O ports.
const PortSpaceSize = 0x10000

// PortRange is a run of consecutive I/O ports starting at Base.
type PortRange struct {
	Base  uint16
	Count uint16
}

// end is one past the last port; it may equal PortSpaceSize.
func (r PortRange) end() uint32 { return uint32(r.Base) + uint32(r.Count) }

// Contains reports whether port falls inside r.
func (r PortRange) Contains(port uint16) bool {
	return port >= r.Base && uint32(port) < r.end()
}

func (r PortRange) String() string {
	if r.Count == 0 {
		return "empty port range"
	}
	return fmtRange(uint64(r.Base), uint64(r.end()))
}

// MMIORegion is a guest physical address range.
type MMIORegion struct {
	Address uint64
	Size    uint64
}

func (r MMIORegion) String() string { return fmtRange(r.Address, r.Address+r.Size) }

// PortIOHandler handles reads and writes to individual I/O ports.
type PortIOHandler interface {
	ReadIOPort(port uint16, data []byte) error
	WriteIOPort(port uint16, data []byte) error
}

// MmioHandler handles reads and writes to memory-mapped regions.
type MmioHandler interface {
	ReadMMIO(addr uint64, data []byte) error
	WriteMMIO(addr uint64, data []byte) error
}

// PollHandler is implemented by devices that pick up host input between guest
// accesses. The chipset polls every registered device that implements it.
type PollHandler interface {
	Poll(ctx context.Context) error
}

// Decode lists the address ranges a device answers and who handles them.
// Handlers may be nil when no ranges of that kind are listed.
type Decode struct {
	Ports       []PortRange
	PortHandler PortIOHandler

	MMIO        []MMIORegion
	MMIOHandler MmioHandler
}

// LineInterrupt models an interrupt line that supports level and edge semantics.
type LineInterrupt interface {
	SetLevel(high bool)
	PulseInterrupt()
}

type noopLineInterrupt struct{}

func (noopLineInterrupt) SetLevel(bool)   {}
func (noopLineInterrupt) PulseInterrupt() {}

// LineInterruptDetached returns a LineInterrupt that drops all signals.
func LineInterruptDetached() LineInterrupt {
	return noopLineInterrupt{}
}

// ChangeDeviceState exposes lifecycle hooks for chipset devices.
type ChangeDeviceState interface {
	Start() error
	Stop() error
	Reset() error
}

// Device is a chipset device: lifecycle hooks plus its address decoding.
type Device interface {
	ChangeDeviceState
	Decode() Decode
}
