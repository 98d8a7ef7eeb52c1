package serial

import (
	"context"
	"fmt"
	"io"

	"github.com/tinyrange/superio/internal/chipset"
	am64serial "github.com/tinyrange/superio/internal/devices/amd64/serial"
	"github.com/tinyrange/superio/internal/devices/uart"
	"github.com/tinyrange/superio/internal/fdt"
)

const (
	// Serial16550MMIOSize is the default MMIO region size for Serial16550.
	// This reserves space for the 8 registers with up to 4-byte stride.
	Serial16550MMIOSize = 0x1000
)

// Serial16550MMIO wraps a Serial16550 device and exposes it via MMIO instead of PIO.
// It supports configurable register stride (1, 2, or 4 bytes) to match different
// hardware implementations.
type Serial16550MMIO struct {
	serial *am64serial.Serial16550
	base   uint64
	size   uint64
	stride uint64
}

// NewSerial16550MMIO creates a new Serial16550MMIO wrapper.
// base is the MMIO base address, regShift controls register spacing (stride = 1 << regShift),
// irqLine is the interrupt line, and out/in are the output/input streams.
func NewSerial16550MMIO(base uint64, regShift uint32, irqLine chipset.LineInterrupt, out io.Writer, in io.Reader) *Serial16550MMIO {
	if regShift > 2 {
		regShift = 2
	}
	stride := uint64(1) << regShift

	// The inner device decodes ports 0-7; address translation happens here.
	serial := am64serial.NewSerial16550(0, irqLine, out, in)

	return &Serial16550MMIO{
		serial: serial,
		base:   base,
		size:   Serial16550MMIOSize,
		stride: stride,
	}
}

// Serial returns the wrapped port I/O device.
func (s *Serial16550MMIO) Serial() *am64serial.Serial16550 {
	return s.serial
}

// Start implements chipset.ChangeDeviceState.
func (s *Serial16550MMIO) Start() error {
	return s.serial.Start()
}

// Stop implements chipset.ChangeDeviceState.
func (s *Serial16550MMIO) Stop() error {
	return s.serial.Stop()
}

// Reset implements chipset.ChangeDeviceState.
func (s *Serial16550MMIO) Reset() error {
	return s.serial.Reset()
}

// Decode implements chipset.Device. The device answers only its MMIO window.
func (s *Serial16550MMIO) Decode() chipset.Decode {
	return chipset.Decode{
		MMIO:        []chipset.MMIORegion{{Address: s.base, Size: s.size}},
		MMIOHandler: s,
	}
}

// Poll implements chipset.PollHandler.
func (s *Serial16550MMIO) Poll(ctx context.Context) error {
	return s.serial.Poll(ctx)
}

// ReadMMIO implements chipset.MmioHandler.
func (s *Serial16550MMIO) ReadMMIO(addr uint64, data []byte) error {
	for i := range data {
		val, err := s.readByte(addr + uint64(i))
		if err != nil {
			return err
		}
		data[i] = val
	}
	return nil
}

// WriteMMIO implements chipset.MmioHandler.
func (s *Serial16550MMIO) WriteMMIO(addr uint64, data []byte) error {
	for i := range data {
		if err := s.writeByte(addr+uint64(i), data[i]); err != nil {
			return err
		}
	}
	return nil
}

// register maps an MMIO address to a register index. ok is false for
// unaligned addresses and offsets past the last register, which read as zero
// and ignore writes.
func (s *Serial16550MMIO) register(addr uint64) (port uint16, ok bool, err error) {
	if addr < s.base || addr >= s.base+s.size {
		return 0, false, fmt.Errorf("serial16550-mmio: address 0x%x out of bounds", addr)
	}
	offset := addr - s.base
	if offset%s.stride != 0 {
		return 0, false, nil
	}
	regIndex := offset / s.stride
	if regIndex >= uart.RegisterCount {
		return 0, false, nil
	}
	return uint16(regIndex), true, nil
}

func (s *Serial16550MMIO) readByte(addr uint64) (byte, error) {
	port, ok, err := s.register(addr)
	if err != nil || !ok {
		return 0, err
	}
	var result [1]byte
	if err := s.serial.ReadIOPort(port, result[:]); err != nil {
		return 0, err
	}
	return result[0], nil
}

func (s *Serial16550MMIO) writeByte(addr uint64, value byte) error {
	port, ok, err := s.register(addr)
	if err != nil || !ok {
		return err
	}
	return s.serial.WriteIOPort(port, []byte{value})
}

// SetIRQLine configures the LineInterrupt used for IRQ delivery.
func (s *Serial16550MMIO) SetIRQLine(line chipset.LineInterrupt) {
	s.serial.SetIRQLine(line)
}

// Inject hands input to the guest immediately.
func (s *Serial16550MMIO) Inject(input []byte) error {
	return s.serial.Inject(input)
}

// DeviceTree describes the port to a guest as an ns16550a node.
func (s *Serial16550MMIO) DeviceTree(irq uint32) fdt.UART {
	shift := uint32(0)
	for uint64(1)<<shift < s.stride {
		shift++
	}
	return fdt.UART{Base: s.base, Size: s.size, RegShift: shift, IRQ: irq}
}

func (s *Serial16550MMIO) DeviceId() string { return "serial16550-mmio" }

func (s *Serial16550MMIO) CaptureSnapshot() (chipset.DeviceSnapshot, error) {
	return s.serial.CaptureSnapshot()
}

func (s *Serial16550MMIO) RestoreSnapshot(snap chipset.DeviceSnapshot) error {
	return s.serial.RestoreSnapshot(snap)
}

var (
	_ chipset.Device            = (*Serial16550MMIO)(nil)
	_ chipset.MmioHandler       = (*Serial16550MMIO)(nil)
	_ chipset.PollHandler       = (*Serial16550MMIO)(nil)
	_ chipset.ChangeDeviceState = (*Serial16550MMIO)(nil)
	_ chipset.DeviceSnapshotter = (*Serial16550MMIO)(nil)
)
