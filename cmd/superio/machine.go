package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/tinyrange/superio/internal/chipset"
	"github.com/tinyrange/superio/internal/config"
	am64serial "github.com/tinyrange/superio/internal/devices/amd64/serial"
	"github.com/tinyrange/superio/internal/devices/serial"
	"github.com/tinyrange/superio/internal/fdt"
	"github.com/tinyrange/superio/internal/guest"
)

const deviceName = "com1"

type serialDevice interface {
	chipset.Device
	Inject(input []byte) error
}

// machine is the chipset with one serial port and the guest's view of it.
type machine struct {
	cs     *chipset.Chipset
	lines  *chipset.LineSet
	dev    serialDevice
	serial *am64serial.Serial16550
	mmio   *serial.Serial16550MMIO
	irq    uint8

	ports    guest.PortIO
	portBase uint16
}

func newMachine(cfg config.SerialConfig, out io.Writer, in io.Reader, log *slog.Logger) (*machine, error) {
	m := &machine{irq: cfg.IRQ}
	b := chipset.NewBuilder(chipset.InterruptSinkFunc(func(line uint8, level bool) {
		log.Debug("irq", "line", line, "level", level)
	}))
	line, err := b.AllocateIRQ(deviceName, cfg.IRQ)
	if err != nil {
		return nil, fmt.Errorf("allocate serial irq: %w", err)
	}

	if cfg.MMIOBase != 0 {
		dev := serial.NewSerial16550MMIO(cfg.MMIOBase, cfg.RegShift, line, out, in)
		m.dev = dev
		m.mmio = dev
		m.serial = dev.Serial()
	} else {
		dev := am64serial.NewSerial16550(cfg.PortBase, line, out, in)
		m.dev = dev
		m.serial = dev
		m.portBase = cfg.PortBase
	}
	m.serial.SetLogger(log)

	if err := b.RegisterDevice(deviceName, m.dev); err != nil {
		return nil, fmt.Errorf("register serial device: %w", err)
	}
	cs, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build chipset: %w", err)
	}
	m.cs = cs
	m.lines = cs.Lines()
	m.ports = cs
	if cfg.MMIOBase != 0 {
		m.ports = &mmioPorts{cs: cs, base: cfg.MMIOBase, shift: min(cfg.RegShift, 2)}
	}
	return m, nil
}

// deviceTree returns an FDT blob announcing the MMIO UART as the console.
func (m *machine) deviceTree(baud int) ([]byte, error) {
	if m.mmio == nil {
		return nil, fmt.Errorf("device tree needs an MMIO UART")
	}
	u := m.mmio.DeviceTree(uint32(m.irq))
	u.Baud = uint32(baud)
	return fdt.Build(fdt.ConsoleTree(u))
}

func (m *machine) driver() *guest.Driver {
	return guest.NewDriver(m.ports, m.portBase)
}

// mmioPorts presents an MMIO UART as port space starting at 0, the way a
// guest's port accessors hide the register stride.
type mmioPorts struct {
	cs    *chipset.Chipset
	base  uint64
	shift uint32
}

func (p *mmioPorts) addr(port uint16) uint64 {
	return p.base + uint64(port)<<p.shift
}

func (p *mmioPorts) ReadPort(port uint16) (byte, error) {
	var data [1]byte
	if err := p.cs.HandleMMIO(p.addr(port), data[:], false); err != nil {
		return 0, err
	}
	return data[0], nil
}

func (p *mmioPorts) WritePort(port uint16, value byte) error {
	return p.cs.HandleMMIO(p.addr(port), []byte{value}, true)
}
