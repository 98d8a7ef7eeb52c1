package chipset

import (
	"fmt"
)

type portBinding struct {
	name    string
	ports   PortRange
	handler PortIOHandler
}

type mmioBinding struct {
	name    string
	region  MMIORegion
	handler MmioHandler
}

// ChipsetBuilder collects devices, their decode ranges and their interrupt
// lines, rejecting any two claims on the same resource.
type ChipsetBuilder struct {
	devices map[string]Device
	order   []string
	ports   []portBinding
	mmio    []mmioBinding
	lines   *LineSet
	irqs    map[uint8]string
}

// NewBuilder returns an empty builder whose interrupt lines report to sink.
// A nil sink discards line changes.
func NewBuilder(sink InterruptSink) *ChipsetBuilder {
	return &ChipsetBuilder{
		devices: make(map[string]Device),
		lines:   NewLineSet(sink),
		irqs:    make(map[uint8]string),
	}
}

// AllocateIRQ hands owner the line for irq. Each line has a single owner, and
// the owner must be registered before Build.
func (b *ChipsetBuilder) AllocateIRQ(owner string, irq uint8) (LineInterrupt, error) {
	if owner == "" {
		return nil, fmt.Errorf("irq %d: owner name is empty", irq)
	}
	if prev, taken := b.irqs[irq]; taken {
		return nil, fmt.Errorf("irq %d already allocated to %q", irq, prev)
	}
	b.irqs[irq] = owner
	return b.lines.AllocateLine(irq), nil
}

// RegisterDevice adds a device and claims its decode ranges.
func (b *ChipsetBuilder) RegisterDevice(name string, dev Device) error {
	if name == "" {
		return fmt.Errorf("device name is empty")
	}
	if dev == nil {
		return fmt.Errorf("device %q is nil", name)
	}
	if _, exists := b.devices[name]; exists {
		return fmt.Errorf("device %q already registered", name)
	}

	decode := dev.Decode()
	if len(decode.Ports) > 0 && decode.PortHandler == nil {
		return fmt.Errorf("device %q claims I/O ports without a handler", name)
	}
	if len(decode.MMIO) > 0 && decode.MMIOHandler == nil {
		return fmt.Errorf("device %q claims MMIO without a handler", name)
	}

	var ports []portBinding
	for _, r := range decode.Ports {
		if err := b.checkPorts(r, ports); err != nil {
			return fmt.Errorf("device %q: %w", name, err)
		}
		ports = append(ports, portBinding{name: name, ports: r, handler: decode.PortHandler})
	}
	var mmio []mmioBinding
	for _, r := range decode.MMIO {
		if err := b.checkMMIO(r, mmio); err != nil {
			return fmt.Errorf("device %q: %w", name, err)
		}
		mmio = append(mmio, mmioBinding{name: name, region: r, handler: decode.MMIOHandler})
	}

	b.ports = append(b.ports, ports...)
	b.mmio = append(b.mmio, mmio...)
	b.devices[name] = dev
	b.order = append(b.order, name)
	return nil
}

// checkPorts rejects empty ranges, ranges running past port 0xFFFF and
// ranges overlapping a claim made earlier.
func (b *ChipsetBuilder) checkPorts(r PortRange, pending []portBinding) error {
	if r.Count == 0 {
		return fmt.Errorf("I/O port range at 0x%04x is empty", r.Base)
	}
	if r.end() > PortSpaceSize {
		return fmt.Errorf("I/O port range 0x%04x+%d wraps past 0xffff", r.Base, r.Count)
	}
	for _, existing := range append(b.ports[:len(b.ports):len(b.ports)], pending...) {
		if uint32(r.Base) < existing.ports.end() && uint32(existing.ports.Base) < r.end() {
			return fmt.Errorf("I/O ports %s overlap %s of %q", r, existing.ports, existing.name)
		}
	}
	return nil
}

func (b *ChipsetBuilder) checkMMIO(r MMIORegion, pending []mmioBinding) error {
	if r.Size == 0 {
		return fmt.Errorf("MMIO region at 0x%x has zero size", r.Address)
	}
	if r.Address+r.Size < r.Address {
		return fmt.Errorf("MMIO region at 0x%x with size 0x%x overflows", r.Address, r.Size)
	}
	for _, existing := range append(b.mmio[:len(b.mmio):len(b.mmio)], pending...) {
		e := existing.region
		if r.Address < e.Address+e.Size && e.Address < r.Address+r.Size {
			return fmt.Errorf("MMIO %s overlaps %s of %q", r, e, existing.name)
		}
	}
	return nil
}

// Build checks that every allocated interrupt line belongs to a registered
// device and returns the dispatch tables.
func (b *ChipsetBuilder) Build() (*Chipset, error) {
	for irq, owner := range b.irqs {
		if _, ok := b.devices[owner]; !ok {
			return nil, fmt.Errorf("irq %d allocated to unregistered device %q", irq, owner)
		}
	}

	cs := &Chipset{
		devices: make(map[string]Device, len(b.devices)),
		order:   append([]string(nil), b.order...),
		ports:   append([]portBinding(nil), b.ports...),
		mmio:    append([]mmioBinding(nil), b.mmio...),
		lines:   b.lines,
	}
	for _, name := range b.order {
		dev := b.devices[name]
		cs.devices[name] = dev
		if p, ok := dev.(PollHandler); ok {
			cs.polls = append(cs.polls, p)
		}
	}
	return cs, nil
}

// Chipset routes guest accesses to the devices that claimed them.
type Chipset struct {
	devices map[string]Device
	order   []string
	ports   []portBinding
	mmio    []mmioBinding
	polls   []PollHandler
	lines   *LineSet
}
