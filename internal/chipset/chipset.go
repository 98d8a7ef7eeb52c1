package chipset

import (
	"context"
	"errors"
	"fmt"
)

// Start starts devices in registration order and stops at the first failure.
func (c *Chipset) Start() error {
	for _, name := range c.order {
		if err := c.devices[name].Start(); err != nil {
			return fmt.Errorf("chipset: start device %q: %w", name, err)
		}
	}
	return nil
}

// Stop stops every device in reverse registration order, so a failing device
// does not leave later input readers running. All failures are returned.
func (c *Chipset) Stop() error {
	var errs []error
	for i := len(c.order) - 1; i >= 0; i-- {
		name := c.order[i]
		if err := c.devices[name].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("chipset: stop device %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Reset returns every device to its power-on state.
func (c *Chipset) Reset() error {
	for _, name := range c.order {
		if err := c.devices[name].Reset(); err != nil {
			return fmt.Errorf("chipset: reset device %q: %w", name, err)
		}
	}
	return nil
}

// Lines returns the interrupt lines handed out by the builder.
func (c *Chipset) Lines() *LineSet { return c.lines }

// HandlePIO dispatches an I/O port access to the device decoding port.
func (c *Chipset) HandlePIO(port uint16, data []byte, isWrite bool) error {
	for _, b := range c.ports {
		if !b.ports.Contains(port) {
			continue
		}
		if isWrite {
			return b.handler.WriteIOPort(port, data)
		}
		return b.handler.ReadIOPort(port, data)
	}
	return fmt.Errorf("chipset: no handler for I/O port 0x%04x", port)
}

// HandleMMIO dispatches an MMIO access. The whole access must fall inside one
// region.
func (c *Chipset) HandleMMIO(addr uint64, data []byte, isWrite bool) error {
	accessEnd := addr + uint64(len(data))
	if accessEnd < addr {
		return fmt.Errorf("chipset: MMIO access overflow at 0x%016x", addr)
	}
	for _, b := range c.mmio {
		if addr < b.region.Address || accessEnd > b.region.Address+b.region.Size {
			continue
		}
		if isWrite {
			return b.handler.WriteMMIO(addr, data)
		}
		return b.handler.ReadMMIO(addr, data)
	}
	return fmt.Errorf("chipset: no handler for MMIO address 0x%016x", addr)
}

// ReadPort reads a single byte from an I/O port.
func (c *Chipset) ReadPort(port uint16) (byte, error) {
	var data [1]byte
	if err := c.HandlePIO(port, data[:], false); err != nil {
		return 0, err
	}
	return data[0], nil
}

// WritePort writes a single byte to an I/O port.
func (c *Chipset) WritePort(port uint16, value byte) error {
	return c.HandlePIO(port, []byte{value}, true)
}

// Poll lets every polling device pick up pending host input.
func (c *Chipset) Poll(ctx context.Context) error {
	for _, p := range c.polls {
		if err := p.Poll(ctx); err != nil {
			return fmt.Errorf("chipset: poll: %w", err)
		}
	}
	return nil
}

func fmtRange(start, end uint64) string {
	return fmt.Sprintf("0x%x-0x%x", start, end-1)
}
