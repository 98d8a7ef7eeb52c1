// Package guest models the polled console driver a guest kernel runs against
// an 8250-family UART. It drives the device only through port accesses, so
// it exercises the same paths a real guest would.
package guest

import (
	"errors"
	"fmt"

	"github.com/tinyrange/superio/internal/devices/uart"
)

// PortIO is the guest's view of the I/O port space. *chipset.Chipset
// satisfies it.
type PortIO interface {
	ReadPort(port uint16) (byte, error)
	WritePort(port uint16, value byte) error
}

var (
	ErrNoUART       = errors.New("guest: no UART found")
	ErrTxTimeout    = errors.New("guest: transmitter stayed busy")
	ErrLoopbackFail = errors.New("guest: loopback test failed")
)

const (
	// Clock of a PC UART divided by 16.
	baseBaud = 115200
	// Loopback MCR value used by the probe: RTS and OUT2 set.
	probeLoopMCR = uart.MCRLoopBit | uart.MCRRTSBit | uart.MCROUT2Bit
	// Expected MSR high nibble for probeLoopMCR: CTS and DCD.
	probeLoopMSR = uart.MSRCTSBit | uart.MSRDCDBit

	txSpins = 10000
)

// Driver is a minimal 8250 console driver.
type Driver struct {
	io   PortIO
	base uint16

	// Model is set by Probe.
	Model string
}

// NewDriver returns a driver for the UART at base.
func NewDriver(io PortIO, base uint16) *Driver {
	return &Driver{io: io, base: base}
}

func (d *Driver) in(offset uint16) (byte, error) {
	v, err := d.io.ReadPort(d.base + offset)
	if err != nil {
		return 0, fmt.Errorf("guest: read port 0x%04x: %w", d.base+offset, err)
	}
	return v, nil
}

func (d *Driver) out(offset uint16, value byte) error {
	if err := d.io.WritePort(d.base+offset, value); err != nil {
		return fmt.Errorf("guest: write port 0x%04x: %w", d.base+offset, err)
	}
	return nil
}

// Probe checks that a UART answers at the base, identifies it and leaves it
// programmed for baud, 8N1 with the receive interrupt enabled.
func (d *Driver) Probe(baud int) error {
	if baud <= 0 || baseBaud%baud != 0 {
		return fmt.Errorf("guest: unsupported baud rate %d", baud)
	}

	// Scratch register must hold what is written.
	for _, pattern := range []byte{0xA5, 0x5A} {
		if err := d.out(uart.SCROffset, pattern); err != nil {
			return err
		}
		v, err := d.in(uart.SCROffset)
		if err != nil {
			return err
		}
		if v != pattern {
			return fmt.Errorf("%w at 0x%04x: scratch read 0x%02x, want 0x%02x", ErrNoUART, d.base, v, pattern)
		}
	}

	if err := d.loopbackTest(); err != nil {
		return err
	}

	iir, err := d.in(uart.IIROffset)
	if err != nil {
		return err
	}
	switch iir & uart.IIRFIFOBits {
	case uart.IIRFIFOBits:
		d.Model = "16550A"
	case 0x80:
		d.Model = "16550"
	default:
		d.Model = "16450"
	}

	return d.program(baud)
}

func (d *Driver) loopbackTest() error {
	saved, err := d.in(uart.MCROffset)
	if err != nil {
		return err
	}
	if err := d.out(uart.MCROffset, probeLoopMCR); err != nil {
		return err
	}
	msr, err := d.in(uart.MSROffset)
	if err != nil {
		return err
	}
	if err := d.out(uart.MCROffset, saved); err != nil {
		return err
	}
	if msr&0xF0 != probeLoopMSR {
		return fmt.Errorf("%w: MSR 0x%02x", ErrLoopbackFail, msr)
	}
	return nil
}

func (d *Driver) program(baud int) error {
	divisor := uint16(baseBaud / baud)
	steps := []struct {
		offset uint16
		value  byte
	}{
		{uart.IEROffset, 0},
		{uart.LCROffset, uart.LCRDLABBit},
		{uart.DLABLowOffset, byte(divisor)},
		{uart.DLABHighOffset, byte(divisor >> 8)},
		{uart.LCROffset, 0x03}, // 8N1, DLAB off
		{uart.MCROffset, uart.MCRDTRBit | uart.MCRRTSBit | uart.MCROUT2Bit},
		{uart.IEROffset, uart.IERRDABit},
	}
	for _, s := range steps {
		if err := d.out(s.offset, s.value); err != nil {
			return err
		}
	}
	return nil
}

// Divisor reads back the programmed baud divisor.
func (d *Driver) Divisor() (uint16, error) {
	lcr, err := d.in(uart.LCROffset)
	if err != nil {
		return 0, err
	}
	if err := d.out(uart.LCROffset, lcr|uart.LCRDLABBit); err != nil {
		return 0, err
	}
	lo, err := d.in(uart.DLABLowOffset)
	if err != nil {
		return 0, err
	}
	hi, err := d.in(uart.DLABHighOffset)
	if err != nil {
		return 0, err
	}
	if err := d.out(uart.LCROffset, lcr); err != nil {
		return 0, err
	}
	return uint16(hi)<<8 | uint16(lo), nil
}

// Putc transmits one byte once the holding register is empty.
func (d *Driver) Putc(c byte) error {
	for range txSpins {
		lsr, err := d.in(uart.LSROffset)
		if err != nil {
			return err
		}
		if lsr&uart.LSRTHREmptyBit != 0 {
			return d.out(uart.DataOffset, c)
		}
	}
	return ErrTxTimeout
}

// Write transmits p byte by byte.
func (d *Driver) Write(p []byte) (int, error) {
	for i, c := range p {
		if err := d.Putc(c); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// Getc returns the next received byte, or ok=false if none is waiting.
func (d *Driver) Getc() (c byte, ok bool, err error) {
	lsr, err := d.in(uart.LSROffset)
	if err != nil {
		return 0, false, err
	}
	if lsr&uart.LSRDataReadyBit == 0 {
		return 0, false, nil
	}
	c, err = d.in(uart.DataOffset)
	if err != nil {
		return 0, false, err
	}
	return c, true, nil
}

// Ack reads IIR the way an interrupt handler does and reports the cause.
func (d *Driver) Ack() (iir byte, err error) {
	return d.in(uart.IIROffset)
}
