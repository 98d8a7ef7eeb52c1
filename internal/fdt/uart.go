package fdt

import "fmt"

// DefaultUARTClock is the input clock of a PC-compatible 16550A.
const DefaultUARTClock = 1843200

// UART describes an MMIO ns16550a-compatible serial port.
type UART struct {
	Base     uint64
	Size     uint64
	RegShift uint32
	IRQ      uint32
	ClockHz  uint32
	Baud     uint32
}

// Node returns the serial@<base> node for u.
func (u UART) Node() Node {
	clock := u.ClockHz
	if clock == 0 {
		clock = DefaultUARTClock
	}
	props := map[string]Property{
		"compatible":      Strings("ns16550a"),
		"reg":             U64(u.Base, u.Size),
		"clock-frequency": U32(clock),
		"reg-io-width":    U32(1),
		"interrupts":      U32(u.IRQ),
		"status":          Strings("okay"),
	}
	if u.RegShift != 0 {
		props["reg-shift"] = U32(u.RegShift)
	}
	return Node{Name: fmt.Sprintf("serial@%x", u.Base), Properties: props}
}

// ConsoleTree returns a root node holding u, aliased as serial0 and chosen as
// the kernel's stdout.
func ConsoleTree(u UART) Node {
	serial := u.Node()
	path := "/" + serial.Name
	stdout := "serial0"
	if u.Baud != 0 {
		stdout = fmt.Sprintf("serial0:%dn8", u.Baud)
	}
	return Node{
		Properties: map[string]Property{
			"#address-cells": U32(2),
			"#size-cells":    U32(2),
		},
		Children: []Node{
			serial,
			{Name: "aliases", Properties: map[string]Property{"serial0": Strings(path)}},
			{Name: "chosen", Properties: map[string]Property{"stdout-path": Strings(stdout)}},
		},
	}
}
