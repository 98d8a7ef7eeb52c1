// Package uart implements the register and interrupt state machine of a
// 16550A-compatible UART running without programmable FIFO control.
//
// A Serial decodes the eight registers of a PC COM port (offsets 0-7 from the
// port base). Reads may have side effects: reading the receive buffer pops the
// receive queue and acknowledges the received-data interrupt, and reading the
// interrupt identification register acknowledges whatever cause is pending.
//
// Serial performs no locking. Callers must serialize Read, Write and
// EnqueueRawBytes, for example through the chipset device wrappers.
package uart

import (
	"io"
)

// Register offsets relative to the port base.
const (
	// Transmit holding register on write, receive buffer on read.
	DataOffset = 0
	IEROffset  = 1
	IIROffset  = 2
	LCROffset  = 3
	MCROffset  = 4
	LSROffset  = 5
	MSROffset  = 6
	SCROffset  = 7

	// Divisor latch registers, visible while LCR.DLAB is set.
	DLABLowOffset  = 0
	DLABHighOffset = 1

	// RegisterCount is the number of consecutive offsets decoded by Serial.
	RegisterCount = 8
)

// LoopbackQueueSize bounds the receive queue for bytes written in loopback mode.
const LoopbackQueueSize = 64

// Interrupt enable bits.
const (
	// IERRDABit enables the received data available interrupt.
	IERRDABit = 1 << 0
	// IERTHREmptyBit enables the transmitter holding register empty interrupt.
	IERTHREmptyBit = 1 << 1
	// IERValidBits are the interrupts implemented by the 16550A and older parts.
	IERValidBits = 0x0F
)

// Interrupt identification bits.
const (
	IIRNoneBit     = 1 << 0
	IIRTHREmptyBit = 1 << 1
	IIRRDABit      = 1 << 2
	// IIRFIFOBits report FIFO capability, identifying the part as a 16550A.
	IIRFIFOBits = 0xC0
)

// Line control, line status and modem bits.
const (
	LCRDLABBit = 1 << 7

	LSRDataReadyBit = 1 << 0
	LSRTHREmptyBit  = 1 << 5
	LSRIdleBit      = 1 << 6

	MCRDTRBit  = 1 << 0
	MCRRTSBit  = 1 << 1
	MCROUT1Bit = 1 << 2
	MCROUT2Bit = 1 << 3 // most drivers need OUT2 set to get interrupts
	MCRLoopBit = 1 << 4

	MSRCTSBit = 1 << 4
	MSRDSRBit = 1 << 5
	MSRRIBit  = 1 << 6
	MSRDCDBit = 1 << 7
)

// Register reset values. The divisor encodes 9600 baud on a 1.8432 MHz clock.
const (
	DefaultBaudDivisorLow          = 0x0C
	DefaultBaudDivisorHigh         = 0x00
	DefaultInterruptEnable         = 0x00
	DefaultInterruptIdentification = IIRNoneBit
	DefaultLineControl             = 0x03 // 8 bit words
	// The virtual transmitter never backs up, so THR empty and idle stay set.
	DefaultLineStatus   = LSRTHREmptyBit | LSRIdleBit
	DefaultModemControl = MCROUT2Bit
	DefaultModemStatus  = MSRDSRBit | MSRCTSBit | MSRDCDBit
	DefaultScratch      = 0x00
)

// Trigger asserts the interrupt line of a device.
type Trigger interface {
	Trigger() error
}

// TriggerFunc adapts a function to Trigger.
type TriggerFunc func() error

func (f TriggerFunc) Trigger() error { return f() }

type flusher interface {
	Flush() error
}

// Serial is a 16550A UART. The zero value is not usable; construct one with
// New or NewFromState.
type Serial struct {
	baudDivisorLow          byte
	baudDivisorHigh         byte
	interruptEnable         byte
	interruptIdentification byte
	lineControl             byte
	lineStatus              byte
	modemControl            byte
	modemStatus             byte
	scratch                 byte

	// Oldest byte first.
	inBuffer []byte

	trigger Trigger
	events  Events
	out     io.Writer
}

// New returns a Serial in its reset state. Guest output is written to out,
// which is flushed after every byte if it has a Flush() error method. A nil
// out discards output. events may be nil.
func New(trigger Trigger, out io.Writer, events Events) *Serial {
	s, _ := NewFromState(DefaultState(), trigger, out, events)
	return s
}

// InterruptTrigger returns the trigger the device raises interrupts through.
func (s *Serial) InterruptTrigger() Trigger {
	return s.trigger
}

func (s *Serial) dlabSet() bool    { return s.lineControl&LCRDLABBit != 0 }
func (s *Serial) rdaEnabled() bool { return s.interruptEnable&IERRDABit != 0 }
func (s *Serial) thrEnabled() bool { return s.interruptEnable&IERTHREmptyBit != 0 }
func (s *Serial) inLoopMode() bool { return s.modemControl&MCRLoopBit != 0 }
func (s *Serial) setDataReady()    { s.lineStatus |= LSRDataReadyBit }
func (s *Serial) clearDataReady()  { s.lineStatus &^= LSRDataReadyBit }
func (s *Serial) resetIdentification() {
	s.interruptIdentification = DefaultInterruptIdentification
}

func (s *Serial) addInterrupt(bits byte) {
	s.interruptIdentification &^= IIRNoneBit
	s.interruptIdentification |= bits
}

func (s *Serial) delInterrupt(bits byte) {
	s.interruptIdentification &^= bits
	if s.interruptIdentification == 0 {
		s.interruptIdentification = IIRNoneBit
	}
}

// raise marks cause as outstanding and fires the trigger, unless the cause is
// disabled or has not been acknowledged since it last fired.
func (s *Serial) raise(enabled bool, cause byte) error {
	if !enabled || s.interruptIdentification&cause != 0 {
		return nil
	}
	s.addInterrupt(cause)
	if err := s.trigger.Trigger(); err != nil {
		return &TriggerError{Err: err}
	}
	return nil
}

func (s *Serial) transmit(value byte) error {
	if _, err := s.out.Write([]byte{value}); err != nil {
		s.events.TxLostByte()
		return &OutputError{Err: err}
	}
	if f, ok := s.out.(flusher); ok {
		if err := f.Flush(); err != nil {
			s.events.TxLostByte()
			return &OutputError{Err: err}
		}
	}
	s.events.OutByte()
	return nil
}

// Write handles a guest write of value to the register at offset.
func (s *Serial) Write(offset uint8, value uint8) error {
	switch {
	case offset == DLABLowOffset && s.dlabSet():
		s.baudDivisorLow = value
	case offset == DLABHighOffset && s.dlabSet():
		s.baudDivisorHigh = value
	case offset == DataOffset:
		if s.inLoopMode() {
			// What is transmitted shows up in the receive buffer.
			if len(s.inBuffer) < LoopbackQueueSize {
				s.inBuffer = append(s.inBuffer, value)
				s.setDataReady()
				return s.raise(s.rdaEnabled(), IIRRDABit)
			}
			return nil
		}
		if err := s.transmit(value); err != nil {
			return err
		}
		return s.raise(s.thrEnabled(), IIRTHREmptyBit)
	case offset == IEROffset:
		s.interruptEnable = value & IERValidBits
	case offset == LCROffset:
		s.lineControl = value
	case offset == MCROffset:
		s.modemControl = value
	case offset == SCROffset:
		s.scratch = value
	}
	// IIR/FCR, LSR, MSR and out of range offsets ignore writes.
	return nil
}

// Read handles a guest read of the register at offset. Reading the receive
// buffer or the interrupt identification register changes device state.
func (s *Serial) Read(offset uint8) uint8 {
	switch {
	case offset == DLABLowOffset && s.dlabSet():
		return s.baudDivisorLow
	case offset == DLABHighOffset && s.dlabSet():
		return s.baudDivisorHigh
	case offset == DataOffset:
		return s.readData()
	case offset == IEROffset:
		return s.interruptEnable
	case offset == IIROffset:
		iir := s.interruptIdentification | IIRFIFOBits
		s.resetIdentification()
		return iir
	case offset == LCROffset:
		return s.lineControl
	case offset == MCROffset:
		return s.modemControl
	case offset == LSROffset:
		return s.lineStatus
	case offset == MSROffset:
		if s.inLoopMode() {
			return s.loopbackModemStatus()
		}
		return s.modemStatus
	case offset == SCROffset:
		return s.scratch
	default:
		return 0
	}
}

func (s *Serial) readData() byte {
	s.delInterrupt(IIRRDABit)
	// Data ready drops as the last byte is handed out, like the hardware.
	if len(s.inBuffer) <= 1 {
		s.clearDataReady()
		if len(s.inBuffer) == 1 {
			s.events.InBufferEmpty()
		}
	}
	if len(s.inBuffer) == 0 {
		return 0
	}
	value := s.inBuffer[0]
	s.inBuffer = s.inBuffer[1:]
	if len(s.inBuffer) == 0 {
		s.inBuffer = nil
	}
	s.events.BufferRead()
	return value
}

// loopbackModemStatus wires CTS to RTS, DSR to DTR, RI to OUT1 and DCD to OUT2.
func (s *Serial) loopbackModemStatus() byte {
	msr := s.modemStatus &^ (MSRDSRBit | MSRCTSBit | MSRRIBit | MSRDCDBit)
	if s.modemControl&MCRDTRBit != 0 {
		msr |= MSRDSRBit
	}
	if s.modemControl&MCRRTSBit != 0 {
		msr |= MSRCTSBit
	}
	if s.modemControl&MCROUT1Bit != 0 {
		msr |= MSRRIBit
	}
	if s.modemControl&MCROUT2Bit != 0 {
		msr |= MSRDCDBit
	}
	return msr
}

// EnqueueRawBytes hands input to the guest in one go, as if it arrived on the
// wire. Input is dropped while the device is in loopback mode.
//
// Unlike loopback writes, this path does not apply LoopbackQueueSize: the
// whole input is queued. Empty input changes nothing, so data ready is never
// reported with an empty queue.
func (s *Serial) EnqueueRawBytes(input []byte) error {
	if s.inLoopMode() || len(input) == 0 {
		return nil
	}
	s.inBuffer = append(s.inBuffer, input...)
	s.setDataReady()
	return s.raise(s.rdaEnabled(), IIRRDABit)
}

// Pending returns the number of bytes waiting in the receive queue.
func (s *Serial) Pending() int {
	return len(s.inBuffer)
}
