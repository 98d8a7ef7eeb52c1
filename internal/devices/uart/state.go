package uart

import (
	"errors"
	"fmt"
	"io"
	"slices"
)

// ErrInvalidState is returned by NewFromState for register values the device
// could never have produced.
var ErrInvalidState = errors.New("uart: invalid state")

// State is the guest visible state of a Serial. It carries no trigger or sink;
// those are supplied again when the device is rebuilt.
type State struct {
	BaudDivisorLow          uint8
	BaudDivisorHigh         uint8
	InterruptEnable         uint8
	InterruptIdentification uint8
	LineControl             uint8
	LineStatus              uint8
	ModemControl            uint8
	ModemStatus             uint8
	Scratch                 uint8
	// Receive queue, oldest byte first.
	InBuffer []byte
}

// DefaultState returns the power-on register values.
func DefaultState() State {
	return State{
		BaudDivisorLow:          DefaultBaudDivisorLow,
		BaudDivisorHigh:         DefaultBaudDivisorHigh,
		InterruptEnable:         DefaultInterruptEnable,
		InterruptIdentification: DefaultInterruptIdentification,
		LineControl:             DefaultLineControl,
		LineStatus:              DefaultLineStatus,
		ModemControl:            DefaultModemControl,
		ModemStatus:             DefaultModemStatus,
		Scratch:                 DefaultScratch,
	}
}

// Validate checks the register invariants the device maintains.
func (st State) Validate() error {
	if st.InterruptEnable&^IERValidBits != 0 {
		return fmt.Errorf("%w: interrupt enable 0x%02x has reserved bits set", ErrInvalidState, st.InterruptEnable)
	}
	iir := st.InterruptIdentification
	if iir&^(IIRNoneBit|IIRTHREmptyBit|IIRRDABit) != 0 {
		return fmt.Errorf("%w: interrupt identification 0x%02x has unknown bits set", ErrInvalidState, iir)
	}
	if iir&(IIRTHREmptyBit|IIRRDABit) == 0 && iir&IIRNoneBit == 0 {
		return fmt.Errorf("%w: interrupt identification is zero", ErrInvalidState)
	}
	if iir&(IIRTHREmptyBit|IIRRDABit) != 0 && iir&IIRNoneBit != 0 {
		return fmt.Errorf("%w: interrupt identification 0x%02x reports a cause and none", ErrInvalidState, iir)
	}
	if st.LineStatus&(LSRTHREmptyBit|LSRIdleBit) != LSRTHREmptyBit|LSRIdleBit {
		return fmt.Errorf("%w: line status 0x%02x must report THR empty and idle", ErrInvalidState, st.LineStatus)
	}
	// Data ready tracks the receive queue exactly.
	if ready := st.LineStatus&LSRDataReadyBit != 0; ready != (len(st.InBuffer) > 0) {
		return fmt.Errorf("%w: line status data ready=%v with %d queued bytes", ErrInvalidState, ready, len(st.InBuffer))
	}
	return nil
}

// NewFromState rebuilds a Serial from a previously captured State. A nil
// trigger never fires, a nil out discards output and nil events are ignored.
func NewFromState(st State, trigger Trigger, out io.Writer, events Events) (*Serial, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	if trigger == nil {
		trigger = TriggerFunc(func() error { return nil })
	}
	if out == nil {
		out = io.Discard
	}
	if events == nil {
		events = NoEvents{}
	}
	var in []byte
	if len(st.InBuffer) > 0 {
		in = slices.Clone(st.InBuffer)
	}
	return &Serial{
		baudDivisorLow:          st.BaudDivisorLow,
		baudDivisorHigh:         st.BaudDivisorHigh,
		interruptEnable:         st.InterruptEnable,
		interruptIdentification: st.InterruptIdentification,
		lineControl:             st.LineControl,
		lineStatus:              st.LineStatus,
		modemControl:            st.ModemControl,
		modemStatus:             st.ModemStatus,
		scratch:                 st.Scratch,
		inBuffer:                in,
		trigger:                 trigger,
		events:                  events,
		out:                     out,
	}, nil
}

// State captures the device registers and receive queue.
func (s *Serial) State() State {
	var in []byte
	if len(s.inBuffer) > 0 {
		in = slices.Clone(s.inBuffer)
	}
	return State{
		BaudDivisorLow:          s.baudDivisorLow,
		BaudDivisorHigh:         s.baudDivisorHigh,
		InterruptEnable:         s.interruptEnable,
		InterruptIdentification: s.interruptIdentification,
		LineControl:             s.lineControl,
		LineStatus:              s.lineStatus,
		ModemControl:            s.modemControl,
		ModemStatus:             s.modemStatus,
		Scratch:                 s.scratch,
		InBuffer:                in,
	}
}
