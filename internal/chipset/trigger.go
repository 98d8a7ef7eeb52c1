package chipset

// LineTrigger raises an edge on a LineInterrupt. It satisfies the one method
// trigger interface edge-triggered devices such as the UART expect.
type LineTrigger struct {
	Line LineInterrupt
}

// NewLineTrigger returns a trigger that pulses line. A nil line is detached.
func NewLineTrigger(line LineInterrupt) *LineTrigger {
	if line == nil {
		line = LineInterruptDetached()
	}
	return &LineTrigger{Line: line}
}

// Trigger pulses the line. Pulsing cannot fail.
func (t *LineTrigger) Trigger() error {
	t.Line.PulseInterrupt()
	return nil
}
