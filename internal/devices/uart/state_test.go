package uart

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestDefaultState(t *testing.T) {
	s := New(nil, nil, nil)
	if got := s.State(); !reflect.DeepEqual(got, DefaultState()) {
		t.Fatalf("fresh state = %+v, want %+v", got, DefaultState())
	}
	if err := DefaultState().Validate(); err != nil {
		t.Fatalf("default state invalid: %v", err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	s, _, _ := newTestSerial()
	mustWrite(t, s, LCROffset, LCRDLABBit)
	mustWrite(t, s, DLABLowOffset, 0x01)
	mustWrite(t, s, LCROffset, 0x1B)
	mustWrite(t, s, IEROffset, IERRDABit)
	mustWrite(t, s, SCROffset, 0x77)
	if err := s.EnqueueRawBytes(rawInput); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	state := s.State()
	trig := &testTrigger{}
	sink := &bytes.Buffer{}
	restored, err := NewFromState(state, trig, sink, nil)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := restored.State(); !reflect.DeepEqual(got, state) {
		t.Fatalf("restored state = %+v, want %+v", got, state)
	}

	// The RDA cause is still outstanding, so more input does not re-trigger.
	if err := restored.EnqueueRawBytes([]byte{'d'}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if trig.count != 0 {
		t.Fatalf("restored device re-raised an outstanding cause")
	}
	for _, c := range append(append([]byte{}, rawInput...), 'd') {
		if got := restored.Read(DataOffset); got != c {
			t.Fatalf("read %q, want %q", got, c)
		}
	}

	// The snapshot is not aliased by the device.
	if len(state.InBuffer) != len(rawInput) {
		t.Fatalf("state queue changed to %d bytes", len(state.InBuffer))
	}
	mustWrite(t, restored, DataOffset, 'x')
	if sink.String() != "x" {
		t.Fatalf("restored output = %q", sink.String())
	}
}

func TestNewFromStateRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*State)
	}{
		{"reserved IER bits", func(st *State) { st.InterruptEnable = 0x10 }},
		{"zero IIR", func(st *State) { st.InterruptIdentification = 0 }},
		{"cause and none", func(st *State) { st.InterruptIdentification = IIRNoneBit | IIRRDABit }},
		{"unknown IIR bits", func(st *State) { st.InterruptIdentification = 0x08 }},
		{"THR not empty", func(st *State) { st.LineStatus = LSRIdleBit }},
		{"data ready with empty queue", func(st *State) { st.LineStatus |= LSRDataReadyBit }},
		{"queued bytes without data ready", func(st *State) { st.InBuffer = []byte{'q'} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := DefaultState()
			tt.mutate(&st)
			if _, err := NewFromState(st, nil, nil, nil); !errors.Is(err, ErrInvalidState) {
				t.Fatalf("error = %v, want ErrInvalidState", err)
			}
		})
	}

	st := DefaultState()
	st.InterruptIdentification = IIRRDABit | IIRTHREmptyBit
	if _, err := NewFromState(st, nil, nil, nil); err != nil {
		t.Fatalf("both causes outstanding rejected: %v", err)
	}
}

func TestEmptyInjectionKeepsStateValid(t *testing.T) {
	s, trig, _ := newTestSerial()
	mustWrite(t, s, IEROffset, IERRDABit)
	if err := s.EnqueueRawBytes(nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if trig.count != 0 {
		t.Fatalf("empty input raised an interrupt")
	}
	if lsr := s.Read(LSROffset); lsr&LSRDataReadyBit != 0 {
		t.Fatalf("LSR = 0x%02x, data ready set with nothing queued", lsr)
	}

	// Every state the device reaches while draining its queue restores.
	if err := s.EnqueueRawBytes(rawInput); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	for range rawInput {
		if _, err := NewFromState(s.State(), nil, nil, nil); err != nil {
			t.Fatalf("captured state rejected: %v", err)
		}
		s.Read(DataOffset)
	}
	if _, err := NewFromState(s.State(), nil, nil, nil); err != nil {
		t.Fatalf("drained state rejected: %v", err)
	}
}
