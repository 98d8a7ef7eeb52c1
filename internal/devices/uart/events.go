package uart

import "sync/atomic"

// Events receives notifications about data moving through a Serial.
// Implementations are called inline and must not call back into the device.
type Events interface {
	// BufferRead is called when the guest reads a byte from the receive queue.
	BufferRead()
	// OutByte is called when a byte reaches the output sink.
	OutByte()
	// TxLostByte is called when the output sink rejects a byte.
	TxLostByte()
	// InBufferEmpty is called when the guest drains the last queued byte.
	InBufferEmpty()
}

// NoEvents discards all notifications.
type NoEvents struct{}

func (NoEvents) BufferRead()    {}
func (NoEvents) OutByte()       {}
func (NoEvents) TxLostByte()    {}
func (NoEvents) InBufferEmpty() {}

// Stats counts events. It is safe to read from other goroutines while the
// device is running.
type Stats struct {
	bufferReads   atomic.Uint64
	outBytes      atomic.Uint64
	lostBytes     atomic.Uint64
	inBufferEmpty atomic.Uint64
}

func (s *Stats) BufferRead()    { s.bufferReads.Add(1) }
func (s *Stats) OutByte()       { s.outBytes.Add(1) }
func (s *Stats) TxLostByte()    { s.lostBytes.Add(1) }
func (s *Stats) InBufferEmpty() { s.inBufferEmpty.Add(1) }

// StatsSnapshot is a point in time copy of Stats.
type StatsSnapshot struct {
	BufferReads   uint64
	OutBytes      uint64
	LostBytes     uint64
	InBufferEmpty uint64
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		BufferReads:   s.bufferReads.Load(),
		OutBytes:      s.outBytes.Load(),
		LostBytes:     s.lostBytes.Load(),
		InBufferEmpty: s.inBufferEmpty.Load(),
	}
}

var (
	_ Events = NoEvents{}
	_ Events = &Stats{}
)
