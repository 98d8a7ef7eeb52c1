package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tinyrange/superio/internal/chipset"
	"github.com/tinyrange/superio/internal/devices/uart"
)

const (
	// COM1Base is the conventional I/O port base of the first PC serial port.
	COM1Base = 0x3F8
	// COM1IRQ is the ISA interrupt line of the first PC serial port.
	COM1IRQ = 4

	inputChunkSize = 256
)

// Serial16550 exposes a uart.Serial on eight consecutive I/O ports. It owns
// the locking the UART itself leaves to its host.
type Serial16550 struct {
	mu sync.Mutex

	base    uint16
	trigger *chipset.LineTrigger
	out     io.Writer
	in      io.Reader
	log     *slog.Logger

	uart  *uart.Serial
	stats uart.Stats

	// Host input read in the background, handed to the UART on Poll.
	pending   []byte
	inputStop chan struct{}
}

// NewSerial16550 creates a new 16550 UART device at the given port base.
// Guest output goes to out; if in is non-nil it is read after Start and its
// bytes are delivered to the guest on Poll.
func NewSerial16550(base uint16, irqLine chipset.LineInterrupt, out io.Writer, in io.Reader) *Serial16550 {
	s := &Serial16550{
		base:    base,
		trigger: chipset.NewLineTrigger(irqLine),
		out:     out,
		in:      in,
		log:     slog.Default(),
	}
	s.uart = uart.New(s.trigger, out, &s.stats)
	return s
}

// SetLogger replaces the logger used for dropped input notifications.
func (s *Serial16550) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	s.log = logger
}

// Start implements chipset.ChangeDeviceState.
func (s *Serial16550) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.in == nil || s.inputStop != nil {
		return nil
	}
	s.inputStop = make(chan struct{})
	go s.readInput(s.in, s.inputStop, s.log)
	return nil
}

// Stop implements chipset.ChangeDeviceState. A reader blocked in Read is
// abandoned; its next chunk is discarded.
func (s *Serial16550) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inputStop != nil {
		close(s.inputStop)
		s.inputStop = nil
	}
	return nil
}

// Reset implements chipset.ChangeDeviceState.
func (s *Serial16550) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uart = uart.New(s.trigger, s.out, &s.stats)
	s.pending = nil
	return nil
}

func (s *Serial16550) readInput(r io.Reader, stop <-chan struct{}, log *slog.Logger) {
	buf := make([]byte, inputChunkSize)
	for {
		n, err := r.Read(buf)
		select {
		case <-stop:
			return
		default:
		}
		if n > 0 {
			s.mu.Lock()
			s.pending = append(s.pending, buf[:n]...)
			s.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("serial16550: input reader stopped", "err", err)
			}
			return
		}
	}
}

// Decode implements chipset.Device.
func (s *Serial16550) Decode() chipset.Decode {
	return chipset.Decode{
		Ports:       []chipset.PortRange{{Base: s.base, Count: uart.RegisterCount}},
		PortHandler: s,
	}
}

// Poll implements chipset.PollHandler. It delivers host input collected since
// the last poll. A failed interrupt is logged; the bytes stay queued for the
// guest either way.
func (s *Serial16550) Poll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}
	input := s.pending
	s.pending = nil
	if err := s.uart.EnqueueRawBytes(input); err != nil {
		s.log.Warn("serial16550: deliver input", "bytes", len(input), "err", err)
	}
	return nil
}

// Inject hands input to the guest immediately.
func (s *Serial16550) Inject(input []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.uart.EnqueueRawBytes(input); err != nil {
		return fmt.Errorf("serial16550: inject: %w", err)
	}
	return nil
}

// ReadIOPort implements chipset.PortIOHandler.
func (s *Serial16550) ReadIOPort(port uint16, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset, ok := s.offset(port)
	for i := range data {
		if !ok {
			data[i] = 0
			continue
		}
		data[i] = s.uart.Read(offset)
	}
	return nil
}

// WriteIOPort implements chipset.PortIOHandler. Output and interrupt failures
// are returned to the caller; bytes after a failing one are not written.
func (s *Serial16550) WriteIOPort(port uint16, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset, ok := s.offset(port)
	if !ok {
		return nil
	}
	for _, value := range data {
		if err := s.uart.Write(offset, value); err != nil {
			return fmt.Errorf("serial16550: port 0x%04x: %w", port, err)
		}
	}
	return nil
}

func (s *Serial16550) offset(port uint16) (uint8, bool) {
	// Compare the distance so a base at the top of port space cannot wrap.
	if port < s.base || port-s.base >= uart.RegisterCount {
		return 0, false
	}
	return uint8(port - s.base), true
}

// SetIRQLine configures the LineInterrupt used for IRQ delivery.
func (s *Serial16550) SetIRQLine(line chipset.LineInterrupt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if line == nil {
		line = chipset.LineInterruptDetached()
	}
	s.trigger.Line = line
}

// Stats returns current statistics.
func (s *Serial16550) Stats() uart.StatsSnapshot {
	return s.stats.Snapshot()
}

var (
	_ chipset.Device            = &Serial16550{}
	_ chipset.PortIOHandler     = &Serial16550{}
	_ chipset.PollHandler       = &Serial16550{}
	_ chipset.ChangeDeviceState = &Serial16550{}
	_ chipset.DeviceSnapshotter = &Serial16550{}
)
