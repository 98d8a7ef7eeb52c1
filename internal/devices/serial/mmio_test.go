package serial

import (
	"bytes"
	"sync"
	"testing"

	"github.com/tinyrange/superio/internal/chipset"
	"github.com/tinyrange/superio/internal/devices/uart"
)

// testIRQLineMMIO counts interrupt pulses for MMIO tests
type testIRQLineMMIO struct {
	mu     sync.Mutex
	pulses int
}

func (t *testIRQLineMMIO) SetLevel(level bool) {}

func (t *testIRQLineMMIO) PulseInterrupt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pulses++
}

func (t *testIRQLineMMIO) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pulses
}

// testWriterMMIO captures output for MMIO tests
type testWriterMMIO struct {
	mu   sync.Mutex
	data []byte
}

func (t *testWriterMMIO) Write(buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = append(t.data, buf...)
	return len(buf), nil
}

func (t *testWriterMMIO) getData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	result := make([]byte, len(t.data))
	copy(result, t.data)
	return result
}

func (t *testWriterMMIO) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = t.data[:0]
}

// TestSerialMMIOAccessPatterns tests MMIO wrapper with different strides
func TestSerialMMIOAccessPatterns(t *testing.T) {
	for _, regShift := range []uint32{0, 1, 2} {
		testMMIOStride(t, regShift)
	}
}

func testMMIOStride(t *testing.T, regShift uint32) {
	t.Helper()

	const base = 0x1000
	irqLine := &testIRQLineMMIO{}
	writer := &testWriterMMIO{}
	mmioSerial := NewSerial16550MMIO(base, regShift, irqLine, writer, nil)
	stride := uint64(1) << regShift

	// THR is register 0 regardless of stride.
	txData := []byte{'M', 'M', 'I', 'O'}
	for _, b := range txData {
		if err := mmioSerial.WriteMMIO(base, []byte{b}); err != nil {
			t.Fatalf("write MMIO THR stride=%d: %v", stride, err)
		}
	}
	if written := writer.getData(); !bytes.Equal(written, txData) {
		t.Fatalf("stride=%d: TX data mismatch: got %v, want %v", stride, written, txData)
	}
	writer.reset()

	rxData := []byte{'R', 'X'}
	if err := mmioSerial.Inject(rxData); err != nil {
		t.Fatalf("inject stride=%d: %v", stride, err)
	}
	readBuf := make([]byte, len(rxData))
	for i := range readBuf {
		buf := []byte{0}
		if err := mmioSerial.ReadMMIO(base, buf); err != nil {
			t.Fatalf("read MMIO RBR stride=%d [%d]: %v", stride, i, err)
		}
		readBuf[i] = buf[0]
	}
	if !bytes.Equal(readBuf, rxData) {
		t.Fatalf("stride=%d: RX data mismatch: got %v, want %v", stride, readBuf, rxData)
	}

	// IER keeps only the four legacy bits.
	ierAddr := uint64(base) + stride
	if err := mmioSerial.WriteMMIO(ierAddr, []byte{0xF3}); err != nil {
		t.Fatalf("write MMIO IER stride=%d: %v", stride, err)
	}
	ierBuf := []byte{0}
	if err := mmioSerial.ReadMMIO(ierAddr, ierBuf); err != nil {
		t.Fatalf("read MMIO IER stride=%d: %v", stride, err)
	}
	if ierBuf[0] != 0x03 {
		t.Fatalf("stride=%d: IER mismatch: got 0x%02x, want 0x03", stride, ierBuf[0])
	}

	// THR empty interrupt now fires on transmit.
	if err := mmioSerial.WriteMMIO(base, []byte{'!'}); err != nil {
		t.Fatalf("write MMIO THR stride=%d: %v", stride, err)
	}
	if got := irqLine.count(); got != 1 {
		t.Fatalf("stride=%d: expected 1 interrupt, got %d", stride, got)
	}

	lsrBuf := []byte{0}
	if err := mmioSerial.ReadMMIO(uint64(base)+uart.LSROffset*stride, lsrBuf); err != nil {
		t.Fatalf("read MMIO LSR stride=%d: %v", stride, err)
	}
	if lsrBuf[0] != uart.DefaultLineStatus {
		t.Fatalf("stride=%d: LSR = 0x%02x, want 0x%02x", stride, lsrBuf[0], uart.DefaultLineStatus)
	}

	if stride > 1 {
		unalignedAddr := uint64(base) + 1
		if err := mmioSerial.WriteMMIO(unalignedAddr, []byte{0xFF}); err != nil {
			t.Fatalf("write unaligned stride=%d: %v", stride, err)
		}
		readUnaligned := []byte{0xFF}
		if err := mmioSerial.ReadMMIO(unalignedAddr, readUnaligned); err != nil {
			t.Fatalf("read unaligned stride=%d: %v", stride, err)
		}
		if readUnaligned[0] != 0 {
			t.Fatalf("stride=%d: unaligned read should return 0, got 0x%02x", stride, readUnaligned[0])
		}
	}

	// Past the eighth register but inside the window.
	past := []byte{0xFF}
	if err := mmioSerial.ReadMMIO(uint64(base)+8*stride, past); err != nil {
		t.Fatalf("read past registers stride=%d: %v", stride, err)
	}
	if past[0] != 0 {
		t.Fatalf("stride=%d: read past registers = 0x%02x, want 0", stride, past[0])
	}

	outOfBoundsAddr := uint64(base) + 0x2000
	if err := mmioSerial.WriteMMIO(outOfBoundsAddr, []byte{0xFF}); err == nil {
		t.Fatalf("stride=%d: expected error for out-of-bounds write", stride)
	}
	if err := mmioSerial.ReadMMIO(outOfBoundsAddr, []byte{0xFF}); err == nil {
		t.Fatalf("stride=%d: expected error for out-of-bounds read", stride)
	}
}

func TestSerialMMIOChipsetDispatch(t *testing.T) {
	writer := &testWriterMMIO{}
	dev := NewSerial16550MMIO(0x9000000, 2, nil, writer, nil)

	b := chipset.NewBuilder(nil)
	if err := b.RegisterDevice("uart0", dev); err != nil {
		t.Fatalf("register: %v", err)
	}
	cs, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if err := cs.HandleMMIO(0x9000000, []byte("hi"), true); err != nil {
		t.Fatalf("mmio write: %v", err)
	}
	if got := string(writer.getData()); got != "hi" {
		t.Fatalf("output = %q, want %q", got, "hi")
	}

	scr := uint64(0x9000000) + uart.SCROffset*4
	if err := cs.HandleMMIO(scr, []byte{0x5A}, true); err != nil {
		t.Fatalf("mmio write scratch: %v", err)
	}
	buf := []byte{0}
	if err := cs.HandleMMIO(scr, buf, false); err != nil {
		t.Fatalf("mmio read scratch: %v", err)
	}
	if buf[0] != 0x5A {
		t.Fatalf("scratch = 0x%02x, want 0x5a", buf[0])
	}

	snap, err := cs.CaptureSnapshot()
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := cs.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := cs.RestoreSnapshot(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if err := cs.HandleMMIO(scr, buf, false); err != nil {
		t.Fatalf("mmio read scratch: %v", err)
	}
	if buf[0] != 0x5A {
		t.Fatalf("scratch after restore = 0x%02x, want 0x5a", buf[0])
	}
}

func TestSerialMMIODeviceTree(t *testing.T) {
	dev := NewSerial16550MMIO(0x9000000, 2, nil, nil, nil)
	u := dev.DeviceTree(33)
	if u.Base != 0x9000000 || u.Size != Serial16550MMIOSize || u.RegShift != 2 || u.IRQ != 33 {
		t.Fatalf("unexpected UART description %+v", u)
	}
	if n := u.Node(); n.Name != "serial@9000000" {
		t.Fatalf("node name = %q", n.Name)
	}
}
