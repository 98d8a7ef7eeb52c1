// Package console holds the host side sinks for guest serial output.
package console

import (
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/vt"
)

// Screen renders guest output into an emulated terminal screen. Replies the
// emulator generates for guest queries are queued for delivery back to the
// guest; see Replies.
type Screen struct {
	emu *vt.SafeEmulator

	mu      sync.Mutex
	replies []byte

	closeOnce sync.Once
	done      chan struct{}
}

// NewScreen creates a cols x rows screen.
func NewScreen(cols, rows int) *Screen {
	emu := vt.NewSafeEmulator(cols, rows)
	swallowQueries(emu)

	s := &Screen{
		emu:  emu,
		done: make(chan struct{}),
	}
	go s.pumpReplies()
	return s
}

// swallowQueries stops the emulator from answering status and attribute
// queries. A guest getty that does not expect the answer echoes it back as
// input, which then loops forever.
func swallowQueries(emu *vt.SafeEmulator) {
	// DSR: CSI 5 n, CSI 6 n
	emu.RegisterCsiHandler('n', func(params ansi.Params) bool {
		n, _, ok := params.Param(0, 1)
		if !ok || n == 0 {
			return false
		}
		return n == 5 || n == 6
	})
	// DECXCPR: CSI ? 6 n
	emu.RegisterCsiHandler(ansi.Command('?', 0, 'n'), func(params ansi.Params) bool {
		n, _, ok := params.Param(0, 1)
		return ok && n == 6
	})
	// Primary and secondary DA.
	emu.RegisterCsiHandler('c', func(params ansi.Params) bool {
		n, _, _ := params.Param(0, 0)
		return n == 0
	})
	emu.RegisterCsiHandler(ansi.Command('>', 0, 'c'), func(params ansi.Params) bool {
		n, _, _ := params.Param(0, 0)
		return n == 0
	})
}

func (s *Screen) pumpReplies() {
	defer close(s.done)
	buf := make([]byte, 1024)
	for {
		n, err := s.emu.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.replies = append(s.replies, buf[:n]...)
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Write implements io.Writer. It feeds guest output into the emulator.
func (s *Screen) Write(p []byte) (int, error) {
	return s.emu.Write(p)
}

// Replies returns and clears the bytes the emulator wants to send back to
// the guest.
func (s *Screen) Replies() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.replies
	s.replies = nil
	return out
}

// Size returns the screen dimensions in cells.
func (s *Screen) Size() (cols, rows int) {
	return s.emu.Width(), s.emu.Height()
}

// Text returns the visible screen contents, one line per row, with trailing
// blanks and blank rows at the bottom removed.
func (s *Screen) Text() string {
	cols, rows := s.Size()
	lines := make([]string, 0, rows)
	var sb strings.Builder
	for y := 0; y < rows; y++ {
		sb.Reset()
		for x := 0; x < cols; x++ {
			cell := s.emu.CellAt(x, y)
			if cell == nil || cell.Content == "" {
				// Continuation of a wide cell renders nothing.
				if cell == nil {
					sb.WriteByte(' ')
				}
				continue
			}
			sb.WriteString(cell.Content)
		}
		lines = append(lines, strings.TrimRight(sb.String(), " "))
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// Close stops the emulator and waits for the reply pump to exit.
func (s *Screen) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.emu.Close()
		<-s.done
	})
	return err
}
