// Command superio attaches the host terminal to an emulated 16550A UART and
// runs a polled echo console against it, the way a guest getty would.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/tinyrange/superio/internal/chipset"
	"github.com/tinyrange/superio/internal/config"
	"github.com/tinyrange/superio/internal/console"
	"github.com/tinyrange/superio/internal/guest"
)

const (
	pollInterval = time.Millisecond
	drainGrace   = 20 * time.Millisecond
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "superio: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "YAML configuration file")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	portBase := flag.Uint("port", 0, "I/O port base of the UART (default 0x3f8)")
	irq := flag.Uint("irq", 0, "ISA interrupt line of the UART (default 4)")
	mmioBase := flag.Uint64("mmio", 0, "Map the UART at this MMIO address instead of port I/O")
	regShift := flag.Uint("reg-shift", 0, "MMIO register stride as a power of two")
	transcript := flag.String("transcript", "", "Write a plain text transcript of guest output to this file")
	snapshot := flag.String("snapshot", "", "Restore UART state from this file on start and save it on exit")
	screen := flag.Bool("screen", false, "Render output through a terminal emulator and print the final screen")
	baud := flag.Int("baud", 115200, "Baud rate the guest driver programs")
	dtbPath := flag.String("dtb", "", "Write a device tree blob describing the MMIO UART to this file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Echo console over an emulated 16550A UART. Press Ctrl-] to exit.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}

	// Flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.LogLevel = *logLevel
		case "port":
			cfg.Serial.PortBase = uint16(*portBase)
		case "irq":
			cfg.Serial.IRQ = uint8(*irq)
		case "mmio":
			cfg.Serial.MMIOBase = *mmioBase
		case "reg-shift":
			cfg.Serial.RegShift = uint32(*regShift)
		case "transcript":
			cfg.Console.Transcript = *transcript
		case "snapshot":
			cfg.Snapshot.Path = *snapshot
		case "screen":
			cfg.Console.Screen = *screen
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := cfg.Level()
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	// Guest output sinks.
	var sinks []io.Writer
	var scr *console.Screen
	if cfg.Console.Screen {
		scr = console.NewScreen(cfg.Console.Cols, cfg.Console.Rows)
		defer scr.Close()
		sinks = append(sinks, scr)
	} else {
		sinks = append(sinks, os.Stdout)
	}
	var tr *console.Transcript
	if cfg.Console.Transcript != "" {
		f, err := os.Create(cfg.Console.Transcript)
		if err != nil {
			return fmt.Errorf("create transcript: %w", err)
		}
		defer f.Close()
		tr = console.NewTranscript(bufio.NewWriter(f))
		sinks = append(sinks, tr)
	}
	out := console.NewTee(sinks...)

	input := newEscapeReader(os.Stdin, cfg.Console.EscapeByte)

	m, err := newMachine(cfg.Serial, out, input, log)
	if err != nil {
		return err
	}

	if *dtbPath != "" {
		blob, err := m.deviceTree(*baud)
		if err != nil {
			return err
		}
		if err := os.WriteFile(*dtbPath, blob, 0o644); err != nil {
			return fmt.Errorf("write device tree: %w", err)
		}
		log.Info("wrote device tree", "path", *dtbPath, "bytes", len(blob))
	}

	restored, err := restoreSnapshot(m.cs, cfg.Snapshot.Path)
	if err != nil {
		return err
	}
	drv := m.driver()
	if restored {
		log.Info("restored uart state", "path", cfg.Snapshot.Path)
	} else {
		if err := drv.Probe(*baud); err != nil {
			return fmt.Errorf("probe uart: %w", err)
		}
		log.Info("uart detected", "model", drv.Model, "irq", m.irq)
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("enable raw mode: %w", err)
		}
		defer term.Restore(int(os.Stdin.Fd()), oldState)
	}

	if err := m.cs.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loopErr := echoLoop(ctx, m, drv, scr, input.done)

	if err := m.cs.Stop(); err != nil {
		log.Warn("stop chipset", "err", err)
	}
	if cfg.Snapshot.Path != "" {
		if err := saveSnapshot(m.cs, cfg.Snapshot.Path); err != nil {
			log.Warn("save snapshot", "path", cfg.Snapshot.Path, "err", err)
		}
	}
	if tr != nil {
		if err := tr.Close(); err != nil {
			log.Warn("close transcript", "err", err)
		}
	}
	if scr != nil {
		fmt.Fprintln(os.Stdout, scr.Text())
	}

	stats := m.serial.Stats()
	_, pulses := m.lines.Level(m.irq)
	log.Info("session ended",
		"outBytes", stats.OutBytes,
		"bufferReads", stats.BufferReads,
		"lostBytes", stats.LostBytes,
		"interrupts", pulses)

	if errors.Is(loopErr, context.Canceled) {
		return nil
	}
	return loopErr
}

// echoLoop delivers host input and echoes every received byte until done is
// closed or ctx ends. Input still pending when done closes is drained first.
func echoLoop(ctx context.Context, m *machine, drv *guest.Driver, scr *console.Screen, done <-chan struct{}) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	step := func() error {
		if scr != nil {
			if replies := scr.Replies(); len(replies) > 0 {
				if err := m.dev.Inject(replies); err != nil {
					return err
				}
			}
		}
		if err := m.cs.Poll(ctx); err != nil {
			return err
		}
		for {
			c, ok, err := drv.Getc()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := drv.Putc(c); err != nil {
				return err
			}
			if c == '\r' {
				if err := drv.Putc('\n'); err != nil {
					return err
				}
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			// The device reader queues the last chunk after done closes.
			time.Sleep(drainGrace)
			return step()
		case <-ticker.C:
			if err := step(); err != nil {
				return err
			}
		}
	}
}

func restoreSnapshot(cs *chipset.Chipset, path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	snap, err := chipset.ReadSnapshot(bufio.NewReader(f))
	if err != nil {
		return false, err
	}
	if err := cs.RestoreSnapshot(snap); err != nil {
		return false, err
	}
	return true, nil
}

func saveSnapshot(cs *chipset.Chipset, path string) error {
	snap, err := cs.CaptureSnapshot()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := chipset.WriteSnapshot(f, snap); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
