package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Serial.PortBase != DefaultPortBase || c.Serial.IRQ != DefaultIRQ {
		t.Fatalf("unexpected serial defaults: %+v", c.Serial)
	}
	if c.Console.Cols != DefaultCols || c.Console.Rows != DefaultRows || c.Console.EscapeByte != DefaultEscapeByte {
		t.Fatalf("unexpected console defaults: %+v", c.Console)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	level, err := c.Level()
	if err != nil || level != slog.LevelInfo {
		t.Fatalf("level = %v, %v", level, err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "superio.yaml")
	content := `logLevel: debug
serial:
  portBase: 0x2f8
  irq: 3
console:
  cols: 132
  transcript: /tmp/serial.log
  escapeByte: 1
snapshot:
  path: /tmp/serial.snap
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write yaml: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Serial.PortBase != 0x2F8 || c.Serial.IRQ != 3 {
		t.Fatalf("serial = %+v", c.Serial)
	}
	if c.Console.Cols != 132 || c.Console.Rows != DefaultRows {
		t.Fatalf("console size = %dx%d", c.Console.Cols, c.Console.Rows)
	}
	if c.Console.Transcript != "/tmp/serial.log" || c.Console.EscapeByte != 1 {
		t.Fatalf("console = %+v", c.Console)
	}
	if c.Snapshot.Path != "/tmp/serial.snap" {
		t.Fatalf("snapshot path = %q", c.Snapshot.Path)
	}
	if level, _ := c.Level(); level != slog.LevelDebug {
		t.Fatalf("level = %v", level)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "serial: [1, 2"},
		{"log level", "logLevel: loud\n"},
		{"port range", "serial:\n  portBase: 0xfffc\n"},
		{"irq", "serial:\n  irq: 16\n"},
		{"reg shift", "serial:\n  mmioBase: 0x9000000\n  regShift: 3\n"},
		{"console size", "console:\n  cols: -1\n"},
	}
	for _, tt := range tests {
		if _, err := Parse([]byte(tt.doc)); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	c := Default()
	c.Serial.MMIOBase = 0x9000000
	c.Serial.RegShift = 2
	c.Console.Screen = true

	if err := c.Write(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != c {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, c)
	}
}
