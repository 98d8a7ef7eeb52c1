// Package config loads the superio YAML configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPortBase   = 0x3F8
	DefaultIRQ        = 4
	DefaultCols       = 80
	DefaultRows       = 25
	DefaultEscapeByte = 0x1D // Ctrl-]
)

// Config describes one emulated serial port and its host console.
type Config struct {
	LogLevel string `yaml:"logLevel,omitempty"`

	Serial   SerialConfig   `yaml:"serial"`
	Console  ConsoleConfig  `yaml:"console"`
	Snapshot SnapshotConfig `yaml:"snapshot,omitempty"`
}

type SerialConfig struct {
	// Either a port base or an MMIO base is used; MMIO wins when set.
	PortBase uint16 `yaml:"portBase,omitempty"`
	IRQ      uint8  `yaml:"irq,omitempty"`
	MMIOBase uint64 `yaml:"mmioBase,omitempty"`
	RegShift uint32 `yaml:"regShift,omitempty"`
}

type ConsoleConfig struct {
	Cols       int    `yaml:"cols,omitempty"`
	Rows       int    `yaml:"rows,omitempty"`
	Transcript string `yaml:"transcript,omitempty"`
	EscapeByte byte   `yaml:"escapeByte,omitempty"`
	// Screen renders output through a terminal emulator and prints the final
	// screen on exit instead of passing output straight through.
	Screen bool `yaml:"screen,omitempty"`
}

type SnapshotConfig struct {
	Path string `yaml:"path,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var c Config
	c.normalize()
	return c
}

func (c *Config) normalize() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Serial.PortBase == 0 {
		c.Serial.PortBase = DefaultPortBase
	}
	if c.Serial.IRQ == 0 {
		c.Serial.IRQ = DefaultIRQ
	}
	if c.Console.Cols == 0 {
		c.Console.Cols = DefaultCols
	}
	if c.Console.Rows == 0 {
		c.Console.Rows = DefaultRows
	}
	if c.Console.EscapeByte == 0 {
		c.Console.EscapeByte = DefaultEscapeByte
	}
}

// Load reads and validates a configuration file. Missing fields take their
// defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML configuration document.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Serial.MMIOBase == 0 && uint32(c.Serial.PortBase)+8 > 0x10000 {
		return fmt.Errorf("config: serial port base 0x%x leaves no room for 8 registers", c.Serial.PortBase)
	}
	if c.Serial.IRQ > 15 {
		return fmt.Errorf("config: serial irq %d is not an ISA line", c.Serial.IRQ)
	}
	if c.Serial.RegShift > 2 {
		return fmt.Errorf("config: serial regShift %d out of range (0-2)", c.Serial.RegShift)
	}
	if c.Console.Cols < 1 || c.Console.Rows < 1 {
		return fmt.Errorf("config: console size %dx%d is invalid", c.Console.Cols, c.Console.Rows)
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Write stores c as YAML at path.
func (c Config) Write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close config: %w", err)
	}
	return nil
}
