package serial

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Parity selects the parity bit mode.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	default:
		return fmt.Sprintf("parity(%d)", int(p))
	}
}

// UnmarshalText accepts the names returned by String, or the digits 0-2.
func (p *Parity) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "none", "n", "0":
		*p = ParityNone
	case "odd", "o", "1":
		*p = ParityOdd
	case "even", "e", "2":
		*p = ParityEven
	default:
		return fmt.Errorf("%w: unknown parity %q", ErrInvalidConfig, text)
	}
	return nil
}

// DefaultEnvPrefix is the prefix LoadConfig uses when given an empty one.
const DefaultEnvPrefix = "SERIAL_"

// Config holds configuration parameters for a serial port.
// A Port copies its Config on construction and never modifies it.
type Config struct {
	Device   string `env:"DEVICE"`
	BaudRate int    `env:"BAUD_RATE"`
	ByteSize int    `env:"BYTE_SIZE"`
	StopBits int    `env:"STOP_BITS"`
	Parity   Parity `env:"PARITY"`

	// WriteTimeout bounds how long the native handle waits for the device to
	// accept a write. It is enforced by the handle, not by the Port.
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT"`

	// ReadBufSize is the capacity of the receive buffer. Zero disables
	// buffering: reads are served straight from the next arrival.
	ReadBufSize int `env:"READ_BUFSIZE"`

	Delimiter string `env:"DELIMITER"` // used by ReadLinesLoop, default "\r\n"
}

// DefaultConfig returns 9600 8N1 with 50ms timeouts and no buffering.
func DefaultConfig(device string) Config {
	return Config{
		Device:       device,
		BaudRate:     9600,
		ByteSize:     8,
		StopBits:     1,
		Parity:       ParityNone,
		WriteTimeout: 50 * time.Millisecond,
		ReadTimeout:  50 * time.Millisecond,
		Delimiter:    "\r\n",
	}
}

// LoadConfig reads a Config from environment variables named prefix+FIELD
// (e.g. SERIAL_BAUD_RATE), starting from DefaultConfig.
func LoadConfig(prefix string) (Config, error) {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	cfg := DefaultConfig("")
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: prefix}); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the line settings. It does not check Device, which only the
// native handle needs.
func (c Config) Validate() error {
	switch {
	case c.BaudRate <= 0:
		return fmt.Errorf("%w: baud rate %d", ErrInvalidConfig, c.BaudRate)
	case c.ByteSize < 5 || c.ByteSize > 8:
		return fmt.Errorf("%w: byte size %d", ErrInvalidConfig, c.ByteSize)
	case c.StopBits != 1 && c.StopBits != 2:
		return fmt.Errorf("%w: stop bits %d", ErrInvalidConfig, c.StopBits)
	case c.Parity < ParityNone || c.Parity > ParityEven:
		return fmt.Errorf("%w: %s", ErrInvalidConfig, c.Parity)
	case c.ReadBufSize < 0:
		return fmt.Errorf("%w: read bufsize %d", ErrInvalidConfig, c.ReadBufSize)
	case c.WriteTimeout < 0 || c.ReadTimeout < 0:
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	return nil
}

func (c Config) delimiter() string {
	if c.Delimiter == "" {
		return "\r\n"
	}
	return c.Delimiter
}
