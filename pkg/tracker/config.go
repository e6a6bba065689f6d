package tracker

import (
	"context"
	"time"

	"github.com/anivanovic/gotrack/pkg/trackernet"
)

// Conn is the socket a Session talks to its tracker through.
type Conn interface {
	Read(buf []byte) (int, error)
	Write(data []byte) error
	Close() error
}

type DialFunc func(ctx context.Context, host string) (Conn, error)

type Config struct {
	// Timeout of the first attempt, doubled on every resend.
	Timeout time.Duration
	// MaxRetries is number of resends before session fails with ErrTimeout.
	MaxRetries int
	// ConnectionIDTTL is how long connection id stays usable after receipt.
	ConnectionIDTTL time.Duration
	NumWant         int32
	Port            uint16

	Dial DialFunc
}

// DefaultConfig returns BEP15 recommended values.
func DefaultConfig() Config {
	return Config{
		Timeout:         time.Second * 15,
		MaxRetries:      8,
		ConnectionIDTTL: time.Minute,
		NumWant:         -1,
		Port:            6881,
		Dial:            DialUDP,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.ConnectionIDTTL <= 0 {
		c.ConnectionIDTTL = def.ConnectionIDTTL
	}
	if c.Dial == nil {
		c.Dial = def.Dial
	}
	return c
}

// DialUDP opens IPv4 UDP socket to host with trackernet.
func DialUDP(ctx context.Context, host string) (Conn, error) {
	return trackernet.Dial(ctx, host)
}
