package capture

import (
	"fmt"
	"time"
)

const (
	// Upper bound on the buffer count the session accepts from a proposal.
	MaxBuffers = 32

	// Buffer count used when a proposal does not ask for one.
	DefaultBuffers = 8
)

// Config tunes a session.
type Config struct {
	MaxBuffers     int
	DefaultBuffers int

	// Longest wait on a slot's fence before it is reclaimed anyway.
	FenceTimeout time.Duration

	// Longest wait for the transport to give back its slots before a rebuild.
	DrainTimeout time.Duration

	// How many times a failed negotiation may reconnect. Zero disables
	// reconnection.
	MaxReconnects int

	// Size and format offers announced on connect.
	Width  uint32
	Height uint32
	Offers []FormatOffer
}

func DefaultConfig() Config {
	return Config{
		MaxBuffers:     MaxBuffers,
		DefaultBuffers: DefaultBuffers,
		FenceTimeout:   50 * time.Millisecond,
		DrainTimeout:   500 * time.Millisecond,
		MaxReconnects:  3,
	}
}

// Buffers clamps the buffer count requested by a proposal.
func (c Config) Buffers(requested int) int {
	n := requested
	if n <= 0 {
		n = c.DefaultBuffers
	}
	if n <= 0 {
		n = DefaultBuffers
	}
	if c.MaxBuffers > 0 && n > c.MaxBuffers {
		n = c.MaxBuffers
	}
	return n
}

// NodeIdentity names the stream in the media graph.
type NodeIdentity struct {
	Name        string
	Description string
	Serial      string
}

func (id NodeIdentity) String() string {
	return fmt.Sprintf("%s [%s]", id.Name, id.Serial)
}
