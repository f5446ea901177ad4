package capture

import "sync/atomic"

// Stats is a snapshot of session counters.
type Stats struct {
	State  State
	Format Format
	Layout Layout
	Pool   PoolSnapshot

	Submitted      uint64
	Delivered      uint64
	Released       uint64
	Backpressured  uint64
	NotStreaming   uint64
	FillErrors     uint64
	Stale          uint64
	Renegotiations uint64
	Reconnects     uint64
	ForcedReclaims uint64
}

type counters struct {
	submitted      uint64
	delivered      uint64
	released       uint64
	backpressured  uint64
	notStreaming   uint64
	fillErrors     uint64
	stale          uint64
	renegotiations uint64
	reconnects     uint64
}

func inc(p *uint64) { atomic.AddUint64(p, 1) }

func (c *counters) snapshot() Stats {
	return Stats{
		Submitted:      atomic.LoadUint64(&c.submitted),
		Delivered:      atomic.LoadUint64(&c.delivered),
		Released:       atomic.LoadUint64(&c.released),
		Backpressured:  atomic.LoadUint64(&c.backpressured),
		NotStreaming:   atomic.LoadUint64(&c.notStreaming),
		FillErrors:     atomic.LoadUint64(&c.fillErrors),
		Stale:          atomic.LoadUint64(&c.stale),
		Renegotiations: atomic.LoadUint64(&c.renegotiations),
		Reconnects:     atomic.LoadUint64(&c.reconnects),
	}
}
