package capture

import "time"

// Backing is the exportable memory behind one slot: a DMA-buf exported by a
// producer layer, or a shared-memory region. The pool owns its lifetime and
// calls Close exactly once.
type Backing interface {
	Planes() []Plane
	DMABuf() bool
	Close() error
}

// Mapped is implemented by backings whose pixels are CPU-addressable.
type Mapped interface {
	Bytes() []byte
}

// Fenced is implemented by backings that must wait for the GPU or driver to
// finish reading before the slot is reused.
type Fenced interface {
	Fence() Fence
}

// A Fence is a synchronization point. Wait returns ErrFenceTimeout (or an
// error wrapping it) if the fence did not signal within timeout.
type Fence interface {
	Wait(timeout time.Duration) error
}

// Allocator creates backings. Fixate turns a proposal into a concrete layout,
// choosing among the offered modifiers; Allocate is then called once per slot.
type Allocator interface {
	Fixate(p Proposal) (Layout, error)
	Allocate(l Layout) (Backing, error)
}
