package capture

import (
	"sync/atomic"
)

// Producer fills a reserved slot with the current frame. Fill runs on the
// caller of SubmitFrame and must not keep the handle after it returns.
type Producer interface {
	Fill(h *SlotHandle) error
}

// FillFunc adapts a plain function to Producer.
type FillFunc func(h *SlotHandle) error

func (f FillFunc) Fill(h *SlotHandle) error {
	return f(h)
}

// SlotHandle is the producer's temporary view of a reserved slot.
type SlotHandle struct {
	ref     SlotRef
	format  Format
	backing Backing
	cursor  *CursorRecord
	done    int32
}

func (h *SlotHandle) ID() SlotID         { return h.ref.ID }
func (h *SlotHandle) Generation() uint64 { return h.ref.Generation }
func (h *SlotHandle) Format() Format     { return h.format }
func (h *SlotHandle) Planes() []Plane    { return h.backing.Planes() }
func (h *SlotHandle) DMABuf() bool       { return h.backing.DMABuf() }

// Backing gives producers that export their own buffers access to the
// concrete backing type.
func (h *SlotHandle) Backing() Backing { return h.backing }

// Bytes returns the CPU-mapped pixels, or nil if the backing is not mapped.
func (h *SlotHandle) Bytes() []byte {
	if h.expired() {
		return nil
	}
	if m, ok := h.backing.(Mapped); ok {
		return m.Bytes()
	}
	return nil
}

// AttachCursor records the cursor state to be delivered with this frame.
func (h *SlotHandle) AttachCursor(rec CursorRecord) error {
	if h.expired() {
		return ErrHandleExpired
	}
	h.cursor = &rec
	return nil
}

func (h *SlotHandle) expired() bool {
	return atomic.LoadInt32(&h.done) != 0
}

func (h *SlotHandle) expire() {
	atomic.StoreInt32(&h.done, 1)
}
