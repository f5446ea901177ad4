package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// FillInfo is the metadata the producer attaches when a slot becomes Filled.
type FillInfo struct {
	Cursor *CursorRecord
	Seq    uint64
	PTS    int64
}

// PoolSnapshot is a point-in-time view of the pool, for stats and tests.
type PoolSnapshot struct {
	Epoch          uint64
	Capacity       int
	Suspended      bool
	ForcedReclaims uint64
	States         [numSlotStates]int

	// Detached backings still held by the producer or the transport.
	Orphans int
}

// Count returns the number of slots in state st.
func (s PoolSnapshot) Count(st SlotState) int {
	if st < 0 || st >= numSlotStates {
		return 0
	}
	return s.States[st]
}

// Pool is a fixed-capacity arena of slots. Slots are addressed by index plus
// the epoch they were allocated in, so a reference that outlives a rebuild is
// detected with one integer comparison.
//
// All slot state lives behind a single mutex that is never held while waiting
// on a fence, allocating, or calling out to a producer or transport.
type Pool struct {
	mu sync.Mutex

	slots     []*slot
	layout    Layout
	epoch     uint64
	suspended bool
	destroyed bool

	// Number of slots InFlight or Recycling.
	busy int

	// Backings detached by a rebuild, reset or teardown while the producer
	// or the transport still held them. Each is closed when its last holder
	// hands the stale reference back.
	orphans map[SlotRef]*orphan

	// Signalled (without blocking) whenever busy decreases.
	changed chan struct{}

	// Closed by Destroy.
	closed chan struct{}

	fenceTimeout time.Duration
	forced       uint64
}

// NewPool creates an empty, suspended pool. Rebuild allocates its slots.
func NewPool(fenceTimeout time.Duration) *Pool {
	return &Pool{
		suspended:    true,
		orphans:      make(map[SlotRef]*orphan),
		changed:      make(chan struct{}, 1),
		closed:       make(chan struct{}),
		fenceTimeout: fenceTimeout,
	}
}

// AcquireFree reserves a free slot for the producer. It never blocks: if no
// slot is free it returns ErrBackpressured, and while the pool is suspended
// for negotiation it returns ErrPoolUnavailable.
func (p *Pool) AcquireFree() (SlotRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return SlotRef{}, ErrSessionClosed
	}
	if p.suspended {
		return SlotRef{}, ErrPoolUnavailable
	}
	for _, s := range p.slots {
		if s.state == SlotFree {
			s.state = SlotReserved
			return s.ref(), nil
		}
	}
	return SlotRef{}, ErrBackpressured
}

// reserved returns what the producer needs to fill a reserved slot.
func (p *Pool) reserved(ref SlotRef) (Format, Backing, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.lookup(ref)
	if err != nil {
		return Format{}, nil, err
	}
	if s.state != SlotReserved {
		return Format{}, nil, errors.Wrapf(ErrInvalidTransition, "%v is %v, not reserved", ref, s.state)
	}
	return p.layout.Format, s.backing, nil
}

// MarkFilled publishes the producer's writes: Reserved -> Filled.
func (p *Pool) MarkFilled(ref SlotRef, info FillInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.lookup(ref)
	if err != nil {
		p.releaseOrphan(ref)
		return err
	}
	if err := s.transition(SlotReserved, SlotFilled); err != nil {
		return err
	}
	s.cursor = info.Cursor
	s.seq = info.Seq
	s.pts = info.PTS
	return nil
}

// Abandon returns a reserved slot whose fill failed: Reserved -> Free.
func (p *Pool) Abandon(ref SlotRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.lookup(ref)
	if err != nil {
		p.releaseOrphan(ref)
		return err
	}
	if err := s.transition(SlotReserved, SlotFree); err != nil {
		return err
	}
	s.clearMeta()
	return nil
}

// MarkInFlight hands a filled slot to the transport: Filled -> InFlight. The
// returned frame is a snapshot of the slot taken under the same lock as the
// transition, so the consumer never observes metadata from before the fill.
func (p *Pool) MarkInFlight(ref SlotRef) (Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.lookup(ref)
	if err != nil {
		return Frame{}, err
	}
	if err := s.transition(SlotFilled, SlotInFlight); err != nil {
		return Frame{}, err
	}
	p.busy++
	s.lent++
	return p.frame(s), nil
}

// Release returns a slot from the transport: InFlight -> Recycling -> Free.
// While Recycling, the backing's fence (if any) is waited on for at most the
// pool's fence timeout, without holding the pool lock. An expired fence is
// logged and the slot is reclaimed anyway.
func (p *Pool) Release(ref SlotRef) error {
	p.mu.Lock()
	s, err := p.lookup(ref)
	if err != nil {
		p.releaseOrphan(ref)
		p.mu.Unlock()
		return err
	}
	if err := s.transition(SlotInFlight, SlotRecycling); err != nil {
		// A late release of a force-reclaimed slot.
		if s.lent > 0 {
			s.lent--
		}
		p.mu.Unlock()
		return err
	}
	s.recycle++
	token := s.recycle
	backing := s.backing
	p.mu.Unlock()

	forced := false
	if f, ok := backing.(Fenced); ok {
		if fence := f.Fence(); fence != nil {
			if err := fence.Wait(p.fenceTimeout); err != nil {
				log.Warn("%v: fence not signalled within %v, reclaiming: %v", ref, p.fenceTimeout, err)
				forced = true
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// The slot may have been force-reclaimed, rebuilt or destroyed while we
	// were waiting.
	if ref.Generation != p.epoch {
		p.releaseOrphan(ref)
		return errors.Wrapf(ErrStaleSlot, "%v reclaimed during recycle", ref)
	}
	if s.lent > 0 {
		s.lent--
	}
	if s.state != SlotRecycling || s.recycle != token {
		return errors.Wrapf(ErrStaleSlot, "%v reclaimed during recycle", ref)
	}
	s.state = SlotFree
	s.clearMeta()
	p.busy--
	p.signal()
	if forced {
		atomic.AddUint64(&p.forced, 1)
	}
	return nil
}

// DiscardFilled frees every slot that was filled but not yet handed to the
// transport. Used when queued notifications are flushed.
func (p *Pool) DiscardFilled() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, s := range p.slots {
		if s.state == SlotFilled {
			s.state = SlotFree
			s.clearMeta()
			n++
		}
	}
	return n
}

// Suspend makes AcquireFree fail with ErrPoolUnavailable until Resume. It is
// the first step of a renegotiation. It reports whether the pool was active.
func (p *Pool) Suspend() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	active := !p.suspended && !p.destroyed
	p.suspended = true
	return active
}

// Resume re-enables AcquireFree after a successful Rebuild.
func (p *Pool) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return ErrSessionClosed
	}
	if len(p.slots) == 0 {
		return errors.Wrap(ErrPoolUnavailable, "resume without slots")
	}
	p.suspended = false
	return nil
}

// Drain waits until no slot is InFlight or Recycling. If ctx expires first,
// the remaining busy slots are force-reclaimed and ErrDrainTimeout is
// returned; the pool is usable afterwards.
func (p *Pool) Drain(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.destroyed {
			p.mu.Unlock()
			return ErrSessionClosed
		}
		busy := p.busy
		p.mu.Unlock()

		if busy == 0 {
			return nil
		}

		select {
		case <-p.changed:
		case <-p.closed:
			return ErrSessionClosed
		case <-ctx.Done():
			n := p.reclaimBusy()
			log.Warn("drain: %d slots still held by the transport, force-reclaimed", n)
			return errors.Wrapf(ErrDrainTimeout, "%d slots force-reclaimed", n)
		}
	}
}

func (p *Pool) reclaimBusy() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, s := range p.slots {
		if s.state == SlotInFlight || s.state == SlotRecycling {
			s.state = SlotFree
			s.clearMeta()
			n++
		}
	}
	p.busy = 0
	atomic.AddUint64(&p.forced, uint64(n))
	p.signal()
	return n
}

// Rebuild replaces every slot with capacity fresh slots allocated with
// layout, and advances the epoch by one. It is only valid while the pool is
// suspended. Allocation runs without the pool lock.
func (p *Pool) Rebuild(capacity int, layout Layout, alloc Allocator) error {
	if capacity < 1 {
		return errors.Errorf("capture: invalid pool capacity %d", capacity)
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrSessionClosed
	}
	if !p.suspended {
		p.mu.Unlock()
		return errors.Wrap(ErrInvalidTransition, "rebuild of an active pool")
	}
	old := p.detachLocked()
	epoch := p.epoch
	p.mu.Unlock()

	closeBackings(old)

	slots := make([]*slot, 0, capacity)
	for i := 0; i < capacity; i++ {
		b, err := alloc.Allocate(layout)
		if err != nil {
			closeBackings(backingsOf(slots))
			return errors.Wrapf(err, "allocate slot %d of %d", i, capacity)
		}
		slots = append(slots, &slot{id: SlotID(i), gen: epoch, backing: b})
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed || p.epoch != epoch {
		closeBackings(backingsOf(slots))
		if p.destroyed {
			return ErrSessionClosed
		}
		return errors.Wrap(ErrStaleSlot, "pool replaced during rebuild")
	}
	p.slots = slots
	p.layout = layout
	log.Debug("pool rebuilt: epoch %d, %d slots, %v", epoch, capacity, layout.Format)
	return nil
}

// Reset releases every slot and suspends the pool, leaving it ready for a
// later Rebuild. Fences are not waited on.
func (p *Pool) Reset() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.suspended = true
	old := p.detachLocked()
	p.mu.Unlock()

	closeBackings(old)
}

// Destroy releases every slot and makes the pool unusable. Fences are not
// waited on. Calling Destroy more than once is harmless.
func (p *Pool) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.suspended = true
	old := p.detachLocked()
	close(p.closed)
	p.mu.Unlock()

	closeBackings(old)
}

// An orphan is a detached backing and the number of stale references that
// may still touch it.
type orphan struct {
	backing Backing
	holds   int
}

// Detach all slots and advance the epoch. Backings still held by the producer
// (Reserved) or by the transport (lent and not yet released) become orphans;
// the rest are returned for closing. Must be called with p.mu held.
func (p *Pool) detachLocked() []Backing {
	var out []Backing
	for _, s := range p.slots {
		holds := s.lent
		if s.state == SlotReserved {
			holds++
		}
		if s.state == SlotInFlight || s.state == SlotRecycling {
			if _, ok := s.backing.(Fenced); ok {
				log.Warn("slot %d released while %v, fence not honored", s.id, s.state)
			}
		}
		if holds > 0 {
			p.orphans[s.ref()] = &orphan{s.backing, holds}
			continue
		}
		out = append(out, s.backing)
	}
	p.slots = nil
	p.busy = 0
	p.epoch++
	p.signal()
	return out
}

// Drop one hold on the orphaned backing of ref, closing it with the last.
func (p *Pool) releaseOrphan(ref SlotRef) {
	o, ok := p.orphans[ref]
	if !ok {
		return
	}
	if o.holds--; o.holds > 0 {
		return
	}
	delete(p.orphans, ref)
	closeBackings([]Backing{o.backing})
}

func (p *Pool) lookup(ref SlotRef) (*slot, error) {
	if ref.Generation != p.epoch || ref.ID < 0 || int(ref.ID) >= len(p.slots) {
		return nil, errors.Wrapf(ErrStaleSlot, "%v, pool epoch %d", ref, p.epoch)
	}
	return p.slots[ref.ID], nil
}

func (p *Pool) signal() {
	select {
	case p.changed <- struct{}{}:
	default:
	}
}

func (p *Pool) frame(s *slot) Frame {
	f := Frame{
		Ref:    s.ref(),
		Format: p.layout.Format,
		Planes: append([]Plane(nil), s.backing.Planes()...),
		DMABuf: s.backing.DMABuf(),
		Seq:    s.seq,
		PTS:    s.pts,
		Cursor: s.cursor,
	}
	if m, ok := s.backing.(Mapped); ok {
		f.Data = m.Bytes()
	}
	return f
}

// BufferInfo describes slot index of the current epoch to the transport.
func (p *Pool) BufferInfo(index int) (BufferInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.slots) {
		return BufferInfo{}, errors.Wrapf(ErrPoolUnavailable, "no slot %d in epoch %d", index, p.epoch)
	}
	s := p.slots[index]
	return BufferInfo{
		Ref:    s.ref(),
		Planes: append([]Plane(nil), s.backing.Planes()...),
		DMABuf: s.backing.DMABuf(),
	}, nil
}

// StateOf returns the state of the referenced slot.
func (p *Pool) StateOf(ref SlotRef) (SlotState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.lookup(ref)
	if err != nil {
		return 0, err
	}
	return s.state, nil
}

// Epoch returns the current generation counter.
func (p *Pool) Epoch() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

// Layout returns the layout of the current epoch.
func (p *Pool) Layout() Layout {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.layout
}

// Snapshot counts slots per state.
func (p *Pool) Snapshot() PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := PoolSnapshot{
		Epoch:          p.epoch,
		Capacity:       len(p.slots),
		Suspended:      p.suspended,
		ForcedReclaims: atomic.LoadUint64(&p.forced),
		Orphans:        len(p.orphans),
	}
	for _, s := range p.slots {
		snap.States[s.state]++
	}
	return snap
}

func backingsOf(slots []*slot) []Backing {
	out := make([]Backing, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.backing)
	}
	return out
}

func closeBackings(bs []Backing) {
	for _, b := range bs {
		if b == nil {
			continue
		}
		if err := b.Close(); err != nil {
			log.Warn("close backing: %v", err)
		}
	}
}
