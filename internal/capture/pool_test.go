package capture

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolLifecycle(t *testing.T) {
	alloc := &fakeAllocator{}
	p := newPool(t, 2, alloc)
	assert.Equal(t, uint64(1), p.Epoch())

	ref, err := p.AcquireFree()
	require.NoError(t, err)
	assert.Equal(t, SlotID(0), ref.ID)
	assert.Equal(t, uint64(1), ref.Generation)

	require.NoError(t, p.MarkFilled(ref, FillInfo{Seq: 7, PTS: 42}))

	f, err := p.MarkInFlight(ref)
	require.NoError(t, err)
	assert.Equal(t, ref, f.Ref)
	assert.Equal(t, uint64(7), f.Seq)
	assert.Equal(t, int64(42), f.PTS)
	assert.Equal(t, testFormat, f.Format)
	assert.Len(t, f.Data, 32)

	st, err := p.StateOf(ref)
	require.NoError(t, err)
	assert.Equal(t, SlotInFlight, st)

	require.NoError(t, p.Release(ref))
	st, _ = p.StateOf(ref)
	assert.Equal(t, SlotFree, st)

	snap := p.Snapshot()
	assert.Equal(t, 2, snap.Capacity)
	assert.Equal(t, 2, snap.Count(SlotFree))
}

func TestPoolBackpressure(t *testing.T) {
	p := newPool(t, 3, &fakeAllocator{})
	for i := 0; i < 3; i++ {
		_, err := p.AcquireFree()
		require.NoError(t, err)
	}
	_, err := p.AcquireFree()
	assert.Equal(t, ErrBackpressured, err)
	assert.Equal(t, 3, p.Snapshot().Count(SlotReserved))
}

func TestPoolSuspended(t *testing.T) {
	p := NewPool(time.Millisecond)
	_, err := p.AcquireFree()
	assert.Equal(t, ErrPoolUnavailable, err)

	p = newPool(t, 1, &fakeAllocator{})
	p.Suspend()
	_, err = p.AcquireFree()
	assert.Equal(t, ErrPoolUnavailable, err)
	require.NoError(t, p.Resume())
	_, err = p.AcquireFree()
	assert.NoError(t, err)
}

func TestPoolInvalidTransitions(t *testing.T) {
	p := newPool(t, 1, &fakeAllocator{})
	ref := SlotRef{0, p.Epoch()}

	// Free -> InFlight skips Filled.
	_, err := p.MarkInFlight(ref)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	// Free -> Recycling.
	assert.True(t, errors.Is(p.Release(ref), ErrInvalidTransition))
	// Free -> Filled skips Reserved.
	assert.True(t, errors.Is(p.MarkFilled(ref, FillInfo{}), ErrInvalidTransition))

	st, _ := p.StateOf(ref)
	assert.Equal(t, SlotFree, st)

	_, err = p.AcquireFree()
	require.NoError(t, err)
	require.NoError(t, p.MarkFilled(ref, FillInfo{}))
	// Filled -> Free backwards.
	assert.True(t, errors.Is(p.Abandon(ref), ErrInvalidTransition))
	st, _ = p.StateOf(ref)
	assert.Equal(t, SlotFilled, st)
}

func TestPoolStaleRef(t *testing.T) {
	alloc := &fakeAllocator{}
	p := newPool(t, 2, alloc)

	ref, _ := p.AcquireFree()
	require.NoError(t, p.MarkFilled(ref, FillInfo{}))

	p.Suspend()
	require.NoError(t, p.Rebuild(2, Layout{Format: testFormat}, alloc))
	require.NoError(t, p.Resume())
	assert.Equal(t, uint64(2), p.Epoch())

	before := p.Snapshot()
	_, err := p.MarkInFlight(ref)
	assert.True(t, errors.Is(err, ErrStaleSlot))
	assert.True(t, errors.Is(p.Release(ref), ErrStaleSlot))
	assert.Equal(t, before, p.Snapshot())
}

func TestPoolRebuildRequiresSuspend(t *testing.T) {
	alloc := &fakeAllocator{}
	p := newPool(t, 1, alloc)
	err := p.Rebuild(2, Layout{Format: testFormat}, alloc)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, 1, p.Snapshot().Capacity)

	p.Suspend()
	assert.Error(t, p.Rebuild(0, Layout{}, alloc))
}

func TestPoolRebuildAllocFailure(t *testing.T) {
	alloc := &fakeAllocator{}
	p := newPool(t, 2, alloc)
	p.Suspend()
	alloc.allocErr = errBoom

	err := p.Rebuild(2, Layout{Format: testFormat}, alloc)
	assert.Equal(t, errBoom, errors.Cause(err))
	assert.Equal(t, 0, alloc.open())
	assert.Equal(t, 0, p.Snapshot().Capacity)
}

func TestPoolOrphanedReservation(t *testing.T) {
	alloc := &fakeAllocator{}
	p := newPool(t, 2, alloc)

	ref, err := p.AcquireFree()
	require.NoError(t, err)

	p.Suspend()
	require.NoError(t, p.Rebuild(2, Layout{Format: testFormat}, alloc))

	// The reserved backing survives the rebuild until the producer hands it
	// back.
	assert.False(t, alloc.backings[ref.ID].isClosed())
	assert.True(t, alloc.backings[1].isClosed())

	assert.True(t, errors.Is(p.MarkFilled(ref, FillInfo{}), ErrStaleSlot))
	assert.True(t, alloc.backings[ref.ID].isClosed())
	assert.Equal(t, 2, alloc.open())
}

func TestPoolFenceWait(t *testing.T) {
	fence := make(chanFence)
	alloc := &fakeAllocator{fence: fence}
	p := newPool(t, 1, alloc)

	ref, _ := p.AcquireFree()
	require.NoError(t, p.MarkFilled(ref, FillInfo{}))
	_, err := p.MarkInFlight(ref)
	require.NoError(t, err)

	// The fence never signals: the slot is reclaimed after the timeout.
	start := time.Now()
	require.NoError(t, p.Release(ref))
	assert.True(t, time.Since(start) >= 20*time.Millisecond)

	snap := p.Snapshot()
	assert.Equal(t, 1, snap.Count(SlotFree))
	assert.Equal(t, uint64(1), snap.ForcedReclaims)

	// A signalled fence releases without counting.
	close(fence)
	ref, _ = p.AcquireFree()
	require.NoError(t, p.MarkFilled(ref, FillInfo{}))
	_, err = p.MarkInFlight(ref)
	require.NoError(t, err)
	require.NoError(t, p.Release(ref))
	assert.Equal(t, uint64(1), p.Snapshot().ForcedReclaims)
}

func TestPoolDrain(t *testing.T) {
	p := newPool(t, 2, &fakeAllocator{})
	ref, _ := p.AcquireFree()
	require.NoError(t, p.MarkFilled(ref, FillInfo{}))
	_, err := p.MarkInFlight(ref)
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Release(ref)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Drain(ctx))
	assert.Equal(t, 2, p.Snapshot().Count(SlotFree))
}

func TestPoolDrainTimeout(t *testing.T) {
	p := newPool(t, 2, &fakeAllocator{})
	for i := 0; i < 2; i++ {
		ref, _ := p.AcquireFree()
		require.NoError(t, p.MarkFilled(ref, FillInfo{}))
		_, err := p.MarkInFlight(ref)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Drain(ctx)
	assert.True(t, errors.Is(err, ErrDrainTimeout))

	snap := p.Snapshot()
	assert.Equal(t, 2, snap.Count(SlotFree))
	assert.Equal(t, uint64(2), snap.ForcedReclaims)

	// A late release of a reclaimed slot is rejected.
	assert.True(t, errors.Is(p.Release(SlotRef{0, p.Epoch()}), ErrInvalidTransition))
}

func TestPoolDestroy(t *testing.T) {
	alloc := &fakeAllocator{}
	p := newPool(t, 3, alloc)
	a, _ := p.AcquireFree()
	b, _ := p.AcquireFree()
	require.NoError(t, p.MarkFilled(b, FillInfo{}))
	_, err := p.MarkInFlight(b)
	require.NoError(t, err)

	p.Destroy()
	p.Destroy()
	// The reservation and the delivered slot stay mapped.
	assert.Equal(t, 2, alloc.open())
	assert.Equal(t, 2, p.Snapshot().Orphans)

	_, err = p.AcquireFree()
	assert.Equal(t, ErrSessionClosed, err)
	assert.Equal(t, ErrSessionClosed, p.Drain(context.Background()))
	assert.True(t, errors.Is(p.Release(b), ErrStaleSlot))

	// The transport gave its slot back; the reservation stays open until the
	// producer returns it.
	assert.Equal(t, 1, alloc.open())
	assert.True(t, errors.Is(p.Abandon(a), ErrStaleSlot))
	assert.Equal(t, 0, alloc.open())
}

func TestDrainUnblocksOnDestroy(t *testing.T) {
	p := newPool(t, 1, &fakeAllocator{})
	ref, _ := p.AcquireFree()
	require.NoError(t, p.MarkFilled(ref, FillInfo{}))
	_, err := p.MarkInFlight(ref)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Drain(context.Background()) }()

	time.Sleep(5 * time.Millisecond)
	p.Destroy()

	select {
	case err := <-done:
		assert.Equal(t, ErrSessionClosed, err)
	case <-time.After(time.Second):
		t.Fatal("drain did not return after destroy")
	}
}

func deliver(t *testing.T, p *Pool) SlotRef {
	ref, err := p.AcquireFree()
	require.NoError(t, err)
	require.NoError(t, p.MarkFilled(ref, FillInfo{}))
	_, err = p.MarkInFlight(ref)
	require.NoError(t, err)
	return ref
}

func TestPoolDeliveredBackingOutlivesRebuild(t *testing.T) {
	alloc := &fakeAllocator{}
	p := newPool(t, 2, alloc)
	ref := deliver(t, p)

	p.Suspend()
	require.NoError(t, p.Rebuild(2, Layout{Format: testFormat}, alloc))
	assert.False(t, alloc.backings[ref.ID].isClosed())
	assert.True(t, alloc.backings[1].isClosed())
	assert.Equal(t, 1, p.Snapshot().Orphans)

	assert.True(t, errors.Is(p.Release(ref), ErrStaleSlot))
	assert.True(t, alloc.backings[ref.ID].isClosed())
	assert.Equal(t, 0, p.Snapshot().Orphans)
	assert.Equal(t, 2, alloc.open())
}

func TestPoolReclaimedBackingOutlivesRebuild(t *testing.T) {
	alloc := &fakeAllocator{}
	p := newPool(t, 2, alloc)
	a := deliver(t, p)

	// Forced reclaim, then the slot is reused and delivered again.
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	require.True(t, errors.Is(p.Drain(ctx), ErrDrainTimeout))
	b := deliver(t, p)
	require.Equal(t, a, b)

	p.Suspend()
	require.NoError(t, p.Rebuild(1, Layout{Format: testFormat}, alloc))
	assert.Equal(t, 1, p.Snapshot().Orphans)

	// Both deliveries must come back before the mapping goes.
	assert.Error(t, p.Release(a))
	assert.False(t, alloc.backings[a.ID].isClosed())
	assert.Error(t, p.Release(b))
	assert.True(t, alloc.backings[a.ID].isClosed())
	assert.Equal(t, 0, p.Snapshot().Orphans)
}

func TestPoolResetKeepsDeliveredBacking(t *testing.T) {
	alloc := &fakeAllocator{}
	p := newPool(t, 2, alloc)
	ref := deliver(t, p)

	p.Reset()
	assert.Equal(t, 1, alloc.open())
	assert.True(t, errors.Is(p.Release(ref), ErrStaleSlot))
	assert.Equal(t, 0, alloc.open())
}

func TestPoolSuspendReportsActive(t *testing.T) {
	p := NewPool(time.Millisecond)
	assert.False(t, p.Suspend())

	p = newPool(t, 1, &fakeAllocator{})
	assert.True(t, p.Suspend())
	assert.False(t, p.Suspend())
}
