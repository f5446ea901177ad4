package capture

import (
	"sync"

	"github.com/pkg/errors"
)

// Channel carries filled-slot notifications from the producer to the
// transport thread, oldest first. Notifications are slot references in a
// circular queue; a slot is queued at most once between MarkFilled and
// MarkInFlight, so a queue sized to the pool capacity never overflows.
type Channel struct {
	// A circular queue of filled slot references.
	refs []SlotRef

	// Number of queued references. 0 <= nused <= len(refs).
	nused int

	// The index of the oldest reference. 0 <= first < len(refs).
	first int

	// Single-item channel indicating notifications are waiting.
	ready chan struct{}

	sync.Mutex
}

// NewChannel creates a channel able to hold capacity notifications without
// growing.
func NewChannel(capacity int) *Channel {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel{
		refs:  make([]SlotRef, capacity),
		ready: make(chan struct{}, 1),
	}
}

// NotifyFilled queues ref. It never blocks; if the queue is full (which only
// happens if notifications from an older epoch are still queued) it grows.
func (c *Channel) NotifyFilled(ref SlotRef) {
	c.Lock()
	defer c.Unlock()

	if c.nused == len(c.refs) {
		c.growLocked(2 * len(c.refs))
	}
	c.refs[(c.first+c.nused)%len(c.refs)] = ref
	c.nused++

	select {
	case c.ready <- struct{}{}:
	default:
	}
}

func (c *Channel) pop() (SlotRef, bool) {
	c.Lock()
	defer c.Unlock()

	if c.nused == 0 {
		return SlotRef{}, false
	}
	ref := c.refs[c.first]
	c.first = (c.first + 1) % len(c.refs)
	c.nused--

	// Keep the ready channel full if more notifications are waiting.
	if c.nused > 0 {
		select {
		case c.ready <- struct{}{}:
		default:
		}
	}
	return ref, true
}

// Pull hands the oldest deliverable slot to export. References made stale by
// a rebuild, and slots discarded since they were queued, are skipped. The
// slot is marked InFlight before export is called; if export fails the slot
// is released straight away. Pull reports whether a frame was exported.
func (c *Channel) Pull(pool *Pool, export ExportFunc) (bool, error) {
	for {
		ref, ok := c.pop()
		if !ok {
			return false, nil
		}

		frame, err := pool.MarkInFlight(ref)
		if err != nil {
			if benign(err) {
				log.Debug("skip %v: %v", ref, err)
				continue
			}
			return false, err
		}

		if err := export(frame); err != nil {
			if rerr := pool.Release(ref); rerr != nil && !benign(rerr) {
				log.Warn("release %v after failed export: %v", ref, rerr)
			}
			return false, errors.Wrapf(err, "export %v", ref)
		}
		return true, nil
	}
}

// Reset drops every queued notification and returns how many were dropped.
func (c *Channel) Reset() int {
	c.Lock()
	defer c.Unlock()

	n := c.nused
	c.nused = 0
	c.first = 0
	select {
	case <-c.ready:
	default:
	}
	return n
}

// Resize sets the queue capacity, keeping queued notifications.
func (c *Channel) Resize(capacity int) {
	c.Lock()
	defer c.Unlock()

	if capacity < c.nused {
		capacity = c.nused
	}
	if capacity < 1 {
		capacity = 1
	}
	c.growLocked(capacity)
}

func (c *Channel) growLocked(capacity int) {
	refs := make([]SlotRef, capacity)
	for i := 0; i < c.nused; i++ {
		refs[i] = c.refs[(c.first+i)%len(c.refs)]
	}
	c.refs = refs
	c.first = 0
}

// Len returns the number of queued notifications.
func (c *Channel) Len() int {
	c.Lock()
	defer c.Unlock()
	return c.nused
}

// Ready is signalled when notifications are waiting.
func (c *Channel) Ready() <-chan struct{} {
	return c.ready
}
