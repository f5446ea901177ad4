package capture

import (
	"fmt"

	"github.com/pkg/errors"
)

// SlotID is the index of a slot in its pool.
type SlotID int

// SlotState is the ownership state of a slot. The state decides which thread
// may touch the slot's contents.
type SlotState int32

const (
	// Owned by the pool, available to the producer.
	SlotFree SlotState = iota
	// Reserved by the producer, being filled.
	SlotReserved
	// Filled, waiting for the transport.
	SlotFilled
	// Handed to the transport.
	SlotInFlight
	// Returned by the transport, waiting on the fence.
	SlotRecycling

	numSlotStates
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "Free"
	case SlotReserved:
		return "Reserved"
	case SlotFilled:
		return "Filled"
	case SlotInFlight:
		return "InFlight"
	case SlotRecycling:
		return "Recycling"
	}
	return fmt.Sprintf("SlotState(%d)", int32(s))
}

// SlotRef names a slot in a particular pool epoch. It is the only slot
// reference that crosses threads.
type SlotRef struct {
	ID         SlotID
	Generation uint64
}

func (r SlotRef) String() string {
	return fmt.Sprintf("slot %d@%d", r.ID, r.Generation)
}

type slot struct {
	id      SlotID
	gen     uint64
	state   SlotState
	backing Backing

	// Written by the producer before Filled, read by the consumer after.
	cursor *CursorRecord
	seq    uint64
	pts    int64

	// Bumped each time the slot enters Recycling, so a fence wait that
	// outlived a forced reclaim cannot free the slot's next use.
	recycle uint64

	// Deliveries the transport has not handed back yet. A forced reclaim
	// frees the slot but leaves this count, since consumers may still read
	// the mapping.
	lent int
}

func (s *slot) ref() SlotRef {
	return SlotRef{s.id, s.gen}
}

// Move the slot from one state to the next. Anything else than the expected
// predecessor leaves the slot untouched.
func (s *slot) transition(from, to SlotState) error {
	if s.state != from {
		return errors.Wrapf(ErrInvalidTransition, "slot %d: %v -> %v while %v", s.id, from, to, s.state)
	}
	s.state = to
	return nil
}

func (s *slot) clearMeta() {
	s.cursor = nil
	s.seq = 0
	s.pts = 0
}
