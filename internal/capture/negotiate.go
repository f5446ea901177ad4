package capture

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// State is the negotiation state of a stream.
type State int32

const (
	Disconnected State = iota
	Connecting
	Negotiating
	Streaming
	Paused
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Negotiating:
		return "Negotiating"
	case Streaming:
		return "Streaming"
	case Paused:
		return "Paused"
	case Error:
		return "Error"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Allowed transitions. Error only leaves through Disconnected.
var transitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Negotiating, Error, Disconnected},
	Negotiating:  {Streaming, Paused, Error, Disconnected},
	Streaming:    {Negotiating, Paused, Error, Disconnected},
	Paused:       {Streaming, Negotiating, Error, Disconnected},
	Error:        {Disconnected},
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Observer is notified after every accepted transition, with the
// negotiator's lock released.
type Observer func(old, new State)

// Negotiator tracks the stream's negotiation state and the active and pending
// formats. State reads are lock-free so the producer can check for Streaming
// on every frame.
type Negotiator struct {
	state int32

	mu        sync.Mutex
	active    *Format
	pending   *Format
	closed    bool
	observers []Observer
}

func NewNegotiator() *Negotiator {
	return &Negotiator{state: int32(Disconnected)}
}

// State returns the current state.
func (n *Negotiator) State() State {
	return State(atomic.LoadInt32(&n.state))
}

// Observe registers fn for all future transitions.
func (n *Negotiator) Observe(fn Observer) {
	n.mu.Lock()
	n.observers = append(n.observers, fn)
	n.mu.Unlock()
}

// Transition moves to state to, failing with ErrInvalidTransition if the move
// is not in the transition table.
func (n *Negotiator) Transition(to State) error {
	return n.transition(func(from State) error {
		if !allowed(from, to) {
			return errors.Wrapf(ErrInvalidTransition, "%v -> %v", from, to)
		}
		return nil
	}, to)
}

// CompareAndTransition moves from one state to the next only if the
// negotiator is currently in from. It reports whether it did.
func (n *Negotiator) CompareAndTransition(from, to State) bool {
	err := n.transition(func(cur State) error {
		if cur != from || !allowed(from, to) {
			return ErrInvalidTransition
		}
		return nil
	}, to)
	return err == nil
}

// Propose records a format proposed by the media graph and enters
// Negotiating. A new proposal may replace one still being negotiated.
func (n *Negotiator) Propose(f Format) error {
	return n.transition(func(from State) error {
		if from != Negotiating && !allowed(from, Negotiating) {
			return errors.Wrapf(ErrInvalidTransition, "proposal while %v", from)
		}
		n.pending = &f
		return nil
	}, Negotiating)
}

// Accept makes f the active format and enters Streaming. It is only valid
// while Negotiating.
func (n *Negotiator) Accept(f Format) error {
	return n.transition(func(from State) error {
		if from != Negotiating {
			return errors.Wrapf(ErrInvalidTransition, "accept while %v", from)
		}
		n.active = &f
		n.pending = nil
		return nil
	}, Streaming)
}

// Fail enters Error. The active format is kept for diagnostics.
func (n *Negotiator) Fail() error {
	return n.transition(func(from State) error {
		if !allowed(from, Error) {
			return errors.Wrapf(ErrInvalidTransition, "fail while %v", from)
		}
		n.pending = nil
		return nil
	}, Error)
}

// Close moves to Disconnected from any state and rejects every later
// transition.
func (n *Negotiator) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	old := State(atomic.SwapInt32(&n.state, int32(Disconnected)))
	n.active, n.pending = nil, nil
	observers := n.observers
	n.mu.Unlock()

	if old != Disconnected {
		log.Debug("negotiation: %v -> %v (closed)", old, Disconnected)
		for _, fn := range observers {
			fn(old, Disconnected)
		}
	}
}

// ActiveFormat returns the format in use, if any.
func (n *Negotiator) ActiveFormat() (Format, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.active == nil {
		return Format{}, false
	}
	return *n.active, true
}

// PendingFormat returns the proposed format being negotiated, if any.
func (n *Negotiator) PendingFormat() (Format, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pending == nil {
		return Format{}, false
	}
	return *n.pending, true
}

func (n *Negotiator) transition(check func(from State) error, to State) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrSessionClosed
	}
	from := n.State()
	if err := check(from); err != nil {
		n.mu.Unlock()
		return err
	}
	atomic.StoreInt32(&n.state, int32(to))
	observers := n.observers
	n.mu.Unlock()

	if from != to {
		log.Debug("negotiation: %v -> %v", from, to)
	}
	for _, fn := range observers {
		fn(from, to)
	}
	return nil
}
