//////////////////////////////////////////////////////////////////////////////
//
// Capture errors
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package capture

import (
	"fmt"

	"github.com/pkg/errors"
)

// Outcomes visible to the producer.
var (
	ErrBackpressured     = errors.New("capture: no free slot, frame dropped")
	ErrNotStreaming      = errors.New("capture: stream is not streaming")
	ErrNegotiationFailed = errors.New("capture: format negotiation failed")
	ErrSessionClosed     = errors.New("capture: session closed")
)

// Internal races. These are resolved inside the engine and never reach the
// caller of SubmitFrame.
var (
	ErrPoolUnavailable   = errors.New("capture: slot pool unavailable")
	ErrStaleSlot         = errors.New("capture: stale slot")
	ErrInvalidTransition = errors.New("capture: invalid state transition")
	ErrDrainTimeout      = errors.New("capture: drain timed out")
	ErrFenceTimeout      = errors.New("capture: fence wait timed out")
	ErrHandleExpired     = errors.New("capture: slot handle used after fill returned")
)

// FillError carries an error raised by the producer while filling a slot. The
// frame is dropped but the session stays alive.
type FillError struct {
	Slot SlotID
	Err  error
}

func (e *FillError) Error() string {
	return fmt.Sprintf("capture: fill slot %d: %v", e.Slot, e.Err)
}

func (e *FillError) Unwrap() error { return e.Err }

// Cause lets errors.Cause see through the fill error.
func (e *FillError) Cause() error { return e.Err }

// benign reports whether err is one of the races that are logged at debug
// level and otherwise ignored.
func benign(err error) bool {
	return errors.Is(err, ErrStaleSlot) ||
		errors.Is(err, ErrPoolUnavailable) ||
		errors.Is(err, ErrInvalidTransition)
}
