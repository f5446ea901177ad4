package loopback

import (
	"sync/atomic"

	"github.com/lanikai/pwcapture/internal/capture"
)

/*
A SharedFrame is a delivered frame that may be read concurrently by several
subscribers. Each subscriber must Release() the frame as soon as it is done
with the pixels; the slot goes back to the capture session when the last hold
is released. A subscriber that needs the pixels for longer should copy them,
Release(), then continue with its copy.

	for f := range graph.Subscribe(4) {
		process(f.Data)
		f.Release()
	}
*/
type SharedFrame struct {
	capture.Frame

	count   int32
	release func()
}

// NewSharedFrame wraps f with one hold; release runs when the last hold goes.
func NewSharedFrame(f capture.Frame, release func()) *SharedFrame {
	return &SharedFrame{f, 1, release}
}

// Increments the hold count.
func (f *SharedFrame) Hold() {
	atomic.AddInt32(&f.count, 1)
}

// Decrements the hold count. When the hold count reaches zero, the slot is
// returned.
func (f *SharedFrame) Release() {
	if f == nil {
		return
	}
	n := atomic.AddInt32(&f.count, -1)
	if n == 0 && f.release != nil {
		f.release()
	} else if n < 0 {
		log.Warn("%v released more often than held", f.Ref)
	}
}
