package loopback

import (
	"sync"
	"sync/atomic"

	"golang.org/x/xerrors"
)

var errNoSubscriber = xerrors.New("loopback: not a subscriber")

// flow fans delivered frames out to subscribers. A slow subscriber loses its
// oldest frame rather than stalling the graph.
type flow struct {
	subscribers []chan *SharedFrame
	missed      uint64

	sync.Mutex
}

func (f *flow) subscribe(capacity int) <-chan *SharedFrame {
	f.Lock()
	defer f.Unlock()

	if capacity <= 0 {
		capacity = 1
	}
	s := make(chan *SharedFrame, capacity)
	f.subscribers = append(f.subscribers, s)
	return s
}

func (f *flow) unsubscribe(s <-chan *SharedFrame) error {
	f.Lock()
	defer f.Unlock()

	for i, subscriber := range f.subscribers {
		if s == subscriber {
			subs := f.subscribers
			closeAndRelease(subs[i])
			subs[len(subs)-1], subs[i] = subs[i], subs[len(subs)-1]
			f.subscribers = subs[:len(subs)-1]
			return nil
		}
	}
	return errNoSubscriber
}

// write gives every subscriber a hold on sf.
func (f *flow) write(sf *SharedFrame) {
	f.Lock()
	defer f.Unlock()

	for _, subscriber := range f.subscribers {
		sf.Hold()
		for {
			select {
			case subscriber <- sf:
			default:
				// Drop oldest frame, retry with the newest.
				select {
				case old := <-subscriber:
					old.Release()
					atomic.AddUint64(&f.missed, 1)
					log.Debug("subscriber missed %v", old.Ref)
				default:
				}
				continue
			}
			break
		}
	}
}

func (f *flow) close() {
	f.Lock()
	defer f.Unlock()

	for _, subscriber := range f.subscribers {
		closeAndRelease(subscriber)
	}
	f.subscribers = nil
}

// Close a subscriber channel and release what it still queues.
func closeAndRelease(s chan *SharedFrame) {
	close(s)
	for sf := range s {
		sf.Release()
	}
}
