package capture

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var testFormat = Format{Width: 4, Height: 2, PixelFormat: FormatBGRx, Modifier: ModifierNone}

type fakeBacking struct {
	buf    []byte
	closed int32
}

func (b *fakeBacking) Planes() []Plane {
	return []Plane{{FD: -1, Size: uint32(len(b.buf)), Stride: 16}}
}
func (b *fakeBacking) DMABuf() bool  { return false }
func (b *fakeBacking) Bytes() []byte { return b.buf }
func (b *fakeBacking) Close() error {
	atomic.AddInt32(&b.closed, 1)
	return nil
}
func (b *fakeBacking) isClosed() bool { return atomic.LoadInt32(&b.closed) > 0 }

type fencedBacking struct {
	*fakeBacking
	fence Fence
}

func (b *fencedBacking) Fence() Fence { return b.fence }

// A fence that signals when its channel is closed.
type chanFence chan struct{}

func (f chanFence) Wait(timeout time.Duration) error {
	select {
	case <-f:
		return nil
	case <-time.After(timeout):
		return ErrFenceTimeout
	}
}

type fakeAllocator struct {
	mu        sync.Mutex
	backings  []*fakeBacking
	fence     Fence
	fixateErr error
	allocErr  error
}

func (a *fakeAllocator) Fixate(p Proposal) (Layout, error) {
	if a.fixateErr != nil {
		return Layout{}, a.fixateErr
	}
	return Layout{Format: p.Format, Planes: 1}, nil
}

func (a *fakeAllocator) Allocate(l Layout) (Backing, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.allocErr != nil {
		return nil, a.allocErr
	}
	b := &fakeBacking{buf: make([]byte, 16*l.Format.Height)}
	a.backings = append(a.backings, b)
	if a.fence != nil {
		return &fencedBacking{b, a.fence}, nil
	}
	return b, nil
}

// Number of allocated backings not yet closed.
func (a *fakeAllocator) open() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, b := range a.backings {
		if !b.isClosed() {
			n++
		}
	}
	return n
}

type fakeTransport struct {
	mu          sync.Mutex
	connects    int
	triggers    int
	disconnects int
	params      ConnectParams
	connectErr  error
}

func (t *fakeTransport) Connect(p ConnectParams) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	t.params = p
	return t.connectErr
}

func (t *fakeTransport) Trigger() error {
	t.mu.Lock()
	t.triggers++
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Disconnect() error {
	t.mu.Lock()
	t.disconnects++
	t.mu.Unlock()
	return nil
}

type reconnectingTransport struct {
	fakeTransport
	reconnects int
}

func (t *reconnectingTransport) Reconnect(p ConnectParams) error {
	t.mu.Lock()
	t.reconnects++
	t.mu.Unlock()
	return nil
}

var nopProducer = FillFunc(func(*SlotHandle) error { return nil })

var errBoom = errors.New("boom")

func testConfig(buffers int) Config {
	cfg := DefaultConfig()
	cfg.DefaultBuffers = buffers
	cfg.DrainTimeout = 100 * time.Millisecond
	cfg.FenceTimeout = 20 * time.Millisecond
	return cfg
}

// Bring a session to Streaming with the given capacity.
func streamingSession(t *testing.T, buffers int) (*Session, *fakeTransport, *fakeAllocator) {
	tr := &fakeTransport{}
	alloc := &fakeAllocator{}
	s := NewSession(testConfig(buffers), NodeIdentity{Name: "test (pw-capture)", Serial: "1"}, tr, alloc)

	require.Equal(t, ErrNotStreaming, s.SubmitFrame(nopProducer))
	require.Equal(t, Connecting, s.State())
	require.Equal(t, 1, tr.connects)

	require.NoError(t, s.OnFormatProposal(Proposal{Format: testFormat, Buffers: buffers}))
	require.Equal(t, Streaming, s.State())
	return s, tr, alloc
}

// Export that records delivered frames.
type sink struct {
	frames []Frame
}

func (k *sink) export(f Frame) error {
	k.frames = append(k.frames, f)
	return nil
}

func newPool(t *testing.T, capacity int, alloc *fakeAllocator) *Pool {
	p := NewPool(20 * time.Millisecond)
	require.NoError(t, p.Rebuild(capacity, Layout{Format: testFormat, Planes: 1}, alloc))
	require.NoError(t, p.Resume())
	return p
}
