package loopback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/pwcapture/internal/capture"
)

type heapBacking struct{ buf []byte }

func (b *heapBacking) Planes() []capture.Plane {
	return []capture.Plane{{FD: -1, Size: uint32(len(b.buf))}}
}
func (b *heapBacking) DMABuf() bool  { return false }
func (b *heapBacking) Bytes() []byte { return b.buf }
func (b *heapBacking) Close() error  { return nil }

type heapAllocator struct{}

func (heapAllocator) Fixate(p capture.Proposal) (capture.Layout, error) {
	return capture.Layout{Format: p.Format, Planes: 1}, nil
}

func (heapAllocator) Allocate(l capture.Layout) (capture.Backing, error) {
	return &heapBacking{make([]byte, 4*l.Format.Width*l.Format.Height)}, nil
}

var small = capture.Format{Width: 4, Height: 2, PixelFormat: capture.FormatBGRx}

var stamp = capture.FillFunc(func(h *capture.SlotHandle) error {
	h.Bytes()[0] = byte(h.ID())
	return nil
})

func within(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func connected(t *testing.T, opts Options) (*Graph, *capture.Session) {
	g := New(opts)
	cfg := capture.DefaultConfig()
	cfg.Width, cfg.Height = 4, 2
	cfg.Offers = []capture.FormatOffer{{Formats: []capture.PixelFormat{capture.FormatBGRx}}}
	s := capture.NewSession(cfg, capture.NodeIdentity{Name: "loopback-test"}, g, heapAllocator{})

	require.Equal(t, capture.ErrNotStreaming, s.SubmitFrame(stamp))
	within(t, func() bool { return s.State() == capture.Streaming })
	t.Cleanup(func() {
		s.Shutdown()
		g.Close()
	})
	return g, s
}

func TestProposalFromConnectParams(t *testing.T) {
	_, s := connected(t, Options{Buffers: 3})
	f, ok := s.ActiveFormat()
	require.True(t, ok)
	assert.Equal(t, small, f)
	assert.Equal(t, 3, s.Stats().Pool.Capacity)
}

func TestDeliverToSubscriber(t *testing.T) {
	g, s := connected(t, Options{Buffers: 4})
	sub := g.Subscribe(8)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SubmitFrame(stamp))
	}

	var last uint64
	for i := 0; i < 3; i++ {
		select {
		case f := <-sub:
			assert.True(t, f.Seq > last)
			last = f.Seq
			assert.Equal(t, byte(f.Ref.ID), f.Data[0])
			f.Release()
		case <-time.After(2 * time.Second):
			t.Fatal("frame not delivered")
		}
	}

	within(t, func() bool { return g.Released() == 3 })
	assert.Equal(t, uint64(3), g.Delivered())
	assert.Equal(t, 4, s.Stats().Pool.Count(capture.SlotFree))
}

func TestNoSubscribers(t *testing.T) {
	g, s := connected(t, Options{Buffers: 2})
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SubmitFrame(stamp))
		within(t, func() bool { return g.Released() == uint64(i+1) })
	}
	assert.Equal(t, uint64(5), s.Stats().Released)
}

func TestSlowSubscriberLosesOldest(t *testing.T) {
	g, s := connected(t, Options{Buffers: 4})
	sub := g.Subscribe(1)

	require.NoError(t, s.SubmitFrame(stamp))
	within(t, func() bool { return g.Delivered() == 1 })
	require.NoError(t, s.SubmitFrame(stamp))
	within(t, func() bool { return g.Missed() == 1 })

	f := <-sub
	assert.Equal(t, uint64(2), f.Seq)
	f.Release()
	within(t, func() bool { return g.Released() == 2 })

	require.NoError(t, g.Unsubscribe(sub))
	assert.Error(t, g.Unsubscribe(sub))
}

func TestRenegotiateWhileHeld(t *testing.T) {
	g, s := connected(t, Options{Buffers: 2})
	sub := g.Subscribe(4)
	epoch := s.Epoch()

	require.NoError(t, s.SubmitFrame(stamp))
	held := <-sub

	larger := small
	larger.Width = 8
	require.NoError(t, g.Renegotiate(capture.Proposal{Format: larger, Buffers: 3}))
	within(t, func() bool { return s.State() == capture.Negotiating })

	held.Release()
	within(t, func() bool { return s.State() == capture.Streaming && s.Epoch() == epoch+1 })

	st := s.Stats()
	assert.Equal(t, larger, st.Format)
	assert.Equal(t, 3, st.Pool.Capacity)
	assert.Equal(t, uint64(0), st.ForcedReclaims)
}

func TestPauseResume(t *testing.T) {
	g, s := connected(t, Options{Buffers: 2})

	require.NoError(t, g.Pause())
	within(t, func() bool { return s.State() == capture.Paused })
	assert.Equal(t, capture.ErrNotStreaming, s.SubmitFrame(stamp))

	require.NoError(t, g.Resume())
	within(t, func() bool { return s.State() == capture.Streaming })
	assert.NoError(t, s.SubmitFrame(stamp))
}

func TestNotConnected(t *testing.T) {
	g := New(Options{})
	assert.Error(t, g.Trigger())
	assert.Error(t, g.Reconnect(capture.ConnectParams{}))
	assert.Error(t, g.Connect(capture.ConnectParams{}))
	assert.NoError(t, g.Close())
}

func TestOpen(t *testing.T) {
	tr, err := open("640x480")
	require.NoError(t, err)
	g := tr.(*Graph)
	assert.Equal(t, uint32(640), g.opts.Format.Width)
	assert.Equal(t, uint32(480), g.opts.Format.Height)

	_, err = open("big")
	assert.Error(t, err)
}
