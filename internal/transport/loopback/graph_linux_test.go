//go:build linux
// +build linux

package loopback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/pwcapture/internal/backing"
	"github.com/lanikai/pwcapture/internal/capture"
)

// A session on shared memory whose drain gives up quickly.
func mapped(t *testing.T) (*Graph, *capture.Session) {
	g := New(Options{Buffers: 2})
	cfg := capture.DefaultConfig()
	cfg.Width, cfg.Height = 4, 2
	cfg.Offers = []capture.FormatOffer{{Formats: []capture.PixelFormat{capture.FormatBGRx}}}
	cfg.DrainTimeout = 20 * time.Millisecond
	alloc := &backing.Allocator{Memfd: backing.MemfdAllocator{Name: "loopback-test"}}
	s := capture.NewSession(cfg, capture.NodeIdentity{Name: "loopback-test"}, g, alloc)

	require.Equal(t, capture.ErrNotStreaming, s.SubmitFrame(stamp))
	within(t, func() bool { return s.State() == capture.Streaming })
	t.Cleanup(func() {
		s.Shutdown()
		g.Close()
	})
	return g, s
}

func hold(t *testing.T, g *Graph, s *capture.Session) *SharedFrame {
	sub := g.Subscribe(1)
	require.NoError(t, s.SubmitFrame(stamp))
	select {
	case f := <-sub:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}
	return nil
}

func TestHeldFrameSurvivesReclaim(t *testing.T) {
	g, s := mapped(t)
	held := hold(t, g, s)
	epoch := s.Epoch()

	// The drain times out with the frame still held and the pool is rebuilt.
	larger := small
	larger.Width = 8
	require.NoError(t, g.Renegotiate(capture.Proposal{Format: larger, Buffers: 2}))
	within(t, func() bool { return s.State() == capture.Streaming && s.Epoch() == epoch+1 })

	st := s.Stats()
	assert.Equal(t, uint64(1), st.ForcedReclaims)
	assert.Equal(t, 1, st.Pool.Orphans)
	assert.Equal(t, byte(held.Ref.ID), held.Data[0])
	held.Data[1] = 0xff

	held.Release()
	assert.Equal(t, 0, s.Stats().Pool.Orphans)
}

func TestHeldFrameSurvivesShutdown(t *testing.T) {
	g, s := mapped(t)
	held := hold(t, g, s)

	require.NoError(t, s.Shutdown())
	require.NoError(t, g.Close())
	assert.Equal(t, 1, s.Stats().Pool.Orphans)
	assert.Equal(t, byte(held.Ref.ID), held.Data[0])
	held.Data[1] = 0xff

	held.Release()
	assert.Equal(t, 0, s.Stats().Pool.Orphans)
	assert.Equal(t, uint64(1), s.Stats().Stale)
}
