//////////////////////////////////////////////////////////////////////////////
//
// In-process media graph
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

// Package loopback is an in-process media graph. It drives a capture
// session's transport callbacks from its own event loop and hands delivered
// frames to subscribers in the same process.
package loopback

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/xerrors"

	"github.com/lanikai/pwcapture/internal/capture"
	"github.com/lanikai/pwcapture/internal/logging"
	"github.com/lanikai/pwcapture/internal/transport"
)

var log = logging.DefaultLogger.WithTag("loopback")

var errNotConnected = xerrors.New("loopback: not connected")

func init() {
	transport.Register("loopback", open)
}

// The argument is an optional frame size, "WIDTHxHEIGHT".
func open(arg string) (capture.Transport, error) {
	var opts Options
	if arg != "" {
		if _, err := fmt.Sscanf(arg, "%dx%d", &opts.Format.Width, &opts.Format.Height); err != nil {
			return nil, xerrors.Errorf("loopback: bad size %q: %w", arg, err)
		}
	}
	return New(opts), nil
}

// Options shape the format the graph proposes. Zero fields are taken from
// the session's connect parameters.
type Options struct {
	Format    capture.Format
	Modifiers []uint64
	Buffers   int
}

type eventKind int

const (
	evConnect eventKind = iota
	evRenegotiate
	evTrigger
	evPause
	evResume
)

type event struct {
	kind     eventKind
	params   capture.ConnectParams
	proposal capture.Proposal
}

// Graph implements capture.Transport and capture.Reconnector. All session
// callbacks except buffer release run on the graph's loop goroutine; a frame
// is released from whichever goroutine drops the last hold on it.
type Graph struct {
	opts Options
	loop *singletonLoop
	flow flow

	// Pending events. Posting never blocks, so session callbacks may post.
	mu      sync.Mutex
	events  []event
	wake    chan struct{}
	running bool

	// Closed when the loop stopped by the last Disconnect has exited.
	done <-chan struct{}

	// Owned by the loop goroutine.
	handler capture.Handler
	params  capture.ConnectParams
	ready   <-chan struct{}
	buffers []capture.BufferInfo
	state   capture.TransportState

	delivered uint64
	released  uint64
}

func New(opts Options) *Graph {
	g := &Graph{
		opts: opts,
		wake: make(chan struct{}, 1),
	}
	g.loop = newSingletonLoop(g.run)
	return g
}

func (g *Graph) post(e event) error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return errNotConnected
	}
	// Coalesce repeated triggers.
	if n := len(g.events); e.kind != evTrigger || n == 0 || g.events[n-1].kind != evTrigger {
		g.events = append(g.events, e)
	}
	g.mu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}
	return nil
}

func (g *Graph) take() []event {
	g.mu.Lock()
	defer g.mu.Unlock()
	events := g.events
	g.events = nil
	return events
}

// Connect starts the graph loop, which proposes a format to p.Handler.
func (g *Graph) Connect(p capture.ConnectParams) error {
	if p.Handler == nil {
		return xerrors.New("loopback: connect without handler")
	}
	g.mu.Lock()
	g.running = true
	g.mu.Unlock()
	g.loop.start()
	return g.post(event{kind: evConnect, params: p})
}

// Reconnect restarts negotiation on a running graph.
func (g *Graph) Reconnect(p capture.ConnectParams) error {
	if err := g.post(event{kind: evConnect, params: p}); err != nil {
		return xerrors.Errorf("reconnect: %w", err)
	}
	return nil
}

// Trigger schedules a process cycle.
func (g *Graph) Trigger() error {
	return g.post(event{kind: evTrigger})
}

// Renegotiate proposes a new format to the connected session.
func (g *Graph) Renegotiate(p capture.Proposal) error {
	return g.post(event{kind: evRenegotiate, proposal: p})
}

// Pause stops delivery; queued frames are flushed by the session.
func (g *Graph) Pause() error {
	return g.post(event{kind: evPause})
}

func (g *Graph) Resume() error {
	return g.post(event{kind: evResume})
}

// Disconnect stops the loop without waiting for it. Frames still held by
// subscribers are released when the subscriber lets go of them.
func (g *Graph) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.running = false
	g.events = nil
	if done := g.loop.stop(); done != nil {
		g.done = done
	}
	return nil
}

// Close disconnects and waits for the loop to exit. It must not be called
// from a session callback.
func (g *Graph) Close() error {
	g.Disconnect()
	g.mu.Lock()
	done := g.done
	g.mu.Unlock()
	if done != nil {
		<-done
	}
	return nil
}

// Subscribe returns a channel of delivered frames. Every frame received must
// be released.
func (g *Graph) Subscribe(capacity int) <-chan *SharedFrame {
	return g.flow.subscribe(capacity)
}

// Unsubscribe closes the channel and releases the frames it still holds.
func (g *Graph) Unsubscribe(s <-chan *SharedFrame) error {
	return g.flow.unsubscribe(s)
}

// Delivered and Released count frames exported by the session and slots
// given back to it.
func (g *Graph) Delivered() uint64 { return atomic.LoadUint64(&g.delivered) }
func (g *Graph) Released() uint64  { return atomic.LoadUint64(&g.released) }
func (g *Graph) Missed() uint64    { return atomic.LoadUint64(&g.flow.missed) }

func (g *Graph) run(quit <-chan struct{}) {
	defer g.teardown()
	for {
		select {
		case <-quit:
			return
		case <-g.ready:
			g.process()
		case <-g.wake:
			for _, e := range g.take() {
				select {
				case <-quit:
					return
				default:
				}
				g.handle(e)
			}
		}
	}
}

func (g *Graph) handle(e event) {
	switch e.kind {
	case evConnect:
		g.handler = e.params.Handler
		g.params = e.params
		g.ready = e.params.Ready
		g.setState(capture.TransportConnecting)
		g.negotiate(g.proposal())
	case evRenegotiate:
		if g.handler != nil {
			g.negotiate(e.proposal)
		}
	case evTrigger:
		g.process()
	case evPause:
		g.setState(capture.TransportPaused)
	case evResume:
		g.setState(capture.TransportStreaming)
		g.process()
	}
}

// The initial proposal: configured values first, then the session's size
// and its first offer.
func (g *Graph) proposal() capture.Proposal {
	p := capture.Proposal{
		Format:    g.opts.Format,
		Modifiers: g.opts.Modifiers,
		Buffers:   g.opts.Buffers,
	}
	if p.Format.Width == 0 || p.Format.Height == 0 {
		p.Format.Width, p.Format.Height = g.params.Width, g.params.Height
	}
	if len(g.params.Offers) > 0 {
		offer := g.params.Offers[0]
		if p.Format.PixelFormat == capture.FormatUnknown && len(offer.Formats) > 0 {
			p.Format.PixelFormat = offer.Formats[0]
		}
		if p.Modifiers == nil {
			p.Modifiers = offer.Modifiers
		}
	}
	if p.Buffers > g.params.MaxBuffers && g.params.MaxBuffers > 0 {
		p.Buffers = g.params.MaxBuffers
	}
	return p
}

func (g *Graph) negotiate(p capture.Proposal) {
	if g.handler == nil {
		return
	}
	if err := g.handler.OnFormatProposal(p); err != nil {
		log.Warn("proposal %v rejected: %v", p.Format, err)
		return
	}

	for _, b := range g.buffers {
		g.handler.OnRemoveBuffer(b.Ref)
	}
	g.buffers = g.buffers[:0]
	for i := 0; ; i++ {
		info, err := g.handler.OnAddBuffer(i)
		if err != nil {
			break
		}
		g.buffers = append(g.buffers, info)
	}
	log.Debug("negotiated %v with %d buffers", p.Format, len(g.buffers))

	if g.state != capture.TransportPaused {
		g.setState(capture.TransportStreaming)
	}
	g.process()
}

func (g *Graph) setState(s capture.TransportState) {
	if g.state == s {
		return
	}
	g.state = s
	if g.handler != nil {
		g.handler.OnTransportState(s, nil)
	}
}

func (g *Graph) process() {
	if g.handler == nil || g.state != capture.TransportStreaming {
		return
	}
	for g.handler.OnProcess(g.deliver) {
	}
}

func (g *Graph) deliver(f capture.Frame) error {
	atomic.AddUint64(&g.delivered, 1)

	h, ref := g.handler, f.Ref
	sf := NewSharedFrame(f, func() {
		if err := h.OnBufferReleased(ref); err != nil {
			log.Warn("release %v: %v", ref, err)
		}
		atomic.AddUint64(&g.released, 1)
	})
	g.flow.write(sf)
	// Drop the graph's own hold. Without subscribers this gives the slot
	// straight back.
	sf.Release()
	return nil
}

func (g *Graph) teardown() {
	if g.handler != nil {
		for _, b := range g.buffers {
			g.handler.OnRemoveBuffer(b.Ref)
		}
		g.setState(capture.TransportUnconnected)
	}
	g.buffers = nil
	g.ready = nil
	g.flow.close()
	g.state = capture.TransportUnconnected
}
