//////////////////////////////////////////////////////////////////////////////
//
// Stream session: glue between producer, slot pool and transport
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package capture

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Session is one capture stream. The producer calls SubmitFrame from its own
// thread; the transport calls the Handler methods from its thread. Neither
// side ever waits on the other, except for the bounded drain during a format
// change.
type Session struct {
	cfg       Config
	id        NodeIdentity
	transport Transport
	alloc     Allocator

	pool *Pool
	neg  *Negotiator
	ch   *Channel

	closed      int32
	errReported int32
	seq         uint64

	counters
}

// NewSession creates a disconnected session. Nothing is allocated and the
// transport is not contacted until the first SubmitFrame.
func NewSession(cfg Config, id NodeIdentity, t Transport, alloc Allocator) *Session {
	def := DefaultConfig()
	if cfg.MaxBuffers <= 0 || cfg.MaxBuffers > MaxBuffers {
		cfg.MaxBuffers = def.MaxBuffers
	}
	if cfg.DefaultBuffers <= 0 {
		cfg.DefaultBuffers = def.DefaultBuffers
	}
	if cfg.FenceTimeout <= 0 {
		cfg.FenceTimeout = def.FenceTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}

	return &Session{
		cfg:       cfg,
		id:        id,
		transport: t,
		alloc:     alloc,
		pool:      NewPool(cfg.FenceTimeout),
		neg:       NewNegotiator(),
		ch:        NewChannel(cfg.DefaultBuffers),
	}
}

// SubmitFrame offers one frame to the stream. It never blocks on the
// transport: without a free slot the frame is dropped with ErrBackpressured,
// and outside Streaming it is dropped with ErrNotStreaming. A producer error
// is returned as *FillError and leaves the session streaming.
func (s *Session) SubmitFrame(p Producer) error {
	if s.isClosed() {
		return ErrSessionClosed
	}

	switch st := s.neg.State(); st {
	case Streaming:
	case Disconnected:
		s.connect()
		inc(&s.notStreaming)
		return ErrNotStreaming
	default:
		inc(&s.notStreaming)
		return ErrNotStreaming
	}

	ref, err := s.pool.AcquireFree()
	switch {
	case err == nil:
	case errors.Is(err, ErrBackpressured):
		inc(&s.backpressured)
		log.Trace("no free slot, dropping frame")
		return ErrBackpressured
	case errors.Is(err, ErrPoolUnavailable):
		inc(&s.notStreaming)
		return ErrNotStreaming
	default:
		return err
	}

	format, backing, err := s.pool.reserved(ref)
	if err != nil {
		if aerr := s.pool.Abandon(ref); aerr != nil {
			log.Debug("abandon %v: %v", ref, aerr)
		}
		return s.lostSlot(ref, err)
	}

	h := &SlotHandle{ref: ref, format: format, backing: backing}
	err = p.Fill(h)
	h.expire()
	if err != nil {
		inc(&s.fillErrors)
		if aerr := s.pool.Abandon(ref); aerr != nil {
			log.Debug("abandon %v: %v", ref, aerr)
		}
		return &FillError{Slot: ref.ID, Err: err}
	}

	info := FillInfo{
		Cursor: h.cursor,
		Seq:    atomic.AddUint64(&s.seq, 1),
		PTS:    monotonicNow(),
	}
	if err := s.pool.MarkFilled(ref, info); err != nil {
		return s.lostSlot(ref, err)
	}
	s.ch.NotifyFilled(ref)
	inc(&s.submitted)

	if err := s.transport.Trigger(); err != nil {
		log.Debug("trigger: %v", err)
	}
	return nil
}

// A reserved slot was invalidated by a rebuild or teardown while the producer
// held it.
func (s *Session) lostSlot(ref SlotRef, err error) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	inc(&s.stale)
	log.Debug("%v invalidated during fill: %v", ref, err)
	return ErrNotStreaming
}

func (s *Session) connect() {
	if !s.neg.CompareAndTransition(Disconnected, Connecting) {
		return
	}
	log.Info("connecting %v", s.id)
	if err := s.transport.Connect(s.params()); err != nil {
		s.enterError(errors.Wrap(err, "connect"))
	}
}

func (s *Session) params() ConnectParams {
	return ConnectParams{
		Identity:   s.id,
		Width:      s.cfg.Width,
		Height:     s.cfg.Height,
		Offers:     s.cfg.Offers,
		MaxBuffers: s.cfg.MaxBuffers,
		Handler:    s,
		Ready:      s.ch.Ready(),
	}
}

// OnFormatProposal renegotiates the stream: the pool is suspended, queued
// notifications are dropped, the transport gets DrainTimeout to hand back its
// slots, and the pool is rebuilt for the fixated layout.
func (s *Session) OnFormatProposal(p Proposal) error {
	if s.isClosed() {
		return ErrSessionClosed
	}

	wasPaused := s.neg.State() == Paused
	_, renegotiation := s.neg.ActiveFormat()

	// Suspend first, so no producer acquires a slot once Negotiating is
	// visible.
	active := s.pool.Suspend()
	if err := s.neg.Propose(p.Format); err != nil {
		if active {
			s.pool.Resume()
		}
		return errors.Wrap(err, "format proposal")
	}

	dropped := s.ch.Reset()
	discarded := s.pool.DiscardFilled()
	if dropped > 0 || discarded > 0 {
		log.Debug("renegotiating: dropped %d notifications, discarded %d filled slots", dropped, discarded)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
	err := s.pool.Drain(ctx)
	cancel()
	if errors.Is(err, ErrSessionClosed) {
		return err
	}

	layout, err := s.alloc.Fixate(p)
	if err != nil {
		return s.negotiationFailed(errors.Wrap(err, "fixate"))
	}

	n := s.cfg.Buffers(p.Buffers)
	if err := s.pool.Rebuild(n, layout, s.alloc); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return err
		}
		return s.negotiationFailed(errors.Wrap(err, "rebuild"))
	}
	s.ch.Resize(n)

	if err := s.pool.Resume(); err != nil {
		return err
	}
	if err := s.neg.Accept(layout.Format); err != nil {
		return err
	}
	atomic.StoreInt32(&s.errReported, 0)
	if renegotiation {
		inc(&s.renegotiations)
	}
	log.Info("streaming %v with %d buffers (epoch %d)", layout.Format, n, s.pool.Epoch())

	if wasPaused {
		s.neg.CompareAndTransition(Streaming, Paused)
	}
	return nil
}

func (s *Session) negotiationFailed(cause error) error {
	err := errors.Wrapf(ErrNegotiationFailed, "%v", cause)
	s.enterError(err)
	s.reconnect()
	return err
}

// Enter Error, releasing every slot. Only the first error of an episode is
// logged at error level.
func (s *Session) enterError(err error) {
	if s.neg.Fail() != nil {
		log.Debug("error while %v: %v", s.neg.State(), err)
		return
	}
	s.ch.Reset()
	s.pool.Reset()

	if atomic.CompareAndSwapInt32(&s.errReported, 0, 1) {
		log.Error("%v: %v", s.id, err)
	} else {
		log.Debug("%v: %v", s.id, err)
	}
}

func (s *Session) reconnect() {
	r, ok := s.transport.(Reconnector)
	if !ok || s.isClosed() {
		return
	}
	if n := atomic.LoadUint64(&s.reconnects); int(n) >= s.cfg.MaxReconnects {
		if s.cfg.MaxReconnects > 0 {
			log.Warn("giving up after %d reconnects", n)
		}
		return
	}
	if !s.neg.CompareAndTransition(Error, Disconnected) ||
		!s.neg.CompareAndTransition(Disconnected, Connecting) {
		return
	}
	inc(&s.reconnects)
	log.Info("reconnecting %v", s.id)
	if err := r.Reconnect(s.params()); err != nil {
		s.enterError(errors.Wrap(err, "reconnect"))
	}
}

// OnAddBuffer describes slot index to the transport.
func (s *Session) OnAddBuffer(index int) (BufferInfo, error) {
	if s.isClosed() {
		return BufferInfo{}, ErrSessionClosed
	}
	return s.pool.BufferInfo(index)
}

// OnRemoveBuffer is called when the transport drops a buffer from its set. A
// slot it still held is released.
func (s *Session) OnRemoveBuffer(ref SlotRef) {
	st, err := s.pool.StateOf(ref)
	if err != nil || st != SlotInFlight {
		return
	}
	if err := s.pool.Release(ref); err != nil {
		log.Debug("remove %v: %v", ref, err)
	}
}

// OnProcess delivers the oldest filled slot through export. It reports
// whether a frame was delivered.
func (s *Session) OnProcess(export ExportFunc) bool {
	if s.isClosed() || s.neg.State() != Streaming {
		return false
	}
	ok, err := s.ch.Pull(s.pool, export)
	if err != nil {
		log.Warn("process: %v", err)
		return false
	}
	if ok {
		inc(&s.delivered)
	}
	return ok
}

// OnBufferReleased gives a delivered slot back. References that a rebuild or
// teardown made stale are ignored.
func (s *Session) OnBufferReleased(ref SlotRef) error {
	err := s.pool.Release(ref)
	switch {
	case err == nil:
		inc(&s.released)
		return nil
	case benign(err):
		inc(&s.stale)
		log.Debug("release %v: %v", ref, err)
		return nil
	}
	return err
}

// OnTransportState follows the transport's connection state.
func (s *Session) OnTransportState(state TransportState, err error) {
	if s.isClosed() {
		return
	}
	log.Debug("transport %v", state)

	switch state {
	case TransportPaused:
		if s.neg.CompareAndTransition(Streaming, Paused) {
			n := s.ch.Reset()
			m := s.pool.DiscardFilled()
			log.Debug("paused: flushed %d notifications, %d filled slots", n, m)
		}
	case TransportStreaming:
		s.neg.CompareAndTransition(Paused, Streaming)
	case TransportError:
		if err == nil {
			err = errors.New("transport error")
		}
		s.enterError(err)
	case TransportUnconnected:
		// Error stays sticky; anything else waits for the next frame to
		// reconnect.
		if st := s.neg.State(); st != Error && st != Disconnected {
			if s.neg.Transition(Disconnected) == nil {
				s.ch.Reset()
				s.pool.Reset()
			}
		}
	}
}

// Shutdown tears the session down from any state. Slots are released without
// waiting on fences. Further calls do nothing.
func (s *Session) Shutdown() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	s.neg.Close()
	s.ch.Reset()
	s.pool.Destroy()
	log.Info("%v closed", s.id)
	return errors.Wrap(s.transport.Disconnect(), "disconnect")
}

func (s *Session) isClosed() bool {
	return atomic.LoadInt32(&s.closed) != 0
}

// Stats returns the session counters and slot counts.
func (s *Session) Stats() Stats {
	st := s.counters.snapshot()
	st.State = s.neg.State()
	st.Format, _ = s.neg.ActiveFormat()
	st.Pool = s.pool.Snapshot()
	st.Layout = s.pool.Layout()
	st.ForcedReclaims = st.Pool.ForcedReclaims
	return st
}

func (s *Session) State() State                 { return s.neg.State() }
func (s *Session) ActiveFormat() (Format, bool) { return s.neg.ActiveFormat() }
func (s *Session) Epoch() uint64                { return s.pool.Epoch() }
func (s *Session) Identity() NodeIdentity       { return s.id }
func (s *Session) Observe(fn Observer)          { s.neg.Observe(fn) }

// Queued returns the number of filled slots waiting for the transport.
func (s *Session) Queued() int { return s.ch.Len() }
