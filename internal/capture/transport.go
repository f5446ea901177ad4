package capture

import "fmt"

// TransportState is the connection state reported by the media graph.
type TransportState int

const (
	TransportUnconnected TransportState = iota
	TransportConnecting
	TransportPaused
	TransportStreaming
	TransportError
)

func (s TransportState) String() string {
	switch s {
	case TransportUnconnected:
		return "unconnected"
	case TransportConnecting:
		return "connecting"
	case TransportPaused:
		return "paused"
	case TransportStreaming:
		return "streaming"
	case TransportError:
		return "error"
	}
	return fmt.Sprintf("TransportState(%d)", int(s))
}

// Frame is what the transport receives for one delivered slot. Planes refer
// to the slot's backing, which stays valid until the slot is released.
type Frame struct {
	Ref    SlotRef
	Format Format
	Planes []Plane
	DMABuf bool

	// Per-session sequence number and CLOCK_MONOTONIC timestamp in
	// nanoseconds, recorded when the slot was filled.
	Seq uint64
	PTS int64

	Cursor *CursorRecord

	// CPU view of the pixels for mapped backings, nil otherwise.
	Data []byte
}

// BufferInfo describes one slot when the transport adds it to its buffer set.
type BufferInfo struct {
	Ref    SlotRef
	Planes []Plane
	DMABuf bool
}

// ExportFunc queues a frame on the transport. Returning an error gives the
// slot back immediately.
type ExportFunc func(Frame) error

// ConnectParams is everything a transport needs to announce the stream.
type ConnectParams struct {
	Identity   NodeIdentity
	Width      uint32
	Height     uint32
	Offers     []FormatOffer
	MaxBuffers int
	Handler    Handler

	// Signalled when filled slots are queued. Transports with their own
	// event loop may select on it instead of waiting for Trigger.
	Ready <-chan struct{}
}

// Transport is the media graph side of a session. Connect is asynchronous:
// the transport later calls back into the Handler from its own thread.
type Transport interface {
	Connect(p ConnectParams) error
	// Trigger asks the transport to run a process cycle soon.
	Trigger() error
	Disconnect() error
}

// Reconnector is implemented by transports that can re-establish a stream
// after a failed negotiation.
type Reconnector interface {
	Reconnect(p ConnectParams) error
}

// Handler is the set of callbacks a transport makes into a session. They are
// all called from the transport's thread.
type Handler interface {
	OnFormatProposal(p Proposal) error
	OnAddBuffer(index int) (BufferInfo, error)
	OnRemoveBuffer(ref SlotRef)
	OnProcess(export ExportFunc) bool
	OnBufferReleased(ref SlotRef) error
	OnTransportState(state TransportState, err error)
}
