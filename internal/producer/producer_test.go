//go:build linux
// +build linux

package producer

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/pwcapture/internal/backing"
	"github.com/lanikai/pwcapture/internal/capture"
	"github.com/lanikai/pwcapture/internal/cursor"
)

type nopTransport struct{}

func (nopTransport) Connect(capture.ConnectParams) error { return nil }
func (nopTransport) Trigger() error                      { return nil }
func (nopTransport) Disconnect() error                   { return nil }

var bgrx = capture.Format{Width: 16, Height: 2, PixelFormat: capture.FormatBGRx}

// Stream one frame from p through a memfd-backed session.
func capture1(t *testing.T, p capture.Producer) capture.Frame {
	s := capture.NewSession(capture.DefaultConfig(), capture.NodeIdentity{}, nopTransport{}, &backing.MemfdAllocator{})
	defer s.Shutdown()

	require.Equal(t, capture.ErrNotStreaming, s.SubmitFrame(p))
	require.NoError(t, s.OnFormatProposal(capture.Proposal{Format: bgrx, Buffers: 2}))
	require.NoError(t, s.SubmitFrame(p))

	var got capture.Frame
	require.True(t, s.OnProcess(func(f capture.Frame) error {
		got = f
		got.Data = append([]byte(nil), f.Data...)
		return nil
	}))
	return got
}

func TestPattern(t *testing.T) {
	f := capture1(t, &Pattern{})
	require.Len(t, f.Data, 64*2)

	// First bar is white, last is black, in BGRx order.
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, f.Data[0:4])
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0xff}, f.Data[60:64])
	assert.Equal(t, f.Data[0:64], f.Data[64:128])
}

func TestImageCopy(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff})
	img.Set(1, 0, color.RGBA{R: 0x40, G: 0x50, B: 0x60, A: 0xff})

	var c ImageCopy
	c.Update(img)
	f := capture1(t, &c)

	assert.Equal(t, []byte{0x30, 0x20, 0x10, 0xff}, f.Data[0:4])
	assert.Equal(t, []byte{0x60, 0x50, 0x40, 0xff}, f.Data[4:8])
	// Outside the image is padded black.
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0xff}, f.Data[8:12])
}

type fixedCursor struct{}

func (fixedCursor) Snapshot(prev uint64) (cursor.Snapshot, error) {
	return cursor.Snapshot{Serial: 7, Entered: true, Position: capture.Point{X: 3, Y: 1}}, nil
}

func TestPatternWithCursor(t *testing.T) {
	f := capture1(t, &Pattern{Cursor: cursor.NewTracker(fixedCursor{}, 1)})
	require.NotNil(t, f.Cursor)
	assert.Equal(t, uint32(1), f.Cursor.ID)
	assert.Equal(t, capture.Point{X: 3, Y: 1}, f.Cursor.Position)
}

func TestNotMapped(t *testing.T) {
	s := capture.NewSession(capture.DefaultConfig(), capture.NodeIdentity{}, nopTransport{}, &backing.Allocator{Exporter: fakeExporter{}})
	defer s.Shutdown()

	s.SubmitFrame(&Pattern{})
	require.NoError(t, s.OnFormatProposal(capture.Proposal{Format: bgrx, Modifiers: []uint64{0x5}}))

	err := s.SubmitFrame(&Pattern{})
	var fe *capture.FillError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, errNotMapped, fe.Err)
}

type fakeExporter struct{}

func (fakeExporter) Modifiers(capture.PixelFormat) []uint64 { return []uint64{0x5} }
func (fakeExporter) Export(capture.Layout) (*backing.DMABuf, error) {
	return backing.NewDMABuf([]capture.Plane{{FD: -1}}, nil), nil
}
