// Package producer provides frame producers for capture sessions. Each is a
// capture.Producer; a session does not care which one it is given.
package producer

import (
	"github.com/pkg/errors"

	"github.com/lanikai/pwcapture/internal/capture"
	"github.com/lanikai/pwcapture/internal/cursor"
)

var errNotMapped = errors.New("producer: slot backing is not CPU-mapped")

// Write pixel (r, g, b) at byte offset off, in the channel order of f.
func putPixel(dst []byte, off int, f capture.PixelFormat, r, g, b byte) {
	p := dst[off : off+4]
	switch f {
	case capture.FormatBGRx, capture.FormatBGRA:
		p[0], p[1], p[2], p[3] = b, g, r, 0xff
	case capture.FormatRGBx, capture.FormatRGBA:
		p[0], p[1], p[2], p[3] = r, g, b, 0xff
	case capture.FormatXRGB, capture.FormatARGB:
		p[0], p[1], p[2], p[3] = 0xff, r, g, b
	case capture.FormatXBGR, capture.FormatABGR:
		p[0], p[1], p[2], p[3] = 0xff, b, g, r
	}
}

// Geometry of a mapped single-plane slot.
func target(h *capture.SlotHandle) ([]byte, int, error) {
	buf := h.Bytes()
	if buf == nil {
		return nil, 0, errNotMapped
	}
	f := h.Format()
	if f.PixelFormat.BytesPerPixel() != 4 {
		return nil, 0, errors.Errorf("producer: cannot draw %v", f.PixelFormat)
	}
	stride := int(f.Width) * 4
	if planes := h.Planes(); len(planes) > 0 && planes[0].Stride != 0 {
		stride = int(planes[0].Stride)
	}
	if len(buf) < stride*int(f.Height) {
		return nil, 0, errors.Errorf("producer: %d bytes too small for %v", len(buf), f)
	}
	return buf, stride, nil
}

func attachCursor(t *cursor.Tracker, h *capture.SlotHandle) error {
	if t == nil {
		return nil
	}
	return t.Attach(h)
}
