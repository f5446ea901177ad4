package producer

import (
	"github.com/lanikai/pwcapture/internal/capture"
	"github.com/lanikai/pwcapture/internal/cursor"
)

// Pattern draws vertical color bars that scroll one column per frame.
type Pattern struct {
	// Optional cursor to attach to each frame.
	Cursor *cursor.Tracker

	frame int
}

var bars = [...][3]byte{
	{0xff, 0xff, 0xff},
	{0xff, 0xff, 0x00},
	{0x00, 0xff, 0xff},
	{0x00, 0xff, 0x00},
	{0xff, 0x00, 0xff},
	{0xff, 0x00, 0x00},
	{0x00, 0x00, 0xff},
	{0x00, 0x00, 0x00},
}

func (p *Pattern) Fill(h *capture.SlotHandle) error {
	buf, stride, err := target(h)
	if err != nil {
		return err
	}
	f := h.Format()
	w := int(f.Width)
	barWidth := w / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}

	for y := 0; y < int(f.Height); y++ {
		row := y * stride
		for x := 0; x < w; x++ {
			c := bars[((x+p.frame)/barWidth)%len(bars)]
			putPixel(buf, row+4*x, f.PixelFormat, c[0], c[1], c[2])
		}
	}
	p.frame++
	return attachCursor(p.Cursor, h)
}
