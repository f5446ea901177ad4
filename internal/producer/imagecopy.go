package producer

import (
	"image"
	"image/draw"
	"sync"

	"github.com/lanikai/pwcapture/internal/capture"
	"github.com/lanikai/pwcapture/internal/cursor"
)

// ImageCopy copies the most recent image handed to Update into each slot,
// scaled by cropping or padding to the slot size. Update may be called from
// any goroutine.
type ImageCopy struct {
	Cursor *cursor.Tracker

	mu  sync.Mutex
	img *image.RGBA
}

// Update replaces the source image.
func (c *ImageCopy) Update(src image.Image) {
	b := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)

	c.mu.Lock()
	c.img = rgba
	c.mu.Unlock()
}

func (c *ImageCopy) Fill(h *capture.SlotHandle) error {
	buf, stride, err := target(h)
	if err != nil {
		return err
	}

	c.mu.Lock()
	img := c.img
	c.mu.Unlock()

	f := h.Format()
	w, ht := int(f.Width), int(f.Height)
	for y := 0; y < ht; y++ {
		row := y * stride
		for x := 0; x < w; x++ {
			var r, g, b byte
			if img != nil && x < img.Rect.Dx() && y < img.Rect.Dy() {
				i := img.PixOffset(x, y)
				r, g, b = img.Pix[i], img.Pix[i+1], img.Pix[i+2]
			}
			putPixel(buf, row+4*x, f.PixelFormat, r, g, b)
		}
	}
	return attachCursor(c.Cursor, h)
}
