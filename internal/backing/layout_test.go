package backing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lanikai/pwcapture/internal/capture"
)

var bgrx = capture.Format{Width: 5, Height: 3, PixelFormat: capture.FormatBGRx}

func TestStride(t *testing.T) {
	assert.Equal(t, uint32(32), Stride(bgrx))
	assert.Equal(t, uint32(16), Stride(capture.Format{Width: 4, PixelFormat: capture.FormatRGBA}))
	assert.Equal(t, uint32(0), Stride(capture.Format{Width: 4, PixelFormat: capture.FormatNV12}))
}
