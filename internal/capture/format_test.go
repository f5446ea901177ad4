package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePixelFormat(t *testing.T) {
	for _, f := range []PixelFormat{FormatBGRx, FormatXRGB, FormatRGB, FormatNV12} {
		got, err := ParsePixelFormat(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}

	got, err := ParsePixelFormat("bgrx")
	require.NoError(t, err)
	assert.Equal(t, FormatBGRx, got)

	_, err = ParsePixelFormat("YUYV")
	assert.EqualError(t, err, `unknown pixel format "YUYV"`)
	assert.Equal(t, "PixelFormat(99)", PixelFormat(99).String())
}

func TestBytesPerPixel(t *testing.T) {
	assert.Equal(t, 4, FormatBGRx.BytesPerPixel())
	assert.Equal(t, 3, FormatBGR.BytesPerPixel())
	assert.Equal(t, 0, FormatNV12.BytesPerPixel())
}
