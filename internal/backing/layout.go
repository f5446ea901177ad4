package backing

import "github.com/lanikai/pwcapture/internal/capture"

// Row alignment of shared-memory frames.
const strideAlign = 16

// Stride returns the row pitch of a packed frame, aligned for the consumer.
func Stride(f capture.Format) uint32 {
	row := f.Width * uint32(f.PixelFormat.BytesPerPixel())
	return (row + strideAlign - 1) &^ (strideAlign - 1)
}

func firstModifier(mods []uint64, ok func(uint64) bool) (uint64, bool) {
	for _, m := range mods {
		if ok(m) {
			return m, true
		}
	}
	return 0, false
}
