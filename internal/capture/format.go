package capture

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// PixelFormat values follow the numbering of the media graph's raw video
// formats, so they can be put on the wire unchanged.
type PixelFormat uint32

const (
	FormatUnknown PixelFormat = 0
	FormatRGBx    PixelFormat = 7
	FormatBGRx    PixelFormat = 8
	FormatXRGB    PixelFormat = 9
	FormatXBGR    PixelFormat = 10
	FormatRGBA    PixelFormat = 11
	FormatBGRA    PixelFormat = 12
	FormatARGB    PixelFormat = 13
	FormatABGR    PixelFormat = 14
	FormatRGB     PixelFormat = 15
	FormatBGR     PixelFormat = 16
	FormatNV12    PixelFormat = 23
)

var formatNames = map[PixelFormat]string{
	FormatUnknown: "UNKNOWN",
	FormatRGBx:    "RGBx",
	FormatBGRx:    "BGRx",
	FormatXRGB:    "xRGB",
	FormatXBGR:    "xBGR",
	FormatRGBA:    "RGBA",
	FormatBGRA:    "BGRA",
	FormatARGB:    "ARGB",
	FormatABGR:    "ABGR",
	FormatRGB:     "RGB",
	FormatBGR:     "BGR",
	FormatNV12:    "NV12",
}

func (f PixelFormat) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("PixelFormat(%d)", uint32(f))
}

// ParsePixelFormat is the inverse of String. Matching is case-insensitive.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for f, name := range formatNames {
		if strings.EqualFold(name, s) {
			return f, nil
		}
	}
	return FormatUnknown, errors.Errorf("unknown pixel format %q", s)
}

// BytesPerPixel of packed formats. Planar formats return 0.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGBx, FormatBGRx, FormatXRGB, FormatXBGR,
		FormatRGBA, FormatBGRA, FormatARGB, FormatABGR:
		return 4
	case FormatRGB, FormatBGR:
		return 3
	}
	return 0
}

// Buffer modifiers describe the tiling/compression of GPU buffers.
const (
	ModifierLinear uint64 = 0
	// ModifierNone marks buffers that carry no explicit modifier (shared
	// memory, or implicit driver layout).
	ModifierNone uint64 = 0x00ffffffffffffff
)

// Format is one negotiated stream format.
type Format struct {
	Width       uint32
	Height      uint32
	PixelFormat PixelFormat
	Modifier    uint64
}

func (f Format) String() string {
	if f.Modifier == ModifierNone {
		return fmt.Sprintf("%dx%d %v", f.Width, f.Height, f.PixelFormat)
	}
	return fmt.Sprintf("%dx%d %v mod=%#x", f.Width, f.Height, f.PixelFormat, f.Modifier)
}

// FormatOffer is one entry of the formats this engine can produce. An offer
// with modifiers describes GPU buffers; an offer without describes shared
// memory.
type FormatOffer struct {
	Formats   []PixelFormat
	Modifiers []uint64
}

// Proposal is a format the graph proposes. Modifiers lists the acceptable
// modifiers, empty for shared memory. Buffers is the requested pool capacity,
// zero for "engine default".
type Proposal struct {
	Format    Format
	Modifiers []uint64
	Buffers   int
}

// Layout is a fixated allocation layout, produced by Allocator.Fixate.
type Layout struct {
	Format Format
	Planes int
	DMABuf bool
}

// Plane describes one plane of an exportable buffer.
type Plane struct {
	FD     int
	Offset uint32
	Size   uint32
	Stride uint32
}
