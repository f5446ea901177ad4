package backing

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/lanikai/pwcapture/internal/capture"
)

// DMABuf is a GPU buffer exported by the producer as one descriptor per plane
// (planes may share a descriptor). The backing owns the descriptors and the
// optional release fence.
type DMABuf struct {
	planes []capture.Plane
	fence  *SyncFile
}

// NewDMABuf takes ownership of the plane descriptors and of fence, which may
// be nil.
func NewDMABuf(planes []capture.Plane, fence *SyncFile) *DMABuf {
	return &DMABuf{planes: planes, fence: fence}
}

func (d *DMABuf) Planes() []capture.Plane { return d.planes }
func (d *DMABuf) DMABuf() bool            { return true }

// Fence returns the release fence, or nil if the exporter gave none.
func (d *DMABuf) Fence() capture.Fence {
	if d.fence == nil {
		return nil
	}
	return d.fence
}

func (d *DMABuf) Close() error {
	var first error
	seen := make(map[int]bool)
	for _, p := range d.planes {
		if p.FD < 0 || seen[p.FD] {
			continue
		}
		seen[p.FD] = true
		if err := unix.Close(p.FD); err != nil && first == nil {
			first = errors.Wrapf(err, "close plane fd %d", p.FD)
		}
	}
	d.planes = nil
	if d.fence != nil {
		if err := d.fence.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Exporter is implemented by producer layers that can export GPU images.
type Exporter interface {
	// Modifiers lists the modifiers the exporter can allocate for format, in
	// order of preference.
	Modifiers(f capture.PixelFormat) []uint64
	Export(l capture.Layout) (*DMABuf, error)
}

// Allocator fixates DMA-buf layouts when the exporter supports one of the
// proposed modifiers, and falls back to shared memory otherwise.
type Allocator struct {
	Exporter Exporter
	Memfd    MemfdAllocator
}

func (a *Allocator) Fixate(p capture.Proposal) (capture.Layout, error) {
	if a.Exporter != nil && len(p.Modifiers) > 0 {
		supported := a.Exporter.Modifiers(p.Format.PixelFormat)
		mod, ok := firstModifier(p.Modifiers, func(m uint64) bool {
			for _, s := range supported {
				if s == m {
					return true
				}
			}
			return false
		})
		if ok {
			f := p.Format
			f.Modifier = mod
			return capture.Layout{Format: f, Planes: 1, DMABuf: true}, nil
		}
		log.Debug("no exportable modifier for %v, falling back to shared memory", p.Format.PixelFormat)
		p.Modifiers = nil
	}
	return a.Memfd.Fixate(p)
}

func (a *Allocator) Allocate(l capture.Layout) (capture.Backing, error) {
	if !l.DMABuf {
		return a.Memfd.Allocate(l)
	}
	if a.Exporter == nil {
		return nil, errNoExporter
	}
	d, err := a.Exporter.Export(l)
	if err != nil {
		return nil, errors.Wrap(err, "export dmabuf")
	}
	return d, nil
}
