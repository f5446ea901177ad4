//go:build linux
// +build linux

package backing

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/lanikai/pwcapture/internal/capture"
)

// MemfdAllocator allocates shared-memory backings: one sealed memfd per slot,
// mapped read-write into this process. It is the fallback when the producer
// cannot export DMA-bufs.
type MemfdAllocator struct {
	// Name given to each memfd, visible in /proc/<pid>/fd.
	Name string
}

// Fixate accepts packed formats whose offer allows a linear layout.
func (a *MemfdAllocator) Fixate(p capture.Proposal) (capture.Layout, error) {
	f := p.Format
	if f.PixelFormat.BytesPerPixel() == 0 {
		return capture.Layout{}, errors.Wrapf(errUnsupportedFormat, "%v", f.PixelFormat)
	}
	if f.Width == 0 || f.Height == 0 {
		return capture.Layout{}, errors.Errorf("backing: empty frame size %dx%d", f.Width, f.Height)
	}

	mod, ok := firstModifier(p.Modifiers, func(m uint64) bool {
		return m == capture.ModifierNone || m == capture.ModifierLinear
	})
	switch {
	case len(p.Modifiers) == 0:
		f.Modifier = capture.ModifierNone
	case ok:
		f.Modifier = mod
	default:
		return capture.Layout{}, errUnsupportedModifier
	}
	return capture.Layout{Format: f, Planes: 1}, nil
}

// Allocate creates a memfd sized for one frame of l.
func (a *MemfdAllocator) Allocate(l capture.Layout) (capture.Backing, error) {
	stride := Stride(l.Format)
	size := int(stride * l.Format.Height)
	if size == 0 {
		return nil, errors.Wrapf(errUnsupportedFormat, "%v", l.Format)
	}

	name := a.Name
	if name == "" {
		name = "pw-capture"
	}
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, errors.Wrap(err, "memfd_create")
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "ftruncate")
	}
	// The consumer maps the same file; keep its size fixed.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK|unix.F_SEAL_GROW|unix.F_SEAL_SEAL); err != nil {
		log.Debug("seal memfd: %v", err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "mmap")
	}

	return &Memfd{
		fd:    fd,
		data:  data,
		plane: capture.Plane{FD: fd, Size: uint32(size), Stride: stride},
	}, nil
}

// Memfd is a mapped shared-memory backing.
type Memfd struct {
	fd    int
	data  []byte
	plane capture.Plane
}

func (m *Memfd) Planes() []capture.Plane { return []capture.Plane{m.plane} }
func (m *Memfd) DMABuf() bool            { return false }
func (m *Memfd) Bytes() []byte           { return m.data }

func (m *Memfd) Close() error {
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			return errors.Wrap(err, "munmap")
		}
		m.data = nil
	}
	if m.fd >= 0 {
		if err := unix.Close(m.fd); err != nil {
			return err
		}
		m.fd = -1
	}
	return nil
}
