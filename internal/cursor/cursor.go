// Package cursor turns snapshots from a cursor query library into the cursor
// records delivered with each frame.
package cursor

import (
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/pkg/errors"

	"github.com/lanikai/pwcapture/internal/capture"
	"github.com/lanikai/pwcapture/internal/logging"
)

var log = logging.DefaultLogger.WithTag("cursor")

// Largest bitmap delivered with a frame. Larger cursors keep their position
// and hotspot but lose the image.
const (
	MaxWidth         = 64
	MaxHeight        = 64
	MaxBytesPerPixel = 4
)

// Image is a cursor image as reported by the source.
type Image struct {
	Width         uint32
	Height        uint32
	BytesPerPixel uint32
	Format        capture.PixelFormat
	Pixels        []byte
}

// Snapshot is the cursor state at one instant.
type Snapshot struct {
	// Identifies the cursor image. It changes whenever the image does.
	Serial uint64

	// False when the pointer is outside the captured surface.
	Entered bool

	// Position relative to the surface, hotspot relative to the image.
	Position capture.Point
	Hotspot  capture.Point

	// Set when Serial differs from the serial passed to Source.Snapshot.
	Image *Image
}

// Source queries the cursor. prev is the serial of the previous snapshot, so
// the source can skip fetching an unchanged image.
type Source interface {
	Snapshot(prev uint64) (Snapshot, error)
}

// Tracker follows the cursor across frames. The record ID changes whenever
// the cursor image does, and the bitmap is only sent with the first record of
// each ID.
type Tracker struct {
	src Source

	mu     sync.Mutex
	id     uint32
	serial uint64
	have   bool

	// Validated bitmaps by serial. Cursors that come back (arrow, text beam,
	// arrow) are not copied again.
	bitmaps *lru.Cache
}

// NewTracker tracks src, remembering up to cacheSize cursor bitmaps.
func NewTracker(src Source, cacheSize int) *Tracker {
	if cacheSize <= 0 {
		cacheSize = 16
	}
	return &Tracker{src: src, bitmaps: lru.New(cacheSize)}
}

// Record snapshots the cursor and returns the record for the current frame,
// or nil when the pointer is not over the surface.
func (t *Tracker) Record() (*capture.CursorRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap, err := t.src.Snapshot(t.serial)
	if err != nil {
		return nil, errors.Wrap(err, "cursor snapshot")
	}
	if !snap.Entered {
		t.have = false
		return nil, nil
	}

	changed := !t.have || snap.Serial != t.serial
	rec := &capture.CursorRecord{
		Position: snap.Position,
		Hotspot:  snap.Hotspot,
	}
	if changed {
		t.id++
		if t.id == 0 {
			t.id = 1
		}
		t.serial = snap.Serial
		t.have = true
		rec.Bitmap = t.bitmap(snap)
	}
	rec.ID = t.id
	return rec, nil
}

func (t *Tracker) bitmap(snap Snapshot) *capture.CursorBitmap {
	if v, ok := t.bitmaps.Get(snap.Serial); ok {
		return v.(*capture.CursorBitmap)
	}

	img := snap.Image
	if img == nil {
		return nil
	}
	if img.Width > MaxWidth || img.Height > MaxHeight || img.BytesPerPixel > MaxBytesPerPixel {
		log.Warn("cursor bitmap %dx%dx%d exceeds %dx%dx%d, discarded",
			img.Width, img.Height, img.BytesPerPixel, MaxWidth, MaxHeight, MaxBytesPerPixel)
		return nil
	}
	stride := img.Width * img.BytesPerPixel
	if uint32(len(img.Pixels)) < stride*img.Height {
		log.Warn("cursor bitmap short: %d bytes for %dx%d", len(img.Pixels), img.Width, img.Height)
		return nil
	}

	bm := &capture.CursorBitmap{
		Width:  img.Width,
		Height: img.Height,
		Stride: stride,
		Format: img.Format,
		Pixels: append([]byte(nil), img.Pixels[:stride*img.Height]...),
	}
	t.bitmaps.Add(snap.Serial, bm)
	return bm
}

// Attach records the cursor on h. A failed snapshot is logged and the frame
// goes out without cursor.
func (t *Tracker) Attach(h *capture.SlotHandle) error {
	rec, err := t.Record()
	if err != nil {
		log.Debug("%v", err)
		return nil
	}
	if rec == nil {
		return nil
	}
	return h.AttachCursor(*rec)
}
