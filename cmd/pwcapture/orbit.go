package main

import (
	"math"
	"sync"

	"github.com/lanikai/pwcapture/internal/capture"
	"github.com/lanikai/pwcapture/internal/cursor"
)

const (
	orbitSteps    = 120 // snapshots per revolution
	orbitInterval = 60  // snapshots between image changes
	crossSize     = 16
)

// orbit is a synthetic cursor circling the frame center. Its image toggles
// between a cross and a filled square.
type orbit struct {
	mu     sync.Mutex
	cx, cy float64
	radius float64
	step   int
}

func newOrbit(width, height uint32) *orbit {
	r := math.Min(float64(width), float64(height)) / 3
	return &orbit{cx: float64(width) / 2, cy: float64(height) / 2, radius: r}
}

func (o *orbit) Snapshot(prev uint64) (cursor.Snapshot, error) {
	o.mu.Lock()
	step := o.step
	o.step++
	o.mu.Unlock()

	angle := 2 * math.Pi * float64(step%orbitSteps) / orbitSteps
	snap := cursor.Snapshot{
		Serial:  uint64(step/orbitInterval) + 1,
		Entered: true,
		Position: capture.Point{
			X: int32(o.cx + o.radius*math.Cos(angle)),
			Y: int32(o.cy + o.radius*math.Sin(angle)),
		},
		Hotspot: capture.Point{X: crossSize / 2, Y: crossSize / 2},
	}
	if snap.Serial != prev {
		snap.Image = crossImage(snap.Serial%2 == 0)
	}
	return snap, nil
}

func crossImage(filled bool) *cursor.Image {
	img := &cursor.Image{
		Width:         crossSize,
		Height:        crossSize,
		BytesPerPixel: 4,
		Format:        capture.FormatBGRA,
		Pixels:        make([]byte, crossSize*crossSize*4),
	}
	for y := 0; y < crossSize; y++ {
		for x := 0; x < crossSize; x++ {
			if !filled && x != crossSize/2 && y != crossSize/2 {
				continue
			}
			px := img.Pixels[(y*crossSize+x)*4:]
			px[0], px[1], px[2], px[3] = 0xff, 0xff, 0xff, 0xff
		}
	}
	return img
}
