//go:build !linux
// +build !linux

package backing

import (
	"github.com/pkg/errors"

	"github.com/lanikai/pwcapture/internal/capture"
)

type MemfdAllocator struct {
	Name string
}

func (a *MemfdAllocator) Fixate(p capture.Proposal) (capture.Layout, error) {
	return capture.Layout{}, errors.New("backing: memfd requires linux")
}

func (a *MemfdAllocator) Allocate(l capture.Layout) (capture.Backing, error) {
	return nil, errors.New("backing: memfd requires linux")
}
