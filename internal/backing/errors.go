package backing

import "github.com/pkg/errors"

var (
	errUnsupportedFormat   = errors.New("backing: unsupported pixel format")
	errUnsupportedModifier = errors.New("backing: no supported modifier offered")
	errNoExporter          = errors.New("backing: DMA-buf layout without exporter")
)
