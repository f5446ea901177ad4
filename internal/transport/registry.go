// Package transport selects the media graph a capture session connects to.
package transport

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/lanikai/pwcapture/internal/capture"
	"github.com/lanikai/pwcapture/internal/logging"
)

var log = logging.DefaultLogger.WithTag("transport")

// Open a transport based on its "transport spec". A transport spec is a
// colon-separated string consisting of a tag and an argument:
//    spec = tag + ":" + arg
// The format of the argument is defined by the registered OpenFunc.
func Open(spec string) (capture.Transport, error) {
	log.Debug("Registered transport types: %v", Tags())

	parts := strings.SplitN(spec, ":", 2)
	tag := parts[0]
	var arg string
	if len(parts) == 2 {
		arg = parts[1]
	}

	mu.Lock()
	open, found := registry[tag]
	mu.Unlock()
	if !found {
		return nil, errors.Errorf("transport type '%s' not registered", tag)
	}
	t, err := open(arg)
	return t, errors.Wrapf(err, "open %s transport", tag)
}

// A function used to open a specific transport type.
type OpenFunc func(arg string) (capture.Transport, error)

var (
	mu       sync.Mutex
	registry = map[string]OpenFunc{}
)

// Register a transport type, identified by its tag.
func Register(tag string, open OpenFunc) {
	mu.Lock()
	registry[tag] = open
	mu.Unlock()
}

// Tags lists the registered transport types.
func Tags() []string {
	mu.Lock()
	defer mu.Unlock()
	var tags []string
	for t := range registry {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
