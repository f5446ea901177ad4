//go:build !linux
// +build !linux

package capture

import "time"

var start = time.Now()

func monotonicNow() int64 {
	return int64(time.Since(start))
}
