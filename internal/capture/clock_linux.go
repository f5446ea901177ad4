package capture

import "golang.org/x/sys/unix"

// monotonicNow returns CLOCK_MONOTONIC in nanoseconds, the clock the media
// graph timestamps buffers with.
func monotonicNow() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return ts.Nano()
}
