package backing

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/lanikai/pwcapture/internal/capture"
)

// SyncFile is a fence backed by a sync_file descriptor, as exported by GPU
// drivers. The descriptor becomes readable once the fence signals.
type SyncFile struct {
	fd int
}

// NewSyncFile takes ownership of fd.
func NewSyncFile(fd int) *SyncFile {
	return &SyncFile{fd: fd}
}

func (s *SyncFile) FD() int { return s.fd }

// Wait polls the descriptor for at most timeout.
func (s *SyncFile) Wait(timeout time.Duration) error {
	if s.fd < 0 {
		return nil
	}
	deadline := time.Now().Add(timeout)
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	for {
		ms := int(time.Until(deadline) / time.Millisecond)
		if ms < 0 {
			ms = 0
		}
		n, err := unix.Poll(fds, ms)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			return errors.Wrap(err, "poll sync_file")
		case n == 0:
			return errors.Wrapf(capture.ErrFenceTimeout, "sync_file %d after %v", s.fd, timeout)
		case fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0:
			return errors.Errorf("backing: sync_file %d poll error %#x", s.fd, fds[0].Revents)
		}
		return nil
	}
}

func (s *SyncFile) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}
