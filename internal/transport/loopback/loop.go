package loopback

import "sync"

// A loopFunc is the graph's event loop. It should terminate promptly when the
// quit channel is closed.
type loopFunc func(quit <-chan struct{})

// A singletonLoop runs a loopFunc in at most one goroutine at a time. start
// launches it unless it is already running; stop asks it to quit without
// waiting, so it is safe to call from the loop itself. wait blocks until the
// goroutine has exited.
type singletonLoop struct {
	run loopFunc

	// Closed when stop() is requested, to trigger run loop exit.
	quit chan struct{}

	// Closed when run loop actually terminates.
	terminated chan struct{}

	sync.Mutex
}

func newSingletonLoop(run loopFunc) *singletonLoop {
	return &singletonLoop{run: run}
}

// start reports whether it launched the loop.
func (loop *singletonLoop) start() bool {
	loop.Lock()
	defer loop.Unlock()

	if loop.quit != nil {
		return false
	}
	loop.quit = make(chan struct{})
	loop.terminated = make(chan struct{})

	quit, terminated := loop.quit, loop.terminated
	go func() {
		log.Debug("starting graph loop")
		loop.run(quit)
		// Close terminated channel to unblock wait().
		close(terminated)
	}()
	return true
}

func (loop *singletonLoop) stop() <-chan struct{} {
	loop.Lock()
	defer loop.Unlock()

	if loop.quit == nil {
		return nil
	}
	log.Debug("stopping graph loop")
	close(loop.quit)
	terminated := loop.terminated
	loop.quit = nil
	loop.terminated = nil
	return terminated
}
