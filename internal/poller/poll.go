// internal/poller/poll.go
// Author: momentics <momentics@gmail.com>
//
// Readiness wait on the shared display descriptor. The display releases its
// lock around WaitReadable, so exactly this call is where a registered
// reader sleeps.

package poller

import (
	"time"

	"golang.org/x/sys/unix"
)

const hangup = unix.POLLHUP | unix.POLLERR | unix.POLLNVAL

// WaitReadable blocks until fd is readable or the timeout elapses.
// A negative timeout blocks indefinitely. Hang-up and error conditions
// report ready so the following read surfaces the failure.
func WaitReadable(fd int, timeout time.Duration) (bool, error) {
	ms := pollTimeout(timeout)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
		return fds[0].Revents&(unix.POLLIN|hangup) != 0, nil
	}
}

// pollTimeout converts timeout to poll(2) milliseconds, rounding up so a
// positive sub-millisecond wait does not become a non-blocking poll.
func pollTimeout(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}
