//go:build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux process probes.

package control

import (
	"os"
	"runtime"

	"github.com/momentics/hioload-wl/api"
)

// RegisterPlatformProbes adds process-level probes to p.
func RegisterPlatformProbes(p api.ProbeRegistry) {
	p.Register("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	p.Register("platform.goroutines", func() any {
		return runtime.NumGoroutine()
	})
	p.Register("platform.pid", func() any {
		return os.Getpid()
	})
	p.Register("platform.open_fds", func() any {
		ents, err := os.ReadDir("/proc/self/fd")
		if err != nil {
			return -1
		}
		return len(ents)
	})
}
