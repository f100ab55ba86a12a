//go:build !linux

// control/platform_other.go
// Author: momentics <momentics@gmail.com>

package control

import (
	"os"
	"runtime"

	"github.com/momentics/hioload-wl/api"
)

// RegisterPlatformProbes adds process-level probes to p.
func RegisterPlatformProbes(p api.ProbeRegistry) {
	p.Register("platform.cpus", func() any { return runtime.NumCPU() })
	p.Register("platform.goroutines", func() any { return runtime.NumGoroutine() })
	p.Register("platform.pid", func() any { return os.Getpid() })
}
