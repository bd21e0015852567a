//go:build !linux

package native

import (
	"errors"
	"runtime"

	"github.com/memsieve/memsieve/pkg/target"
)

// ErrNativeBackendDisabled is returned on operating systems without a
// native backend.
var ErrNativeBackendDisabled = errors.New("native backend not available on " + runtime.GOOS)

// Open attaches to pid. It satisfies target.Opener.
func Open(pid int) (target.Target, error) {
	return nil, ErrNativeBackendDisabled
}

// Processes lists the processes whose name or command line contains
// filter.
func Processes(filter string, blacklist []string) ([]ProcessInfo, error) {
	return nil, ErrNativeBackendDisabled
}
