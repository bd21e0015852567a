// Package native implements target.Target for processes running on the
// local machine.
package native

import "fmt"

// ProcessInfo describes a process found by Processes.
type ProcessInfo struct {
	Pid     int
	Name    string
	Cmdline string
}

func (pi ProcessInfo) String() string {
	cmd := pi.Cmdline
	if cmd == "" {
		cmd = "[" + pi.Name + "]"
	}
	return fmt.Sprintf("%d %s", pi.Pid, cmd)
}
