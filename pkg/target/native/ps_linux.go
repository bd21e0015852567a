package native

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/memsieve/memsieve/pkg/logflags"
)

// Processes lists the processes whose name or command line contains
// filter, skipping the ones whose name is in blacklist.
func Processes(filter string, blacklist []string) ([]ProcessInfo, error) {
	log := logflags.TargetLogger()
	des, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(blacklist))
	for _, name := range blacklist {
		skip[name] = true
	}
	var r []ProcessInfo
	for _, de := range des {
		if !de.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(de.Name())
		if err != nil {
			continue
		}
		comm, err := os.ReadFile(filepath.Join("/proc", de.Name(), "comm"))
		if err != nil {
			// gone, or we don't have permissions
			continue
		}
		name := string(bytes.TrimSuffix(comm, []byte("\n")))
		if skip[name] {
			continue
		}
		buf, _ := os.ReadFile(filepath.Join("/proc", de.Name(), "cmdline"))
		buf = bytes.TrimRight(buf, "\x00")
		for i := range buf {
			if buf[i] == 0 {
				buf[i] = ' '
			}
		}
		cmdline := string(buf)
		if filter != "" && !strings.Contains(name, filter) && !strings.Contains(cmdline, filter) {
			continue
		}
		r = append(r, ProcessInfo{Pid: pid, Name: name, Cmdline: cmdline})
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Pid < r[j].Pid })
	log.Debugf("ps %q: %d processes", filter, len(r))
	return r, nil
}
