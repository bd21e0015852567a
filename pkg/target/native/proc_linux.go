package native

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	sys "golang.org/x/sys/unix"

	"github.com/memsieve/memsieve/pkg/logflags"
	"github.com/memsieve/memsieve/pkg/target"
)

// Process is a live process on the local machine. Memory is accessed with
// process_vm_readv/process_vm_writev; when those are not permitted (or
// the pages are read-only) /proc/<pid>/mem is used instead.
type Process struct {
	pid int
	exe string

	mu     sync.Mutex
	mem    *os.File
	frozen int
	closed bool

	// noVM is set once process_vm_readv turned out to be unavailable.
	noVM bool
}

var _ target.Target = (*Process)(nil)
var _ target.Freezer = (*Process)(nil)

// Open attaches to pid. It satisfies target.Opener.
func Open(pid int) (target.Target, error) {
	return OpenProcess(pid)
}

// OpenProcess attaches to pid.
func OpenProcess(pid int) (*Process, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); err != nil {
		return nil, fmt.Errorf("no such process %d", pid)
	}
	p := &Process{pid: pid}
	p.exe, _ = os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))

	memPath := fmt.Sprintf("/proc/%d/mem", pid)
	mem, err := os.OpenFile(memPath, os.O_RDWR, 0)
	if err != nil {
		mem, err = os.Open(memPath)
	}
	if err != nil {
		// process_vm_readv may still work
		logflags.TargetLogger().WithError(err).Debugf("could not open %s", memPath)
	} else {
		p.mem = mem
	}
	logflags.TargetLogger().Debugf("opened %d (%s)", pid, p.exe)
	return p, nil
}

// Pid implements target.Target.
func (p *Process) Pid() int { return p.pid }

// Exe returns the path of the executable of the process.
func (p *Process) Exe() string { return p.exe }

// ReadMemory implements target.MemoryReader.
func (p *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, target.ErrProcessExited
	}
	if !p.noVM {
		n, err := processVmRead(p.pid, uintptr(addr), buf)
		if err == nil {
			if n < len(buf) {
				return n, fmt.Errorf("short read at %#x: %d of %d bytes", addr, n, len(buf))
			}
			return n, nil
		}
		if err == sys.ESRCH {
			return 0, target.ErrProcessExited
		}
		if err == sys.ENOSYS || err == sys.EPERM {
			p.noVM = true
		}
		if p.mem == nil {
			return 0, fmt.Errorf("could not read %#x: %w", addr, err)
		}
	}
	if p.mem == nil {
		return 0, errors.New("no way to read target memory")
	}
	n, err := p.mem.ReadAt(buf, int64(addr))
	if err != nil {
		return n, fmt.Errorf("could not read %#x: %w", addr, err)
	}
	return n, nil
}

// WriteMemory implements target.MemoryReadWriter.
func (p *Process) WriteMemory(addr uint64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, target.ErrProcessExited
	}
	if !p.noVM {
		n, err := processVmWrite(p.pid, uintptr(addr), data)
		if err == nil && n == len(data) {
			return n, nil
		}
		if err == sys.ESRCH {
			return 0, target.ErrProcessExited
		}
		// EFAULT on read-only pages: /proc/<pid>/mem can still write them
	}
	if p.mem == nil {
		return 0, errors.New("no way to write target memory")
	}
	n, err := p.mem.WriteAt(data, int64(addr))
	if err != nil {
		return n, fmt.Errorf("could not write %#x: %w", addr, err)
	}
	logflags.TargetLogger().Debugf("wrote %d bytes at %#x", n, addr)
	return n, nil
}

// Regions implements target.Target by parsing /proc/<pid>/maps.
func (p *Process) Regions(level target.ScanLevel) ([]target.Region, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, target.ErrProcessExited
		}
		return nil, err
	}
	defer f.Close()
	all, err := target.ParseMaps(f, p.exe)
	if err != nil {
		return nil, err
	}
	regions := target.FilterRegions(all, level)
	logflags.TargetLogger().Debugf("%d of %d regions selected by %s", len(regions), len(all), level)
	return regions, nil
}

// Freeze stops the process with SIGSTOP. Freezes nest.
func (p *Process) Freeze() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen == 0 {
		if err := sys.Kill(p.pid, sys.SIGSTOP); err != nil {
			return fmt.Errorf("could not stop %d: %w", p.pid, err)
		}
	}
	p.frozen++
	return nil
}

// Thaw resumes the process once every Freeze has been matched.
func (p *Process) Thaw() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.thawLocked(false)
}

func (p *Process) thawLocked(all bool) error {
	if p.frozen == 0 {
		return nil
	}
	p.frozen--
	if all {
		p.frozen = 0
	}
	if p.frozen > 0 {
		return nil
	}
	if err := sys.Kill(p.pid, sys.SIGCONT); err != nil && err != sys.ESRCH {
		return fmt.Errorf("could not continue %d: %w", p.pid, err)
	}
	return nil
}

// Close implements target.Target. A frozen process is resumed.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.thawLocked(true)
	if p.mem != nil {
		if cerr := p.mem.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func processVmRead(pid int, addr uintptr, data []byte) (int, error) {
	local := []sys.Iovec{{Base: &data[0]}}
	local[0].SetLen(len(data))
	remote := []sys.RemoteIovec{{Base: addr, Len: len(data)}}
	n, err := sys.ProcessVMReadv(pid, local, remote, 0)
	return n, errnoOrNil(err)
}

func processVmWrite(pid int, addr uintptr, data []byte) (int, error) {
	local := []sys.Iovec{{Base: &data[0]}}
	local[0].SetLen(len(data))
	remote := []sys.RemoteIovec{{Base: addr, Len: len(data)}}
	n, err := sys.ProcessVMWritev(pid, local, remote, 0)
	return n, errnoOrNil(err)
}

func errnoOrNil(err error) error {
	if err == nil || err == syscall.Errno(0) {
		return nil
	}
	return err
}
