// Package target defines how the scanner reaches into another process:
// reading and writing its memory and enumerating the regions worth
// scanning. Implementations live in subpackages (see target/native) or are
// built in memory with Memory.
package target

import (
	"errors"
	"fmt"
)

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory reads len(buf) bytes at addr. Short reads return the
	// number of bytes read together with a non-nil error.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// MemoryWriter writes to the target's memory.
type MemoryWriter interface {
	WriteMemory(addr uint64, data []byte) (written int, err error)
}

// MemoryReadWriter is an interface for reading or writing to the target's
// memory.
type MemoryReadWriter interface {
	MemoryReader
	MemoryWriter
}

// Target is an attached process.
type Target interface {
	MemoryReadWriter
	// Pid returns the process id of the target.
	Pid() int
	// Regions lists the readable and writable regions selected by level,
	// in ascending address order.
	Regions(level ScanLevel) ([]Region, error)
	// Close detaches from the target.
	Close() error
}

// Freezer is implemented by targets that can be stopped for the duration
// of a scan so that memory does not change under the scanner.
type Freezer interface {
	Freeze() error
	Thaw() error
}

// Opener attaches to the process with the given pid.
type Opener func(pid int) (Target, error)

// ErrProcessExited is returned when the target went away.
var ErrProcessExited = errors.New("target process exited")

// ScanLevel selects which regions a scan walks.
type ScanLevel uint8

const (
	// RegionAll selects every readable and writable region.
	RegionAll ScanLevel = iota
	// RegionHeapStackExecutable selects the heap, the stack and the
	// writable mappings of the main executable.
	RegionHeapStackExecutable
	// RegionHeapStackExecutableBSS additionally selects the anonymous
	// mapping directly following the executable (its bss).
	RegionHeapStackExecutableBSS
)

var scanLevelNames = []string{"all", "heap_stack_executable", "heap_stack_executable_bss"}

func (l ScanLevel) String() string {
	if int(l) < len(scanLevelNames) {
		return scanLevelNames[l]
	}
	return fmt.Sprintf("ScanLevel(%d)", uint8(l))
}

// ParseScanLevel converts the configuration spelling of a scan level.
func ParseScanLevel(s string) (ScanLevel, error) {
	for i, name := range scanLevelNames {
		if s == name || s == fmt.Sprint(i) {
			return ScanLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown region scan level %q", s)
}

// RegionType classifies a mapping.
type RegionType uint8

const (
	RegionMisc RegionType = iota
	RegionExe
	RegionCode
	RegionHeap
	RegionStack
	RegionBSS
)

var regionTypeNames = [...]string{"misc", "exe", "code", "heap", "stack", "bss"}

func (t RegionType) String() string {
	if int(t) < len(regionTypeNames) {
		return regionTypeNames[t]
	}
	return "unknown"
}

// Perms are the access permissions of a region.
type Perms struct {
	Read, Write, Exec, Shared bool
}

func (p Perms) String() string {
	b := []byte("----")
	if p.Read {
		b[0] = 'r'
	}
	if p.Write {
		b[1] = 'w'
	}
	if p.Exec {
		b[2] = 'x'
	}
	if p.Shared {
		b[3] = 's'
	} else {
		b[3] = 'p'
	}
	return string(b)
}

// Region is a contiguous mapping of the target's address space.
type Region struct {
	Start    uint64
	Size     uint64
	Perms    Perms
	Type     RegionType
	Filename string
}

// End returns the first address after r.
func (r Region) End() uint64 { return r.Start + r.Size }

// Contains reports whether addr lies in r.
func (r Region) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End()
}

func (r Region) String() string {
	return fmt.Sprintf("%#x-%#x %s %s %s", r.Start, r.End(), r.Perms, r.Type, r.Filename)
}
