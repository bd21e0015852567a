package target

import (
	"fmt"
	"sort"
	"sync"
)

// Memory is a Target whose address space is a set of byte slices held in
// this process. It backs offline scans of saved memory images and the
// scanner's tests.
//
// Mappings never overlap: mapping a range that overlaps existing mappings
// replaces the overlapped parts, splitting them when needed.
type Memory struct {
	mu       sync.Mutex
	pid      int
	mappings []mapping
	frozen   int
	closed   bool
}

type mapping struct {
	Region
	data []byte
}

var _ Target = (*Memory)(nil)
var _ Freezer = (*Memory)(nil)

// NewMemory returns an empty address space reporting pid as its process id.
func NewMemory(pid int) *Memory {
	return &Memory{pid: pid}
}

// Map adds a readable and writable mapping at start holding a copy of data.
func (m *Memory) Map(start uint64, data []byte) {
	m.MapRegion(Region{Start: start, Perms: Perms{Read: true, Write: true}}, data)
}

// MapRegion adds a mapping described by reg; reg.Size is taken from data.
func (m *Memory) MapRegion(reg Region, data []byte) {
	if len(data) == 0 {
		return
	}
	reg.Size = uint64(len(data))
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmapLocked(reg.Start, reg.End())
	m.mappings = append(m.mappings, mapping{Region: reg, data: buf})
	sort.Slice(m.mappings, func(i, j int) bool { return m.mappings[i].Start < m.mappings[j].Start })
}

// Unmap removes [start, start+size) from the address space.
func (m *Memory) Unmap(start, size uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmapLocked(start, start+size)
}

func (m *Memory) unmapLocked(start, end uint64) {
	out := m.mappings[:0:0]
	for _, e := range m.mappings {
		switch {
		case e.End() <= start || end <= e.Start:
			// Entry is completely outside the removed range.
			out = append(out, e)
		case start <= e.Start && e.End() <= end:
			// Entry is completely removed. Drop.
		default:
			if e.Start < start {
				head := e
				head.Size = start - e.Start
				head.data = e.data[:head.Size]
				out = append(out, head)
			}
			if end < e.End() {
				tail := e
				tail.Start = end
				tail.Size = e.End() - end
				tail.data = e.data[end-e.Start:]
				out = append(out, tail)
			}
		}
	}
	m.mappings = out
}

// find returns the index of the mapping containing addr, or -1.
func (m *Memory) find(addr uint64) int {
	i := sort.Search(len(m.mappings), func(i int) bool { return m.mappings[i].End() > addr })
	if i < len(m.mappings) && m.mappings[i].Contains(addr) {
		return i
	}
	return -1
}

// ReadMemory implements MemoryReader.ReadMemory. Reads may span adjacent
// mappings and stop at the first unmapped byte.
func (m *Memory) ReadMemory(buf []byte, addr uint64) (n int, err error) {
	return m.access(buf, addr, false)
}

// WriteMemory implements MemoryReadWriter.WriteMemory.
func (m *Memory) WriteMemory(addr uint64, data []byte) (written int, err error) {
	return m.access(data, addr, true)
}

func (m *Memory) access(buf []byte, addr uint64, write bool) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrProcessExited
	}
	for len(buf) > 0 {
		i := m.find(addr)
		if i < 0 {
			if n == 0 {
				return 0, fmt.Errorf("address %#x is not mapped", addr)
			}
			return n, fmt.Errorf("hit unmapped area at %#x after %d bytes", addr, n)
		}
		e := m.mappings[i]
		if write && !e.Perms.Write {
			return n, fmt.Errorf("address %#x is not writable", addr)
		}
		off := addr - e.Start
		var c int
		if write {
			c = copy(e.data[off:], buf)
		} else {
			c = copy(buf, e.data[off:])
		}
		n += c
		buf = buf[c:]
		addr += uint64(c)
	}
	return n, nil
}

// Pid implements Target.
func (m *Memory) Pid() int { return m.pid }

// Regions implements Target.
func (m *Memory) Regions(level ScanLevel) ([]Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrProcessExited
	}
	all := make([]Region, len(m.mappings))
	for i := range m.mappings {
		all[i] = m.mappings[i].Region
	}
	return FilterRegions(all, level), nil
}

// Close implements Target. Subsequent accesses fail with ErrProcessExited.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Freeze implements Freezer; it only counts nesting.
func (m *Memory) Freeze() error {
	m.mu.Lock()
	m.frozen++
	m.mu.Unlock()
	return nil
}

// Thaw implements Freezer.
func (m *Memory) Thaw() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen == 0 {
		return fmt.Errorf("target %d is not frozen", m.pid)
	}
	m.frozen--
	return nil
}

// Frozen reports whether a Freeze is outstanding.
func (m *Memory) Frozen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frozen > 0
}
