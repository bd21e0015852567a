// Package scan implements the match store: a swath compressed set of
// candidate addresses built by scanning memory regions and narrowed by
// successive rescans.
package scan

import (
	"encoding/binary"
	"errors"
	"sort"
	"sync"

	"github.com/memsieve/memsieve/pkg/value"
)

var (
	// ErrAborted is returned when a build or rescan is cancelled. The
	// store is left at its previous generation.
	ErrAborted = errors.New("scan aborted")
	// ErrNoMatch is returned when an address or index does not name a
	// candidate.
	ErrNoMatch = errors.New("no such match")
	// ErrWriteFailed wraps failures of the memory provider during a write.
	ErrWriteFailed = errors.New("write failed")
)

// cell is the last observed byte at one address together with the kinds
// that still match at that address. A cell with empty info is only kept as
// a trailing byte of a candidate starting at a lower address.
type cell struct {
	old  byte
	info value.Flags
}

// swath is a contiguous run of cells starting at start.
type swath struct {
	start uint64
	cells []cell
}

func (sw *swath) end() uint64 { return sw.start + uint64(len(sw.cells)) }

// window returns up to 8 old bytes starting at cell i.
func (sw *swath) window(i int) []byte {
	n := len(sw.cells) - i
	if n > 8 {
		n = 8
	}
	b := make([]byte, n)
	for j := range b {
		b[j] = sw.cells[i+j].old
	}
	return b
}

// Store is the set of candidate addresses found by a scan.
//
// Store methods may be called concurrently, but Build, Rescan and the
// write methods are expected to be serialised by the caller (see
// engine.Engine); the store lock is only held while committing.
type Store struct {
	mu     sync.RWMutex
	swaths []swath
	count  int

	dataType DataType
	order    binary.ByteOrder
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{order: binary.LittleEndian}
}

// Count returns the number of candidates.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Swaths returns the number of swaths the candidates are stored in.
func (s *Store) Swaths() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.swaths)
}

// DataType returns the data type of the scan that built s.
func (s *Store) DataType() DataType { return s.dataType }

// ByteOrder returns the byte order used to decode candidates.
func (s *Store) ByteOrder() binary.ByteOrder { return s.order }

// Match is a candidate as seen by the last scan.
type Match struct {
	// Index is the position of the match in iteration order.
	Index   int
	Address uint64
	// Info is the set of kinds still matching.
	Info value.Flags
	// Kind is the kind Value is displayed as.
	Kind  value.Kind
	Value value.Value
	// Bytes are the last observed bytes at Address, up to the width of the
	// widest matching kind.
	Bytes []byte
}

func (s *Store) makeMatch(idx int, sw *swath, i int) Match {
	c := sw.cells[i]
	b := sw.window(i)
	if w := c.info.MaxSize(); w < len(b) {
		b = b[:w]
	}
	v := value.Decode(b, c.info, s.order)
	k, _ := c.info.Preferred()
	return Match{
		Index:   idx,
		Address: sw.start + uint64(i),
		Info:    c.info,
		Kind:    k,
		Value:   v,
		Bytes:   b,
	}
}

// Matches calls fn for every candidate in ascending address order until
// fn returns false. fn must not call methods of s that modify it.
func (s *Store) Matches(fn func(i int, m Match) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := 0
	for si := range s.swaths {
		sw := &s.swaths[si]
		for i := range sw.cells {
			if sw.cells[i].info.Empty() {
				continue
			}
			if !fn(idx, s.makeMatch(idx, sw, i)) {
				return
			}
			idx++
		}
	}
}

// Match returns the candidate with index i.
func (s *Store) Match(i int) (Match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	si, ci, ok := s.locateIndex(i)
	if !ok {
		return Match{}, false
	}
	return s.makeMatch(i, &s.swaths[si], ci), true
}

// Lookup returns the candidate at addr.
func (s *Store) Lookup(addr uint64) (Match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	si, ci, ok := s.locateAddr(addr)
	if !ok {
		return Match{}, false
	}
	idx := 0
	for j := 0; j < si; j++ {
		idx += countCells(s.swaths[j].cells)
	}
	idx += countCells(s.swaths[si].cells[:ci])
	return s.makeMatch(idx, &s.swaths[si], ci), true
}

func countCells(cells []cell) int {
	n := 0
	for _, c := range cells {
		if !c.info.Empty() {
			n++
		}
	}
	return n
}

// locateAddr returns the swath and cell holding the candidate at addr.
func (s *Store) locateAddr(addr uint64) (int, int, bool) {
	si := sort.Search(len(s.swaths), func(i int) bool { return s.swaths[i].end() > addr })
	if si >= len(s.swaths) || addr < s.swaths[si].start {
		return 0, 0, false
	}
	ci := int(addr - s.swaths[si].start)
	if s.swaths[si].cells[ci].info.Empty() {
		return 0, 0, false
	}
	return si, ci, true
}

// locateIndex returns the swath and cell holding the idx-th candidate.
func (s *Store) locateIndex(idx int) (int, int, bool) {
	if idx < 0 || idx >= s.count {
		return 0, 0, false
	}
	for si := range s.swaths {
		for ci, c := range s.swaths[si].cells {
			if c.info.Empty() {
				continue
			}
			if idx == 0 {
				return si, ci, true
			}
			idx--
		}
	}
	return 0, 0, false
}

// builder accumulates cells in ascending address order, coalescing
// adjacent ones into swaths.
type builder struct {
	swaths    []swath
	count     int
	keepUntil uint64
}

// visit offers the cell at addr. Cells without matching kinds are only
// kept while they are covered by the widest kind of an earlier candidate.
func (b *builder) visit(addr uint64, old byte, info value.Flags) {
	if info.Empty() {
		if n := len(b.swaths); addr >= b.keepUntil || n == 0 || b.swaths[n-1].end() != addr {
			return
		}
	} else {
		b.count++
		if end := addr + uint64(info.MaxSize()); end > b.keepUntil {
			b.keepUntil = end
		}
	}
	if n := len(b.swaths); n > 0 && b.swaths[n-1].end() == addr {
		b.swaths[n-1].cells = append(b.swaths[n-1].cells, cell{old: old, info: info})
		return
	}
	b.swaths = append(b.swaths, swath{start: addr, cells: []cell{{old: old, info: info}}})
}

// commit replaces the contents of s with the cells collected by b.
func (s *Store) commit(b *builder, dt DataType, order binary.ByteOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swaths = b.swaths
	s.count = b.count
	s.dataType = dt
	s.order = order
}
