package scan

import (
	"errors"
	"fmt"

	"github.com/memsieve/memsieve/pkg/logflags"
	"github.com/memsieve/memsieve/pkg/target"
	"github.com/memsieve/memsieve/pkg/value"
)

// ErrKindMismatch is returned when a value has no kind in common with the
// candidate it is written to.
var ErrKindMismatch = errors.New("value does not fit the match")

// WriteAddress writes v to the candidate at addr and records the written
// bytes as its old value.
func (s *Store) WriteAddress(mem target.MemoryWriter, addr uint64, v value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	si, ci, ok := s.locateAddr(addr)
	if !ok {
		return fmt.Errorf("%w at %#x", ErrNoMatch, addr)
	}
	return s.writeCell(mem, &s.swaths[si], ci, v)
}

// WriteIndex writes v to the i-th candidate.
func (s *Store) WriteIndex(mem target.MemoryWriter, i int, v value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	si, ci, ok := s.locateIndex(i)
	if !ok {
		return fmt.Errorf("%w with index %d", ErrNoMatch, i)
	}
	return s.writeCell(mem, &s.swaths[si], ci, v)
}

// WriteAll writes v to every candidate. It returns the number of
// candidates written and the errors of the ones that failed.
func (s *Store) WriteAll(mem target.MemoryWriter, v value.Value) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	written := 0
	for si := range s.swaths {
		sw := &s.swaths[si]
		for ci := range sw.cells {
			if sw.cells[ci].info.Empty() {
				continue
			}
			if err := s.writeCell(mem, sw, ci, v); err != nil {
				errs = append(errs, err)
				continue
			}
			written++
		}
	}
	return written, errors.Join(errs...)
}

func (s *Store) writeCell(mem target.MemoryWriter, sw *swath, ci int, v value.Value) error {
	addr := sw.start + uint64(ci)
	info := sw.cells[ci].info
	k, ok := info.Intersect(v.Flags()).Preferred()
	if !ok {
		return fmt.Errorf("%w: %s at %#x is %s", ErrKindMismatch, v, addr, info)
	}
	b := v.Bytes(k, s.order)
	n, err := mem.WriteMemory(addr, b)
	if err != nil {
		return fmt.Errorf("%w at %#x: %w", ErrWriteFailed, addr, err)
	}
	if n != len(b) {
		return fmt.Errorf("%w at %#x: wrote %d of %d bytes", ErrWriteFailed, addr, n, len(b))
	}
	for j := 0; j < len(b) && ci+j < len(sw.cells); j++ {
		sw.cells[ci+j].old = b[j]
	}
	logflags.ScanLogger().Debugf("wrote %s as %s at %#x", v.Format(k), k, addr)
	return nil
}
