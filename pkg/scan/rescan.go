package scan

import (
	"context"

	"github.com/memsieve/memsieve/pkg/logflags"
	"github.com/memsieve/memsieve/pkg/target"
	"github.com/memsieve/memsieve/pkg/value"
)

// Rescan re-reads every swath of s from mem and keeps, for every
// candidate, only the kinds for which pred holds between the bytes seen by
// the previous scan and the fresh ones. The fresh bytes become the old
// bytes of the next rescan. Rescan never looks outside the tracked swaths.
//
// A swath that can no longer be read is dropped. If ctx is cancelled the
// store is left unchanged and an error wrapping ErrAborted is returned.
func (s *Store) Rescan(ctx context.Context, mem target.MemoryReader, pred Predicate, progress func(fraction float64)) error {
	log := logflags.ScanLogger()

	s.mu.RLock()
	swaths := s.swaths
	order := s.order
	dt := s.dataType
	s.mu.RUnlock()

	var total, done uint64
	for i := range swaths {
		total += uint64(len(swaths[i].cells))
	}
	opts := Options{Progress: progress}

	b := &builder{}
	var buf, old []byte
	dropped := 0
	for i := range swaths {
		if err := ctx.Err(); err != nil {
			return aborted(err)
		}
		sw := &swaths[i]
		size := len(sw.cells)
		if cap(buf) < size {
			buf = make([]byte, size)
			old = make([]byte, size)
		}
		buf, old = buf[:size], old[:size]
		for j := range sw.cells {
			old[j] = sw.cells[j].old
		}

		n, err := mem.ReadMemory(buf, sw.start)
		if err != nil {
			log.WithError(err).Debugf("swath %#x-%#x: read %d of %d bytes", sw.start, sw.end(), n, size)
			if n <= 0 {
				dropped++
				done += uint64(size)
				opts.progress(done, total)
				continue
			}
		}
		if n > size {
			n = size
		}
		for j := 0; j < n; j++ {
			var info value.Flags
			if c := sw.cells[j].info; !c.Empty() {
				info = pred.check(c, buf[j:min(j+8, n)], old[j:min(j+8, size)], order)
			}
			b.visit(sw.start+uint64(j), buf[j], info)
		}
		done += uint64(size)
		opts.progress(done, total)
	}
	if err := ctx.Err(); err != nil {
		return aborted(err)
	}

	s.commit(b, dt, order)
	log.WithFields(logflags.Fields{"swaths": len(b.swaths), "dropped": dropped}).Debugf("rescan %s kept %d matches", pred, b.count)
	return nil
}

// Reset removes every candidate.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swaths = nil
	s.count = 0
}
