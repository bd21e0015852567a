package scan

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/memsieve/memsieve/pkg/logflags"
	"github.com/memsieve/memsieve/pkg/target"
	"github.com/memsieve/memsieve/pkg/value"
)

// chunkSize is how much of a region is read at once. Every read fetches
// 7 more bytes so that the last addresses of a chunk can still be matched
// as 64 bit values.
const chunkSize = 1 << 20

// Options configures a scan.
type Options struct {
	// DataType limits the kinds tried at every address by Build.
	DataType DataType
	// Order is the byte order of the target, little endian if nil.
	Order binary.ByteOrder
	// Progress, if not nil, is called with the fraction of work done
	// after every region or swath.
	Progress func(fraction float64)
}

func (o *Options) order() binary.ByteOrder {
	if o.Order == nil {
		return binary.LittleEndian
	}
	return o.Order
}

func (o *Options) progress(done, total uint64) {
	if o.Progress == nil || total == 0 {
		return
	}
	o.Progress(float64(done) / float64(total))
}

func aborted(err error) error {
	return fmt.Errorf("%w: %w", ErrAborted, err)
}

// Build scans every byte of regions and returns a store holding the
// addresses where pred matches as any kind allowed by opts.DataType.
// Regions that cannot be read are skipped. pred must not need old values.
func Build(ctx context.Context, mem target.MemoryReader, regions []target.Region, pred Predicate, opts Options) (*Store, error) {
	if pred.Type.NeedsOld() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPredicateForState, pred.Type)
	}
	log := logflags.ScanLogger()
	order := opts.order()
	kinds := opts.DataType.Flags().Intersect(pred.kinds)

	regions = append([]target.Region(nil), regions...)
	sort.Slice(regions, func(i, j int) bool { return regions[i].Start < regions[j].Start })
	var total, done uint64
	for _, r := range regions {
		total += r.Size
	}

	b := &builder{}
	if !kinds.Empty() {
		buf := make([]byte, chunkSize+7)
		for _, r := range regions {
			if err := ctx.Err(); err != nil {
				return nil, aborted(err)
			}
			if err := b.scanRegion(ctx, mem, r, &pred, kinds, order, buf); err != nil {
				return nil, err
			}
			done += r.Size
			opts.progress(done, total)
		}
		if err := ctx.Err(); err != nil {
			return nil, aborted(err)
		}
	} else {
		log.Debugf("%s matches no %s value, skipping region walk", pred, opts.DataType)
	}

	s := NewStore()
	s.commit(b, opts.DataType, order)
	log.WithFields(logflags.Fields{"regions": len(regions), "swaths": len(b.swaths)}).Debugf("scan %s found %d matches", pred, b.count)
	return s, nil
}

func (b *builder) scanRegion(ctx context.Context, mem target.MemoryReader, r target.Region, pred *Predicate, kinds value.Flags, order binary.ByteOrder, buf []byte) error {
	for off := uint64(0); off < r.Size; off += chunkSize {
		if err := ctx.Err(); err != nil {
			return aborted(err)
		}
		addr := r.Start + off
		want := r.Size - off
		if want > uint64(len(buf)) {
			want = uint64(len(buf))
		}
		n, err := mem.ReadMemory(buf[:want], addr)
		if n < 0 {
			n = 0
		}
		limit := int(want)
		if limit > chunkSize {
			limit = chunkSize
		}
		if n < limit {
			limit = n
		}
		if err != nil {
			logflags.ScanLogger().WithError(err).Debugf("region %s: read %d of %d bytes at %#x", r, n, want, addr)
		}
		for i := 0; i < limit; i++ {
			end := i + 8
			if end > n {
				end = n
			}
			b.visit(addr+uint64(i), buf[i], pred.check(kinds, buf[i:end], nil, order))
		}
		if err != nil || n < int(want) {
			// the rest of the region is unreadable
			return nil
		}
	}
	return nil
}
