package scan

import (
	"encoding/binary"

	"github.com/memsieve/memsieve/pkg/value"
)

type number interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~uint64 | ~int64 | ~float32 | ~float64
}

// match applies mt to one interpretation. Integer arithmetic wraps at the
// width of T.
func match[T number](mt MatchType, n, o, lo, hi T) bool {
	switch mt {
	case MatchAny, MatchUpdate:
		return true
	case MatchEqualTo:
		return n == lo
	case MatchNotEqualTo:
		return n != lo
	case MatchGreaterThan:
		return n > lo
	case MatchLessThan:
		return n < lo
	case MatchRange:
		return lo <= n && n <= hi
	case MatchNotChanged:
		return n == o
	case MatchChanged:
		return n != o
	case MatchIncreased:
		return n > o
	case MatchDecreased:
		return n < o
	case MatchIncreasedBy:
		return n == o+lo
	case MatchDecreasedBy:
		return n == o-lo
	}
	return false
}

func (p *Predicate) matchKind(k value.Kind, n, o value.Value) bool {
	mt := p.Type
	switch k {
	case value.U8:
		return match(mt, n.U8(), o.U8(), p.lo.U8(), p.hi.U8())
	case value.S8:
		return match(mt, n.S8(), o.S8(), p.lo.S8(), p.hi.S8())
	case value.U16:
		return match(mt, n.U16(), o.U16(), p.lo.U16(), p.hi.U16())
	case value.S16:
		return match(mt, n.S16(), o.S16(), p.lo.S16(), p.hi.S16())
	case value.U32:
		return match(mt, n.U32(), o.U32(), p.lo.U32(), p.hi.U32())
	case value.S32:
		return match(mt, n.S32(), o.S32(), p.lo.S32(), p.hi.S32())
	case value.U64:
		return match(mt, n.U64(), o.U64(), p.lo.U64(), p.hi.U64())
	case value.S64:
		return match(mt, n.S64(), o.S64(), p.lo.S64(), p.hi.S64())
	case value.F32:
		return match(mt, n.F32(), o.F32(), p.lo.F32(), p.hi.F32())
	case value.F64:
		return match(mt, n.F64(), o.F64(), p.lo.F64(), p.hi.F64())
	}
	return false
}

// check returns the subset of kinds for which the bytes at mem (and, for
// predicates that need it, the previously seen bytes at old) satisfy p.
// Kinds wider than the available bytes never match.
func (p *Predicate) check(kinds value.Flags, mem, old []byte, order binary.ByteOrder) value.Flags {
	kinds = kinds.Intersect(p.kinds).FitsIn(len(mem))
	needsOld := p.Type.NeedsOld()
	if needsOld {
		kinds = kinds.FitsIn(len(old))
	}
	if kinds.Empty() {
		return value.FlagsEmpty
	}
	if p.Type == MatchAny || p.Type == MatchUpdate {
		return kinds
	}
	n := value.Decode(mem, kinds, order)
	var o value.Value
	if needsOld {
		o = value.Decode(old, kinds, order)
	}
	var r value.Flags
	for k := value.U8; k <= value.F64; k++ {
		if kinds.Has(k) && p.matchKind(k, n, o) {
			r = r.With(k)
		}
	}
	return r
}
