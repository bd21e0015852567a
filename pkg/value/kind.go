package value

import (
	"fmt"
	"math/bits"
	"strings"
)

// Kind is one concrete interpretation of a run of bytes in the target's
// memory: an integer of a given width and signedness or a float of a given
// width.
type Kind uint8

const (
	U8 Kind = iota
	S8
	U16
	S16
	U32
	S32
	U64
	S64
	F32
	F64

	numKinds
)

var kindNames = [numKinds]string{"u8", "s8", "u16", "s16", "u32", "s32", "u64", "s64", "f32", "f64"}

func (k Kind) String() string {
	if k >= numKinds {
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// Size returns the width of k in bytes.
func (k Kind) Size() int {
	switch k {
	case U8, S8:
		return 1
	case U16, S16:
		return 2
	case U32, S32, F32:
		return 4
	case U64, S64, F64:
		return 8
	}
	return 0
}

// Signed reports whether k is a signed integer kind.
func (k Kind) Signed() bool {
	return k == S8 || k == S16 || k == S32 || k == S64
}

// Float reports whether k is a floating point kind.
func (k Kind) Float() bool {
	return k == F32 || k == F64
}

// ParseKind returns the kind named by s.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "u8", "uint8":
		return U8, nil
	case "s8", "i8", "int8":
		return S8, nil
	case "u16", "uint16":
		return U16, nil
	case "s16", "i16", "int16":
		return S16, nil
	case "u32", "uint32":
		return U32, nil
	case "s32", "i32", "int32":
		return S32, nil
	case "u64", "uint64":
		return U64, nil
	case "s64", "i64", "int64":
		return S64, nil
	case "f32", "float", "float32":
		return F32, nil
	case "f64", "double", "float64":
		return F64, nil
	}
	return 0, fmt.Errorf("unknown value kind %q", s)
}

// Flags is a set of kinds.
type Flags uint16

const (
	FlagsEmpty Flags = 0

	FlagsInteger = Flags(1<<U8 | 1<<S8 | 1<<U16 | 1<<S16 | 1<<U32 | 1<<S32 | 1<<U64 | 1<<S64)
	FlagsFloat   = Flags(1<<F32 | 1<<F64)
	FlagsAll     = FlagsInteger | FlagsFloat

	Flags8  = Flags(1<<U8 | 1<<S8)
	Flags16 = Flags(1<<U16 | 1<<S16)
	Flags32 = Flags(1<<U32 | 1<<S32)
	Flags64 = Flags(1<<U64 | 1<<S64)
)

// FlagsOf returns the set containing exactly the given kinds.
func FlagsOf(kinds ...Kind) Flags {
	var f Flags
	for _, k := range kinds {
		f = f.With(k)
	}
	return f
}

// Has reports whether k is in f.
func (f Flags) Has(k Kind) bool {
	return k < numKinds && f&(1<<k) != 0
}

// With returns f with k added.
func (f Flags) With(k Kind) Flags {
	if k >= numKinds {
		return f
	}
	return f | 1<<k
}

// Without returns f with k removed.
func (f Flags) Without(k Kind) Flags {
	return f &^ (1 << k)
}

// Intersect returns the kinds present in both f and g.
func (f Flags) Intersect(g Flags) Flags {
	return f & g
}

// Empty reports whether f contains no kinds.
func (f Flags) Empty() bool {
	return f&FlagsAll == 0
}

// Len returns the number of kinds in f.
func (f Flags) Len() int {
	return bits.OnesCount16(uint16(f & FlagsAll))
}

// Kinds returns the members of f in ascending order (U8 first, F64 last).
func (f Flags) Kinds() []Kind {
	r := make([]Kind, 0, f.Len())
	for k := U8; k < numKinds; k++ {
		if f.Has(k) {
			r = append(r, k)
		}
	}
	return r
}

// MaxSize returns the width in bytes of the widest kind in f, or 0 if f is
// empty.
func (f Flags) MaxSize() int {
	switch {
	case f&(Flags64|1<<F64) != 0:
		return 8
	case f&(Flags32|1<<F32) != 0:
		return 4
	case f&Flags16 != 0:
		return 2
	case f&Flags8 != 0:
		return 1
	}
	return 0
}

// FitsIn returns the subset of f whose kinds are at most n bytes wide.
func (f Flags) FitsIn(n int) Flags {
	switch {
	case n >= 8:
		return f & FlagsAll
	case n >= 4:
		return f & (Flags8 | Flags16 | Flags32 | 1<<F32)
	case n >= 2:
		return f & (Flags8 | Flags16)
	case n >= 1:
		return f & Flags8
	}
	return FlagsEmpty
}

// Preferred picks the single kind used to display or write a value that
// could be any member of f: the widest integer kind, signed before
// unsigned, or when f holds no integer kinds F64 before F32.
func (f Flags) Preferred() (Kind, bool) {
	for _, k := range [...]Kind{S64, U64, S32, U32, S16, U16, S8, U8, F64, F32} {
		if f.Has(k) {
			return k, true
		}
	}
	return 0, false
}

func (f Flags) String() string {
	if f.Empty() {
		return "none"
	}
	var names []string
	for _, k := range f.Kinds() {
		names = append(names, k.String())
	}
	return strings.Join(names, ",")
}
