// Package value implements the typed value model used by the scanner: a
// single literal (or a run of bytes read from the target) represented
// simultaneously as every integer and float kind it is compatible with.
package value

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrNotNumeric is returned when a literal is neither an integer nor a
	// real number.
	ErrNotNumeric = errors.New("not a number")
	// ErrOutOfRange is returned when a literal is numeric but cannot be
	// represented by the requested kind.
	ErrOutOfRange = errors.New("value out of range")
)

// ParseError describes a literal that could not be turned into a Value.
type ParseError struct {
	Literal string
	// Kind is the explicitly requested kind, nil for auto detection.
	Kind *Kind
	Err  error
}

func (e *ParseError) Error() string {
	if e.Kind != nil {
		return fmt.Sprintf("could not parse %q as %s: %v", e.Literal, *e.Kind, e.Err)
	}
	return fmt.Sprintf("could not parse %q: %v", e.Literal, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Value holds one concrete value for every kind in its flag set. Values
// are immutable once built by Parse, ParseExplicit or Decode.
type Value struct {
	flags Flags

	u8  uint8
	s8  int8
	u16 uint16
	s16 int16
	u32 uint32
	s32 int32
	u64 uint64
	s64 int64
	f32 float32
	f64 float64
}

// Parse interprets literal as every kind it fits in. A base 10 signed
// parse and an any-base unsigned parse are attempted separately, so "0x10"
// only yields unsigned kinds while "-5" only yields signed ones. Leading
// zeros do not select octal. Float kinds are set whenever literal is also
// a real number.
func Parse(literal string) (Value, error) {
	s := strings.TrimSpace(literal)
	var v Value

	snum, serr := strconv.ParseInt(s, 10, 64)
	unum, uerr := strconv.ParseUint(s, intBase(s), 64)

	if uerr == nil {
		if unum <= math.MaxUint8 {
			v.flags = v.flags.With(U8)
			v.u8 = uint8(unum)
		}
		if unum <= math.MaxUint16 {
			v.flags = v.flags.With(U16)
			v.u16 = uint16(unum)
		}
		if unum <= math.MaxUint32 {
			v.flags = v.flags.With(U32)
			v.u32 = uint32(unum)
		}
		v.flags = v.flags.With(U64)
		v.u64 = unum
	}
	if serr == nil {
		if snum >= math.MinInt8 && snum <= math.MaxInt8 {
			v.flags = v.flags.With(S8)
			v.s8 = int8(snum)
		}
		if snum >= math.MinInt16 && snum <= math.MaxInt16 {
			v.flags = v.flags.With(S16)
			v.s16 = int16(snum)
		}
		if snum >= math.MinInt32 && snum <= math.MaxInt32 {
			v.flags = v.flags.With(S32)
			v.s32 = int32(snum)
		}
		v.flags = v.flags.With(S64)
		v.s64 = snum
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		v.flags = v.flags.With(F32).With(F64)
		v.f32 = float32(f)
		v.f64 = f
	}

	if v.flags.Empty() {
		return Value{}, &ParseError{Literal: literal, Err: ErrNotNumeric}
	}
	return v, nil
}

// ParseExplicit interprets literal only as kind k. Integer kinds accept any
// base.
func ParseExplicit(literal string, k Kind) (Value, error) {
	s := strings.TrimSpace(literal)
	fail := func(err error) (Value, error) {
		return Value{}, &ParseError{Literal: literal, Kind: &k, Err: err}
	}
	if k >= numKinds {
		return fail(fmt.Errorf("unknown kind %d", k))
	}

	var v Value
	switch {
	case k.Float():
		f, err := strconv.ParseFloat(s, k.Size()*8)
		if err != nil {
			return fail(numError(err))
		}
		if k == F32 {
			v.f32 = float32(f)
		} else {
			v.f64 = f
		}
	case k.Signed():
		n, err := strconv.ParseInt(s, intBase(s), k.Size()*8)
		if err != nil {
			return fail(numError(err))
		}
		v.setInt(k, uint64(n))
	default:
		n, err := strconv.ParseUint(s, intBase(s), k.Size()*8)
		if err != nil {
			if _, serr := strconv.ParseInt(s, intBase(s), 64); serr == nil || isRange(serr) {
				// a negative number: numeric, but not for an unsigned kind
				return fail(ErrOutOfRange)
			}
			return fail(numError(err))
		}
		v.setInt(k, n)
	}
	v.flags = FlagsOf(k)
	return v, nil
}

// ParseTagged parses literal with ParseExplicit when it carries a kind
// prefix, as in "s32:100" or "f64:1.5", and with Parse otherwise.
func ParseTagged(literal string) (Value, error) {
	s := strings.TrimSpace(literal)
	if i := strings.IndexByte(s, ':'); i > 0 {
		k, err := ParseKind(s[:i])
		if err != nil {
			return Value{}, &ParseError{Literal: literal, Err: err}
		}
		return ParseExplicit(s[i+1:], k)
	}
	return Parse(s)
}

// intBase is the base for strconv integer parsing of s. Prefixed literals
// (0x, 0o, 0b) use their prefix, a plain run of digits is decimal even
// with leading zeros, so "010" is ten for every kind.
func intBase(s string) int {
	digits := strings.TrimLeft(s, "+-")
	if digits == "" {
		return 0
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0
		}
	}
	return 10
}

func isRange(err error) bool {
	return errors.Is(err, strconv.ErrRange)
}

func numError(err error) error {
	if isRange(err) {
		return ErrOutOfRange
	}
	return ErrNotNumeric
}

// setInt stores the low bits of n as kind k.
func (v *Value) setInt(k Kind, n uint64) {
	switch k {
	case U8:
		v.u8 = uint8(n)
	case S8:
		v.s8 = int8(n)
	case U16:
		v.u16 = uint16(n)
	case S16:
		v.s16 = int16(n)
	case U32:
		v.u32 = uint32(n)
	case S32:
		v.s32 = int32(n)
	case U64:
		v.u64 = n
	case S64:
		v.s64 = int64(n)
	}
}

// Decode reads b as every kind in kinds whose width fits in len(b). The
// first byte of b is the lowest address.
func Decode(b []byte, kinds Flags, order binary.ByteOrder) Value {
	var v Value
	kinds = kinds.FitsIn(len(b))
	for k := U8; k < numKinds; k++ {
		if !kinds.Has(k) {
			continue
		}
		switch k {
		case U8:
			v.u8 = b[0]
		case S8:
			v.s8 = int8(b[0])
		case U16:
			v.u16 = order.Uint16(b)
		case S16:
			v.s16 = int16(order.Uint16(b))
		case U32:
			v.u32 = order.Uint32(b)
		case S32:
			v.s32 = int32(order.Uint32(b))
		case U64:
			v.u64 = order.Uint64(b)
		case S64:
			v.s64 = int64(order.Uint64(b))
		case F32:
			v.f32 = math.Float32frombits(order.Uint32(b))
		case F64:
			v.f64 = math.Float64frombits(order.Uint64(b))
		}
	}
	v.flags = kinds
	return v
}

// Bytes encodes the k interpretation of v. It returns nil if k is not in
// v's flag set.
func (v Value) Bytes(k Kind, order binary.ByteOrder) []byte {
	if !v.flags.Has(k) {
		return nil
	}
	b := make([]byte, k.Size())
	switch k {
	case U8:
		b[0] = v.u8
	case S8:
		b[0] = uint8(v.s8)
	case U16:
		order.PutUint16(b, v.u16)
	case S16:
		order.PutUint16(b, uint16(v.s16))
	case U32:
		order.PutUint32(b, v.u32)
	case S32:
		order.PutUint32(b, uint32(v.s32))
	case U64:
		order.PutUint64(b, v.u64)
	case S64:
		order.PutUint64(b, uint64(v.s64))
	case F32:
		order.PutUint32(b, math.Float32bits(v.f32))
	case F64:
		order.PutUint64(b, math.Float64bits(v.f64))
	}
	return b
}

// Flags returns the set of kinds v can be interpreted as.
func (v Value) Flags() Flags { return v.flags }

// Narrow returns v restricted to the kinds in f.
func (v Value) Narrow(f Flags) Value {
	v.flags &= f
	return v
}

func (v Value) U8() uint8    { return v.u8 }
func (v Value) S8() int8     { return v.s8 }
func (v Value) U16() uint16  { return v.u16 }
func (v Value) S16() int16   { return v.s16 }
func (v Value) U32() uint32  { return v.u32 }
func (v Value) S32() int32   { return v.s32 }
func (v Value) U64() uint64  { return v.u64 }
func (v Value) S64() int64   { return v.s64 }
func (v Value) F32() float32 { return v.f32 }
func (v Value) F64() float64 { return v.f64 }

// Format returns the k interpretation of v as a string.
func (v Value) Format(k Kind) string {
	switch k {
	case U8:
		return strconv.FormatUint(uint64(v.u8), 10)
	case S8:
		return strconv.FormatInt(int64(v.s8), 10)
	case U16:
		return strconv.FormatUint(uint64(v.u16), 10)
	case S16:
		return strconv.FormatInt(int64(v.s16), 10)
	case U32:
		return strconv.FormatUint(uint64(v.u32), 10)
	case S32:
		return strconv.FormatInt(int64(v.s32), 10)
	case U64:
		return strconv.FormatUint(v.u64, 10)
	case S64:
		return strconv.FormatInt(v.s64, 10)
	case F32:
		return strconv.FormatFloat(float64(v.f32), 'g', -1, 32)
	case F64:
		return strconv.FormatFloat(v.f64, 'g', -1, 64)
	}
	return "?"
}

// String formats v using its preferred kind.
func (v Value) String() string {
	k, ok := v.flags.Preferred()
	if !ok {
		return "<invalid>"
	}
	return v.Format(k)
}
