package scan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/memsieve/memsieve/pkg/value"
)

// MatchType selects the relational test applied to every candidate.
type MatchType uint8

const (
	// MatchAny keeps everything; used to snapshot memory.
	MatchAny MatchType = iota
	// compare with a given value
	MatchEqualTo
	MatchNotEqualTo
	MatchGreaterThan
	MatchLessThan
	MatchRange
	// compare with the old value
	MatchUpdate
	MatchNotChanged
	MatchChanged
	MatchIncreased
	MatchDecreased
	// compare with both the given value and the old value
	MatchIncreasedBy
	MatchDecreasedBy
)

var matchTypeNames = [...]string{
	MatchAny:         "any",
	MatchEqualTo:     "equal",
	MatchNotEqualTo:  "notequal",
	MatchGreaterThan: "greater",
	MatchLessThan:    "less",
	MatchRange:       "range",
	MatchUpdate:      "update",
	MatchNotChanged:  "notchanged",
	MatchChanged:     "changed",
	MatchIncreased:   "increased",
	MatchDecreased:   "decreased",
	MatchIncreasedBy: "increasedby",
	MatchDecreasedBy: "decreasedby",
}

func (mt MatchType) String() string {
	if int(mt) < len(matchTypeNames) {
		return matchTypeNames[mt]
	}
	return fmt.Sprintf("MatchType(%d)", uint8(mt))
}

// ParseMatchType returns the match type called s.
func ParseMatchType(s string) (MatchType, error) {
	s = strings.ToLower(s)
	for i, name := range matchTypeNames {
		if s == name {
			return MatchType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown match type %q", s)
}

// NeedsOld reports whether mt compares against the value seen by the
// previous scan, which makes it invalid for a first scan.
func (mt MatchType) NeedsOld() bool {
	switch mt {
	case MatchUpdate, MatchNotChanged, MatchChanged, MatchIncreased, MatchDecreased, MatchIncreasedBy, MatchDecreasedBy:
		return true
	}
	return false
}

// NumValues returns how many user supplied values mt takes.
func (mt MatchType) NumValues() int {
	switch mt {
	case MatchEqualTo, MatchNotEqualTo, MatchGreaterThan, MatchLessThan, MatchIncreasedBy, MatchDecreasedBy:
		return 1
	case MatchRange:
		return 2
	}
	return 0
}

// DataType restricts the kinds a first scan tries at every address.
type DataType uint8

const (
	AnyNumber DataType = iota
	AnyInteger
	AnyFloat
	Integer8
	Integer16
	Integer32
	Integer64
	Float32
	Float64
)

var dataTypeNames = [...]string{"number", "int", "float", "int8", "int16", "int32", "int64", "float32", "float64"}

func (dt DataType) String() string {
	if int(dt) < len(dataTypeNames) {
		return dataTypeNames[dt]
	}
	return fmt.Sprintf("DataType(%d)", uint8(dt))
}

// ParseDataType converts the configuration spelling of a data type.
func ParseDataType(s string) (DataType, error) {
	s = strings.ToLower(s)
	for i, name := range dataTypeNames {
		if s == name {
			return DataType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown scan data type %q", s)
}

// Flags returns the kinds dt allows.
func (dt DataType) Flags() value.Flags {
	switch dt {
	case AnyNumber:
		return value.FlagsAll
	case AnyInteger:
		return value.FlagsInteger
	case AnyFloat:
		return value.FlagsFloat
	case Integer8:
		return value.Flags8
	case Integer16:
		return value.Flags16
	case Integer32:
		return value.Flags32
	case Integer64:
		return value.Flags64
	case Float32:
		return value.FlagsOf(value.F32)
	case Float64:
		return value.FlagsOf(value.F64)
	}
	return value.FlagsEmpty
}

var (
	// ErrInvalidPredicateForState is returned when a predicate needs a
	// previous scan and there is none.
	ErrInvalidPredicateForState = errors.New("predicate needs a previous scan")
	// ErrWrongArguments is returned when a predicate is built with the
	// wrong number of values.
	ErrWrongArguments = errors.New("wrong number of values for predicate")
	// ErrNoCommonKind is returned when the values of a predicate share no
	// interpretation.
	ErrNoCommonKind = errors.New("values have no kind in common")
)

// Predicate is a MatchType together with the values it compares against.
type Predicate struct {
	Type MatchType

	lo, hi value.Value
	kinds  value.Flags
}

// NewPredicate validates vals against mt. For MatchRange vals are the
// lower and upper bound (both inclusive).
func NewPredicate(mt MatchType, vals ...value.Value) (Predicate, error) {
	if mt > MatchDecreasedBy {
		return Predicate{}, fmt.Errorf("unknown match type %d", mt)
	}
	if len(vals) != mt.NumValues() {
		return Predicate{}, fmt.Errorf("%w: %s takes %d, got %d", ErrWrongArguments, mt, mt.NumValues(), len(vals))
	}
	p := Predicate{Type: mt, kinds: value.FlagsAll}
	switch len(vals) {
	case 1:
		p.lo = vals[0]
		p.kinds = vals[0].Flags()
	case 2:
		p.lo, p.hi = vals[0], vals[1]
		p.kinds = vals[0].Flags().Intersect(vals[1].Flags())
	}
	if p.kinds.Empty() {
		return Predicate{}, ErrNoCommonKind
	}
	return p, nil
}

// Kinds returns the kinds the predicate can match at all.
func (p Predicate) Kinds() value.Flags { return p.kinds }

func (p Predicate) String() string {
	switch p.Type.NumValues() {
	case 1:
		return fmt.Sprintf("%s %s", p.Type, p.lo)
	case 2:
		return fmt.Sprintf("%s %s..%s", p.Type, p.lo, p.hi)
	}
	return p.Type.String()
}
