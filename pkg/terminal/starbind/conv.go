package starbind

import (
	"fmt"
	"strconv"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/memsieve/memsieve/pkg/scan"
	"github.com/memsieve/memsieve/pkg/target"
	"github.com/memsieve/memsieve/pkg/value"
)

// valueToStarlark converts v, read as kind k, to a starlark number.
func valueToStarlark(v value.Value, k value.Kind) starlark.Value {
	switch k {
	case value.U8:
		return starlark.MakeUint64(uint64(v.U8()))
	case value.S8:
		return starlark.MakeInt64(int64(v.S8()))
	case value.U16:
		return starlark.MakeUint64(uint64(v.U16()))
	case value.S16:
		return starlark.MakeInt64(int64(v.S16()))
	case value.U32:
		return starlark.MakeUint64(uint64(v.U32()))
	case value.S32:
		return starlark.MakeInt64(int64(v.S32()))
	case value.U64:
		return starlark.MakeUint64(v.U64())
	case value.S64:
		return starlark.MakeInt64(v.S64())
	case value.F32:
		return starlark.Float(v.F32())
	case value.F64:
		return starlark.Float(v.F64())
	}
	return starlark.None
}

// starlarkToValue converts a starlark number, or a string accepted by
// value.ParseTagged, to a value.
func starlarkToValue(sv starlark.Value) (value.Value, error) {
	switch x := sv.(type) {
	case starlark.Int:
		return value.Parse(x.String())
	case starlark.Float:
		return value.Parse(strconv.FormatFloat(float64(x), 'g', -1, 64))
	case starlark.String:
		return value.ParseTagged(string(x))
	}
	return value.Value{}, fmt.Errorf("can not use %s as a value", sv.Type())
}

func kindsToStarlark(f value.Flags) *starlark.List {
	kinds := f.Kinds()
	elems := make([]starlark.Value, len(kinds))
	for i, k := range kinds {
		elems[i] = starlark.String(k.String())
	}
	return starlark.NewList(elems)
}

func matchToStarlark(m scan.Match) starlark.Value {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"index":   starlark.MakeInt(m.Index),
		"address": starlark.MakeUint64(m.Address),
		"kinds":   kindsToStarlark(m.Info),
		"kind":    starlark.String(m.Kind.String()),
		"value":   valueToStarlark(m.Value, m.Kind),
	})
}

func regionToStarlark(r target.Region) starlark.Value {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"start":    starlark.MakeUint64(r.Start),
		"size":     starlark.MakeUint64(r.Size),
		"type":     starlark.String(r.Type.String()),
		"perms":    starlark.String(r.Perms.String()),
		"filename": starlark.String(r.Filename),
	})
}
