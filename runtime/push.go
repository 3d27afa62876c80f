package runtime

import (
	"math"
	"math/big"
	"reflect"

	lua "github.com/yuin/gopher-lua"

	luaruntime "github.com/wippyai/lua-runtime"
	"github.com/wippyai/lua-runtime/errors"
)

// maxExactInt is the largest integer the guest numeric type represents
// exactly. gopher-lua numbers are float64, so the window is ±2^53.
const maxExactInt = int64(1) << 53

// toLua converts a host value into a guest value. wrapNone maps nil to
// the distinguished None sentinel instead of guest nil, for positions
// where nil would be misread as end-of-iteration. Caller holds the
// lock.
func (rt *Runtime) toLua(v any, wrapNone bool) (lua.LValue, error) {
	return rt.toLuaOpts(v, wrapNone, false)
}

func (rt *Runtime) toLuaOpts(v any, wrapNone, recursive bool) (lua.LValue, error) {
	if v == nil {
		if wrapNone {
			return rt.noneUD, nil
		}
		return lua.LNil, nil
	}

	switch x := v.(type) {
	case luaruntime.Wrapped:
		return rt.wrapHost(x.Object, x.Flags)
	case bool:
		return lua.LBool(x), nil
	case float64:
		return lua.LNumber(x), nil
	case float32:
		return lua.LNumber(x), nil
	case int:
		return rt.pushInt(int64(x))
	case int8:
		return lua.LNumber(x), nil
	case int16:
		return lua.LNumber(x), nil
	case int32:
		return lua.LNumber(x), nil
	case int64:
		return rt.pushInt(x)
	case uint:
		return rt.pushUint(uint64(x))
	case uint8:
		return lua.LNumber(x), nil
	case uint16:
		return lua.LNumber(x), nil
	case uint32:
		return lua.LNumber(x), nil
	case uint64:
		return rt.pushUint(x)
	case uintptr:
		return rt.pushUint(uint64(x))
	case *big.Int:
		if x.IsInt64() {
			return rt.pushInt(x.Int64())
		}
		return rt.overflowed(x)
	case []byte:
		// Byte strings cross verbatim, whatever the encoding.
		return lua.LString(x), nil
	case string:
		return rt.pushString(x)
	case *Object:
		return rt.pushHandle(&x.handle)
	case *Table:
		return rt.pushHandle(&x.handle)
	case *Function:
		return rt.pushHandle(&x.handle)
	case *Coroutine:
		return rt.pushHandle(&x.handle)
	case lua.LValue:
		return x, nil
	}

	if recursive {
		if lv, ok, err := rt.containerToTable(v); ok || err != nil {
			return lv, err
		}
	}

	return rt.wrapHost(v, defaultFlags(v))
}

// pushHandle re-pushes an already-wrapped guest value. Mixing handles
// across bridge instances is an error, not a silent copy.
func (rt *Runtime) pushHandle(h *handle) (lua.LValue, error) {
	if h.rt != rt {
		return nil, errors.Usage("handle belongs to a different runtime")
	}
	lv, ok := rt.registry.Get(h.slot)
	if !ok {
		return nil, errors.Reference("handle is dead")
	}
	return lv.(lua.LValue), nil
}

func (rt *Runtime) pushInt(n int64) (lua.LValue, error) {
	if n > maxExactInt || n < -maxExactInt {
		return rt.overflowed(n)
	}
	return lua.LNumber(n), nil
}

func (rt *Runtime) pushUint(n uint64) (lua.LValue, error) {
	if n > uint64(maxExactInt) {
		return rt.overflowed(n)
	}
	return lua.LNumber(n), nil
}

// overflowed consults the configured overflow handler; without one, or
// when the handler fails or returns another unrepresentable integer,
// the push fails with an overflow error.
func (rt *Runtime) overflowed(v any) (lua.LValue, error) {
	h := rt.opts.overflow
	if h == nil {
		return nil, errors.Overflow(v)
	}
	sub, err := h(v)
	if err != nil {
		return nil, errors.Wrap(errors.PhasePush, errors.KindOverflow, err, "overflow handler")
	}
	switch s := sub.(type) {
	case int64:
		if s > maxExactInt || s < -maxExactInt {
			return nil, errors.Overflow(sub)
		}
		return lua.LNumber(s), nil
	case int:
		return rt.pushInt(int64(s))
	case uint64:
		if s > uint64(maxExactInt) {
			return nil, errors.Overflow(sub)
		}
		return lua.LNumber(s), nil
	case float64:
		return lua.LNumber(s), nil
	default:
		return rt.toLua(sub, false)
	}
}

func (rt *Runtime) pushString(s string) (lua.LValue, error) {
	enc := rt.opts.encoding
	if enc == nil {
		// Raw-bytes mode: verbatim.
		return lua.LString(s), nil
	}
	encoded, err := enc.NewEncoder().String(s)
	if err != nil {
		return nil, errors.Wrap(errors.PhasePush, errors.KindType, err, "encode string")
	}
	return lua.LString(encoded), nil
}

// containerToTable deep-copies maps and slices into fresh guest tables
// instead of wrapping them. Used by TableFromRecursive.
func (rt *Runtime) containerToTable(v any) (lua.LValue, bool, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		tbl := rt.l.NewTable()
		iter := rv.MapRange()
		for iter.Next() {
			k, err := rt.toLuaOpts(iter.Key().Interface(), false, true)
			if err != nil {
				return nil, true, err
			}
			val, err := rt.toLuaOpts(iter.Value().Interface(), false, true)
			if err != nil {
				return nil, true, err
			}
			rt.l.RawSet(tbl, k, val)
		}
		return tbl, true, nil
	case reflect.Slice, reflect.Array:
		tbl := rt.l.NewTable()
		for i := 0; i < rv.Len(); i++ {
			val, err := rt.toLuaOpts(rv.Index(i).Interface(), false, true)
			if err != nil {
				return nil, true, err
			}
			tbl.RawSetInt(i+1, val)
		}
		return tbl, true, nil
	}
	return nil, false, nil
}

// defaultFlags picks the access protocol for an untagged host object:
// item-style when the value has an item-access capability (maps,
// slices, arrays), attribute-style otherwise.
func defaultFlags(v any) luaruntime.Flags {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			break
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return luaruntime.FlagItemAccess
	default:
		return luaruntime.FlagAttrAccess
	}
}

// isIntegral reports whether f carries no fractional part and sits in
// the exactly-representable window.
func isIntegral(f float64) bool {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return false
	}
	return f == math.Trunc(f) && f >= -float64(maxExactInt) && f <= float64(maxExactInt)
}
