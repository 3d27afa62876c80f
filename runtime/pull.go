package runtime

import (
	lua "github.com/yuin/gopher-lua"

	luaruntime "github.com/wippyai/lua-runtime"
	"github.com/wippyai/lua-runtime/errors"
)

// fromLua converts a guest value into a host value. Primitives convert
// by value; tables, functions and threads come back as handles pinning
// the guest value. Caller holds the lock.
func (rt *Runtime) fromLua(lv lua.LValue) (any, error) {
	switch x := lv.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(x), nil
	case lua.LNumber:
		f := float64(x)
		if isIntegral(f) {
			return int64(f), nil
		}
		return f, nil
	case lua.LString:
		return rt.pullString(string(x))
	case *lua.LUserData:
		return rt.unwrapUserData(x)
	case *lua.LTable:
		return rt.newTable(x), nil
	case *lua.LFunction:
		return rt.newFunction(x), nil
	case *lua.LState:
		return rt.adoptThread(x), nil
	case lua.LChannel:
		return (chan lua.LValue)(x), nil
	default:
		return nil, errors.TypeMismatch(errors.PhasePull, "unsupported guest value of type %s", lv.Type())
	}
}

func (rt *Runtime) pullString(s string) (any, error) {
	enc := rt.opts.encoding
	if enc == nil {
		// Raw-bytes mode: guest strings come back as bytes.
		return []byte(s), nil
	}
	decoded, err := enc.NewDecoder().String(s)
	if err != nil {
		return nil, errors.Wrap(errors.PhasePull, errors.KindType, err, "decode string")
	}
	return decoded, nil
}

// unwrapUserData recovers the host object behind a wrapper, or wraps
// foreign userdata in a generic handle.
func (rt *Runtime) unwrapUserData(ud *lua.LUserData) (any, error) {
	switch w := ud.Value.(type) {
	case *hostWrapper:
		if w.obj == nil {
			return nil, errors.Reference("deleted object")
		}
		if luaruntime.IsNone(w.obj) {
			// The wrapped-nil sentinel unwraps back to nil.
			return nil, nil
		}
		return w.obj, nil
	default:
		// Userdata created outside the bridge crosses as a
		// generic object handle.
		return rt.newObject(ud), nil
	}
}
