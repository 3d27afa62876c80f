package runtime

import (
	"fmt"
	"reflect"
	goruntime "runtime"

	lua "github.com/yuin/gopher-lua"

	luaruntime "github.com/wippyai/lua-runtime"
	"github.com/wippyai/lua-runtime/errors"
	"github.com/wippyai/lua-runtime/resource"
)

// hostWrapper is the payload of every userdata exposing a host object
// to guest code. flags are inspected at each access site.
type hostWrapper struct {
	rt    *Runtime
	obj   any
	flags luaruntime.Flags
	key   resource.Key
	keyed bool
}

// initWrapperTypes builds the shared metatable for wrapped host
// objects and the None sentinel userdata. Called once from New.
func (rt *Runtime) initWrapperTypes() {
	l := rt.l

	mt := l.NewTypeMetatable("hostobject")
	l.SetField(mt, "__index", l.NewFunction(rt.mmIndex))
	l.SetField(mt, "__newindex", l.NewFunction(rt.mmNewIndex))
	l.SetField(mt, "__call", l.NewFunction(rt.mmCall))
	l.SetField(mt, "__tostring", l.NewFunction(rt.mmToString))
	l.SetField(mt, "__len", l.NewFunction(rt.mmLen))
	l.SetField(mt, "__eq", l.NewFunction(rt.mmEq))
	l.SetField(mt, "__metatable", lua.LString("hostobject"))
	rt.hostMT = mt

	none := l.NewUserData()
	none.Value = &hostWrapper{rt: rt, obj: luaruntime.None}
	none.Metatable = mt
	rt.noneUD = none
}

// wrapHost exposes a host object into the guest under the given
// protocol flags, deduplicating per (identity, flags). Caller holds
// the lock.
func (rt *Runtime) wrapHost(obj any, flags luaruntime.Flags) (lua.LValue, error) {
	if obj == nil {
		return lua.LNil, nil
	}

	id, keyed := resource.IdentityOf(obj)
	key := resource.Key{ID: id, Flags: flags}
	if keyed {
		if ud, ok := rt.hostObjs.Lookup(key); ok {
			return ud, nil
		}
	}

	ud := rt.l.NewUserData()
	ud.Value = &hostWrapper{rt: rt, obj: obj, flags: flags, key: key, keyed: keyed}
	ud.Metatable = rt.hostMT

	if keyed {
		rt.hostObjs.Store(key, obj, ud)
		goruntime.SetFinalizer(ud, wrapperFinalizer)
	}
	return ud, nil
}

// wrapperFinalizer runs when the guest collector (Go's, for guest
// values) reclaims a wrapper. It must never block: when the bridge
// lock is unavailable the removal is queued instead.
func wrapperFinalizer(ud *lua.LUserData) {
	w, ok := ud.Value.(*hostWrapper)
	if !ok {
		return
	}
	w.rt.hostFinalize(w.key)
}

func (rt *Runtime) hostFinalize(key resource.Key) {
	if rt.lock.Acquire(false) {
		if !rt.closed && rt.nogc == 0 {
			rt.hostObjs.Remove(key)
			rt.lock.Release()
			return
		}
		rt.lock.Release()
	}
	rt.finMu.Lock()
	rt.finKeys = append(rt.finKeys, key)
	rt.finMu.Unlock()
}

// pushHostResults invokes a host callable and pushes its results per
// the unpack configuration. Runs under a guest protected call.
func (rt *Runtime) pushHostResults(l *lua.LState, fn any, args []any) int {
	results, err := rt.invokeHost(fn, args)
	if err != nil {
		rt.raiseHostError(l, err)
		return 0
	}
	if rt.opts.unpackSlices && len(results) == 1 {
		if s, ok := results[0].([]any); ok {
			results = s
		}
	}
	for _, r := range results {
		lv, err := rt.toLua(r, false)
		if err != nil {
			rt.raiseHostError(l, err)
			return 0
		}
		l.Push(lv)
	}
	return len(results)
}

// invokeHost calls a host function through reflection. A trailing
// error result is split off; a panic inside the callable is captured
// as an error rather than unwinding across the guest stack.
func (rt *Runtime) invokeHost(fn any, args []any) (results []any, err error) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return nil, errors.TypeMismatch(errors.PhaseHost, "%T is not callable", fn)
	}

	defer func() {
		if r := recover(); r != nil {
			if _, isAPI := r.(*lua.ApiError); isAPI {
				panic(r)
			}
			err = errors.Wrap(errors.PhaseHost, errors.KindRuntime,
				fmt.Errorf("%v", r), "panic in host callable")
		}
	}()

	ft := rv.Type()
	fixed := ft.NumIn()
	if ft.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return nil, errors.Usage("%T needs at least %d arguments, got %d", fn, fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, errors.Usage("%T needs %d arguments, got %d", fn, fixed, len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var want reflect.Type
		if i < fixed {
			want = ft.In(i)
		} else {
			want = ft.In(fixed).Elem()
		}
		v, cerr := convertArg(a, want)
		if cerr != nil {
			return nil, errors.Wrap(errors.PhaseHost, errors.KindType, cerr,
				fmt.Sprintf("argument %d of %T", i+1, fn))
		}
		in[i] = v
	}

	out := rv.Call(in)

	if n := len(out); n > 0 && ft.Out(n-1) == errorType {
		if e, _ := out[n-1].Interface().(error); e != nil {
			return nil, e
		}
		out = out[:n-1]
	}

	results = make([]any, len(out))
	for i, o := range out {
		results[i] = o.Interface()
	}
	return results, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// convertArg adapts a marshaled guest value to a host parameter type.
func convertArg(v any, want reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(want), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(want) {
		return rv, nil
	}
	if rv.Type().ConvertibleTo(want) {
		switch want.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64, reflect.String:
			return rv.Convert(want), nil
		}
	}
	if want.Kind() == reflect.Interface && rv.Type().Implements(want) {
		return rv, nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, want)
}

// collect forces two collection passes so finalizers set during the
// first have a chance to be queued.
func collect() {
	goruntime.GC()
	goruntime.GC()
}
