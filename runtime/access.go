package runtime

import (
	"fmt"
	"reflect"

	lua "github.com/yuin/gopher-lua"

	luaruntime "github.com/wippyai/lua-runtime"
	"github.com/wippyai/lua-runtime/errors"
)

// checkWrapper recovers the live wrapper behind argument 1 of a
// metamethod. A cleared payload surfaces guest-side as an error, never
// as a crash.
func (rt *Runtime) checkWrapper(l *lua.LState) *hostWrapper {
	ud := l.CheckUserData(1)
	w, ok := ud.Value.(*hostWrapper)
	if !ok || w.obj == nil {
		l.RaiseError("deleted object")
		return nil
	}
	if w.rt.closed {
		l.RaiseError("runtime is closed")
		return nil
	}
	return w
}

func (rt *Runtime) mmIndex(l *lua.LState) int {
	w := rt.checkWrapper(l)
	key := l.Get(2)

	v, err := rt.hostIndex(w, key)
	if err != nil {
		rt.raiseHostError(l, err)
		return 0
	}
	lv, err := rt.toLua(v, false)
	if err != nil {
		rt.raiseHostError(l, err)
		return 0
	}
	l.Push(lv)
	return 1
}

func (rt *Runtime) mmNewIndex(l *lua.LState) int {
	w := rt.checkWrapper(l)
	key := l.Get(2)
	val, err := rt.fromLua(l.Get(3))
	if err != nil {
		rt.raiseHostError(l, err)
		return 0
	}

	if err := rt.hostSetIndex(w, key, val); err != nil {
		rt.raiseHostError(l, err)
	}
	return 0
}

func (rt *Runtime) mmCall(l *lua.LState) int {
	w := rt.checkWrapper(l)
	if luaruntime.IsNone(w.obj) {
		l.RaiseError("None is not callable")
		return 0
	}

	n := l.GetTop()
	args := make([]any, 0, n-1)
	for i := 2; i <= n; i++ {
		v, err := rt.fromLua(l.Get(i))
		if err != nil {
			rt.raiseHostError(l, err)
			return 0
		}
		args = append(args, v)
	}
	return rt.pushHostResults(l, w.obj, args)
}

func (rt *Runtime) mmToString(l *lua.LState) int {
	ud := l.CheckUserData(1)
	w, ok := ud.Value.(*hostWrapper)
	switch {
	case !ok || w.obj == nil:
		l.Push(lua.LString("<deleted host object>"))
	case luaruntime.IsNone(w.obj):
		l.Push(lua.LString("None"))
	default:
		l.Push(lua.LString(fmt.Sprint(w.obj)))
	}
	return 1
}

func (rt *Runtime) mmLen(l *lua.LState) int {
	w := rt.checkWrapper(l)

	rv := reflect.ValueOf(w.obj)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.String:
		l.Push(lua.LNumber(rv.Len()))
		return 1
	default:
		rt.raiseHostError(l, errors.TypeMismatch(errors.PhaseHost, "%T has no length", w.obj))
		return 0
	}
}

func (rt *Runtime) mmEq(l *lua.LState) int {
	a, aok := l.CheckUserData(1).Value.(*hostWrapper)
	b, bok := l.CheckUserData(2).Value.(*hostWrapper)
	if !aok || !bok {
		l.Push(lua.LFalse)
		return 1
	}
	l.Push(lua.LBool(equalObjs(a.obj, b.obj)))
	return 1
}

// equalObjs compares host objects with ==, tolerating incomparable
// types.
func equalObjs(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// hostIndex resolves guest indexing against a wrapped host object,
// dispatching on the wrapper's protocol flags.
func (rt *Runtime) hostIndex(w *hostWrapper, key lua.LValue) (any, error) {
	if w.flags.Has(luaruntime.FlagItemAccess) {
		k, err := rt.fromLua(key)
		if err != nil {
			return nil, err
		}
		return itemGet(w.obj, k)
	}

	name, ok := key.(lua.LString)
	if !ok {
		return nil, errors.TypeMismatch(errors.PhaseHost,
			"attribute name must be a string, not %s", key.Type())
	}
	return rt.attrGet(w.obj, string(name))
}

func (rt *Runtime) hostSetIndex(w *hostWrapper, key lua.LValue, val any) error {
	if w.flags.Has(luaruntime.FlagItemAccess) {
		k, err := rt.fromLua(key)
		if err != nil {
			return err
		}
		return itemSet(w.obj, k, val)
	}

	name, ok := key.(lua.LString)
	if !ok {
		return errors.TypeMismatch(errors.PhaseHost,
			"attribute name must be a string, not %s", key.Type())
	}
	return rt.attrSet(w.obj, string(name), val)
}

func (rt *Runtime) attrGet(obj any, name string) (any, error) {
	if f := rt.opts.attrFilter; f != nil {
		if err := f(obj, name, false); err != nil {
			return nil, errors.Wrap(errors.PhaseHost, errors.KindAttribute, err,
				fmt.Sprintf("attribute %q denied", name))
		}
	}
	if g := rt.opts.attrGetter; g != nil {
		return g(obj, name)
	}
	return reflectAttrGet(obj, name)
}

func (rt *Runtime) attrSet(obj any, name string, val any) error {
	if f := rt.opts.attrFilter; f != nil {
		if err := f(obj, name, true); err != nil {
			return errors.Wrap(errors.PhaseHost, errors.KindAttribute, err,
				fmt.Sprintf("attribute %q denied", name))
		}
	}
	if s := rt.opts.attrSetter; s != nil {
		return s(obj, name, val)
	}
	return reflectAttrSet(obj, name, val)
}

// reflectAttrGet resolves methods first, then exported struct fields.
func reflectAttrGet(obj any, name string) (any, error) {
	rv := reflect.ValueOf(obj)
	if m := rv.MethodByName(name); m.IsValid() {
		return m.Interface(), nil
	}

	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, errors.Attribute(obj, name, "nil pointer")
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		if f := rv.FieldByName(name); f.IsValid() && f.CanInterface() {
			return f.Interface(), nil
		}
	}
	return nil, errors.Attribute(obj, name, "not found")
}

func reflectAttrSet(obj any, name string, val any) error {
	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return errors.Attribute(obj, name, "nil pointer")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return errors.Attribute(obj, name, "not a struct")
	}
	f := rv.FieldByName(name)
	if !f.IsValid() {
		return errors.Attribute(obj, name, "not found")
	}
	if !f.CanSet() {
		return errors.Attribute(obj, name, "not settable; pass a pointer")
	}
	v, err := convertArg(val, f.Type())
	if err != nil {
		return errors.Wrap(errors.PhaseHost, errors.KindType, err,
			fmt.Sprintf("set attribute %q", name))
	}
	f.Set(v)
	return nil
}

// itemGet resolves item access on maps and sequences. Host indices are
// zero-based, as the object's own runtime defines them. A missing map
// key yields nil, matching guest table semantics.
func itemGet(obj any, key any) (any, error) {
	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		kv, err := convertArg(key, rv.Type().Key())
		if err != nil {
			return nil, errors.Wrap(errors.PhaseHost, errors.KindType, err, "map key")
		}
		item := rv.MapIndex(kv)
		if !item.IsValid() {
			return nil, nil
		}
		return item.Interface(), nil
	case reflect.Slice, reflect.Array, reflect.String:
		idx, ok := key.(int64)
		if !ok {
			return nil, errors.TypeMismatch(errors.PhaseHost, "sequence index must be an integer, not %T", key)
		}
		if idx < 0 || idx >= int64(rv.Len()) {
			return nil, errors.TypeMismatch(errors.PhaseHost, "index %d out of range (length %d)", idx, rv.Len())
		}
		return rv.Index(int(idx)).Interface(), nil
	default:
		return nil, errors.TypeMismatch(errors.PhaseHost, "%T does not support item access", obj)
	}
}

func itemSet(obj any, key any, val any) error {
	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		kv, err := convertArg(key, rv.Type().Key())
		if err != nil {
			return errors.Wrap(errors.PhaseHost, errors.KindType, err, "map key")
		}
		vv, err := convertArg(val, rv.Type().Elem())
		if err != nil {
			return errors.Wrap(errors.PhaseHost, errors.KindType, err, "map value")
		}
		rv.SetMapIndex(kv, vv)
		return nil
	case reflect.Slice:
		idx, ok := key.(int64)
		if !ok {
			return errors.TypeMismatch(errors.PhaseHost, "sequence index must be an integer, not %T", key)
		}
		if idx < 0 || idx >= int64(rv.Len()) {
			return errors.TypeMismatch(errors.PhaseHost, "index %d out of range (length %d)", idx, rv.Len())
		}
		vv, err := convertArg(val, rv.Type().Elem())
		if err != nil {
			return errors.Wrap(errors.PhaseHost, errors.KindType, err, "sequence value")
		}
		rv.Index(int(idx)).Set(vv)
		return nil
	default:
		return errors.TypeMismatch(errors.PhaseHost, "%T does not support item assignment", obj)
	}
}
