package runtime

import (
	"iter"
	"reflect"
	goruntime "runtime"

	lua "github.com/yuin/gopher-lua"

	luaruntime "github.com/wippyai/lua-runtime"
	"github.com/wippyai/lua-runtime/errors"
)

// biIter implements go.iter: adapt a host iterable into a function
// usable in a generic for loop, honoring whatever protocol flags the
// wrapped iterable carries.
func (rt *Runtime) biIter(l *lua.LState) int {
	return rt.pushIterNext(l, 0)
}

// biEnumerate implements go.enumerate: iteration with FlagEnumerate
// forced on, yielding a zero-based index before each element.
func (rt *Runtime) biEnumerate(l *lua.LState) int {
	return rt.pushIterNext(l, luaruntime.FlagEnumerate)
}

// biIterex implements go.iterex: iteration with FlagUnpack forced on,
// exploding a []any element into multiple loop variables.
func (rt *Runtime) biIterex(l *lua.LState) int {
	return rt.pushIterNext(l, luaruntime.FlagUnpack)
}

// pushIterNext pushes the next-function of the generic for protocol.
// The effective flags are the union of extra and the flags carried by
// the wrapped iterable, read here at the access site. The first value
// of each step crosses with nil wrapped as the None sentinel so it
// cannot be mistaken for end-of-iteration.
func (rt *Runtime) pushIterNext(l *lua.LState, extra luaruntime.Flags) int {
	flags := extra
	if ud, ok := l.Get(1).(*lua.LUserData); ok {
		if w, ok := ud.Value.(*hostWrapper); ok {
			flags |= w.flags
		}
	}

	next := rt.checkIterable(l)
	idx := int64(0)
	l.Push(l.NewFunction(func(l *lua.LState) int {
		v, ok := next()
		if !ok {
			return 0
		}
		pushed := 0
		if flags.Has(luaruntime.FlagEnumerate) {
			l.Push(lua.LNumber(idx))
			idx++
			pushed++
		}
		parts := []any{v}
		if flags.Has(luaruntime.FlagUnpack) {
			if s, ok := v.([]any); ok {
				parts = s
			}
		}
		for i, p := range parts {
			lv, err := rt.toLua(p, pushed == 0 && i == 0)
			if err != nil {
				rt.raiseHostError(l, err)
				return 0
			}
			l.Push(lv)
		}
		return pushed + len(parts)
	}))
	return 1
}

// checkIterable pulls argument 1 and adapts it into a next function,
// raising a guest error when the value is not a host iterable.
func (rt *Runtime) checkIterable(l *lua.LState) func() (any, bool) {
	v, err := rt.fromLua(l.Get(1))
	if err != nil {
		rt.raiseHostError(l, err)
		return nil
	}
	next, err := hostIterate(v)
	if err != nil {
		rt.raiseHostError(l, err)
		return nil
	}
	return next
}

// seqHandle owns an iter.Pull cursor so its stop function runs when
// the guest abandons the loop and the closure is collected.
type seqHandle struct {
	next func() (any, bool)
	stop func()
}

// hostIterate adapts a host value into a pull-style next function.
// Explicit iterator protocols win over reflection on the container
// kinds.
func hostIterate(v any) (func() (any, bool), error) {
	switch x := v.(type) {
	case luaruntime.Iterator:
		return x.Next, nil
	case func() (any, bool):
		return x, nil
	case iter.Seq[any]:
		h := &seqHandle{}
		h.next, h.stop = iter.Pull(x)
		goruntime.SetFinalizer(h, func(h *seqHandle) { h.stop() })
		return func() (any, bool) { return h.next() }, nil
	case iter.Seq2[any, any]:
		h := &seqHandle{}
		var next func() (any, any, bool)
		next, h.stop = iter.Pull2(x)
		goruntime.SetFinalizer(h, func(h *seqHandle) { h.stop() })
		return func() (any, bool) {
			k, val, ok := next()
			if !ok {
				return nil, false
			}
			return []any{k, val}, true
		}, nil
	case chan any:
		return func() (any, bool) {
			e, ok := <-x
			return e, ok
		}, nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		i := 0
		return func() (any, bool) {
			if i >= rv.Len() {
				return nil, false
			}
			e := rv.Index(i).Interface()
			i++
			return e, true
		}, nil
	case reflect.Map:
		it := rv.MapRange()
		return func() (any, bool) {
			if !it.Next() {
				return nil, false
			}
			return it.Key().Interface(), true
		}, nil
	case reflect.Chan:
		return func() (any, bool) {
			e, ok := rv.Recv()
			if !ok {
				return nil, false
			}
			return e.Interface(), true
		}, nil
	default:
		return nil, errors.TypeMismatch(errors.PhaseHost, "%T is not iterable", v)
	}
}
