package runtime

import (
	"fmt"
	"reflect"
	goruntime "runtime"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/lua-runtime/errors"
	"github.com/wippyai/lua-runtime/resource"
)

// handle pins one guest value through a registry slot. A slot of NoRef
// means the handle is dead; using it is an error, never undefined
// behavior.
type handle struct {
	rt   *Runtime
	slot resource.Slot
}

// valueLocked dereferences the pin. Caller holds the lock.
func (h *handle) valueLocked() (lua.LValue, error) {
	lv, ok := h.rt.registry.Get(h.slot)
	if !ok {
		return nil, errors.Reference("handle is dead")
	}
	return lv.(lua.LValue), nil
}

// Release drops the pin immediately. Without it the handle's finalizer
// releases the slot on collection, through the lock when available and
// through the pending queue otherwise.
func (h *handle) Release() {
	h.rt.lock.Acquire(true)
	defer h.rt.lock.Release()
	if h.rt.closed {
		h.slot = resource.NoRef
		return
	}
	h.rt.registry.Unref(h.slot)
	h.slot = resource.NoRef
}

// finalize releases the slot without ever blocking: a finalizer that
// waits on the bridge lock could stall the collector behind a long
// guest call.
func (h *handle) finalize() {
	slot := h.slot
	if slot == resource.NoRef {
		return
	}
	if h.rt.lock.Acquire(false) {
		if !h.rt.closed {
			h.rt.registry.Unref(slot)
		}
		h.rt.lock.Release()
		return
	}
	h.rt.pending.Add(slot)
}

// Runtime returns the bridge instance that owns this handle.
func (h *handle) Runtime() *Runtime {
	return h.rt
}

// call invokes the pinned guest value through the guest call protocol.
func (h *handle) call(args []any) (any, error) {
	if err := h.rt.enter(); err != nil {
		return nil, err
	}
	defer h.rt.leave()
	defer h.rt.fatalGuard()

	lv, err := h.valueLocked()
	if err != nil {
		return nil, err
	}
	return h.rt.callValue(lv, args)
}

// str renders the pinned value, preferring the guest __tostring
// metamethod and falling back to a "<kind at address>" form.
func (h *handle) str() string {
	if err := h.rt.enter(); err != nil {
		return "<dead handle>"
	}
	defer h.rt.leave()

	lv, err := h.valueLocked()
	if err != nil {
		return "<dead handle>"
	}
	return h.rt.stringify(lv)
}

func (rt *Runtime) stringify(lv lua.LValue) string {
	if rt.l.GetMetaField(lv, "__tostring") != lua.LNil {
		s := rt.l.ToStringMeta(lv)
		if str, ok := s.(lua.LString); ok {
			return string(str)
		}
	}
	return fmt.Sprintf("<%s at 0x%x>", lv.Type(), reflect.ValueOf(lv).Pointer())
}

// index/setIndex run the guest table-index operator under a protected
// call, so metamethod errors unwind cleanly instead of panicking
// through host code.
func (h *handle) index(key any) (any, error) {
	if err := h.rt.enter(); err != nil {
		return nil, err
	}
	defer h.rt.leave()

	lv, err := h.valueLocked()
	if err != nil {
		return nil, err
	}
	k, err := h.rt.toLua(key, false)
	if err != nil {
		return nil, err
	}
	res, err := h.rt.pGetTable(lv, k)
	if err != nil {
		return nil, err
	}
	return h.rt.fromLua(res)
}

func (h *handle) setIndex(key, value any) error {
	if err := h.rt.enter(); err != nil {
		return err
	}
	defer h.rt.leave()

	lv, err := h.valueLocked()
	if err != nil {
		return err
	}
	k, err := h.rt.toLua(key, false)
	if err != nil {
		return err
	}
	v, err := h.rt.toLua(value, false)
	if err != nil {
		return err
	}
	return h.rt.pSetTable(lv, k, v)
}

func (rt *Runtime) pGetTable(obj, key lua.LValue) (lua.LValue, error) {
	l := rt.l
	base := l.GetTop()
	defer l.SetTop(base)

	mark := len(rt.hostErrs)
	fn := l.NewFunction(func(l *lua.LState) int {
		l.Push(l.GetTable(l.Get(1), l.Get(2)))
		return 1
	})
	if err := l.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, obj, key); err != nil {
		return nil, rt.fromGuestError(err, mark)
	}
	rt.clearHostErrs(mark)
	return l.Get(base + 1), nil
}

func (rt *Runtime) pSetTable(obj, key, val lua.LValue) error {
	l := rt.l
	base := l.GetTop()
	defer l.SetTop(base)

	mark := len(rt.hostErrs)
	fn := l.NewFunction(func(l *lua.LState) int {
		l.SetTable(l.Get(1), l.Get(2), l.Get(3))
		return 0
	})
	if err := l.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, obj, key, val); err != nil {
		return rt.fromGuestError(err, mark)
	}
	rt.clearHostErrs(mark)
	return nil
}

// Object is the generic handle for guest values with no richer shape,
// typically foreign userdata. Indexing goes through the guest index
// operator, so metatables are honored.
type Object struct {
	handle
}

func (rt *Runtime) newObject(lv lua.LValue) *Object {
	o := &Object{handle{rt: rt, slot: rt.registry.Ref(lv)}}
	goruntime.SetFinalizer(o, (*Object).finalizeSelf)
	return o
}

func (o *Object) finalizeSelf() { o.handle.finalize() }

func (o *Object) Call(args ...any) (any, error) { return o.call(args) }
func (o *Object) String() string                { return o.str() }

func (o *Object) Get(key any) (any, error) { return o.index(key) }
func (o *Object) Set(key, value any) error { return o.setIndex(key, value) }

// Function is a handle on a guest function.
type Function struct {
	handle
}

func (rt *Runtime) newFunction(fn *lua.LFunction) *Function {
	f := &Function{handle{rt: rt, slot: rt.registry.Ref(fn)}}
	goruntime.SetFinalizer(f, (*Function).finalizeSelf)
	return f
}

func (f *Function) finalizeSelf() { f.handle.finalize() }

func (f *Function) Call(args ...any) (any, error) { return f.call(args) }
func (f *Function) String() string                { return f.str() }

// Get on a function is a protocol mismatch, reported as such rather
// than returning a silent nil.
func (f *Function) Get(key any) (any, error) {
	return nil, errors.TypeMismatch(errors.PhaseHost, "guest function does not support attribute access")
}

func (f *Function) Set(key, value any) error {
	return errors.TypeMismatch(errors.PhaseHost, "guest function does not support attribute assignment")
}

// CoroutineFunction is the not-yet-started-coroutine view of a guest
// function: calling it creates a coroutine instead of invoking the
// function directly.
type CoroutineFunction struct {
	f *Function
}

// AsCoroutine returns the coroutine-producing view of f.
func (f *Function) AsCoroutine() *CoroutineFunction {
	return &CoroutineFunction{f: f}
}

// Call creates a new coroutine with args stashed for the first resume.
func (cf *CoroutineFunction) Call(args ...any) (any, error) {
	return cf.f.NewCoroutine(args...)
}

func (cf *CoroutineFunction) String() string { return cf.f.String() }
