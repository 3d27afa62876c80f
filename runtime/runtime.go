// Package runtime implements the cross-runtime object bridge: one
// Runtime owns one gopher-lua VM and exposes evaluate, execute,
// compile and table operations to the host while serializing every
// guest-touching call behind a reentrant lock.
package runtime

import (
	goruntime "runtime"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/lua-runtime/errors"
	"github.com/wippyai/lua-runtime/lock"
	"github.com/wippyai/lua-runtime/resource"
)

// Runtime owns exactly one guest VM. Construct one per independent VM;
// two Runtimes share no state and their handles must not be mixed.
type Runtime struct {
	l        *lua.LState
	lock     *lock.FastRLock
	registry *resource.Registry
	pending  *resource.PendingQueue
	hostObjs *resource.HostTable[lua.LUserData]

	// Host-callback errors captured while guest code is on the
	// stack; re-raised once the protected call unwinds.
	hostErrs []error

	// Wrapper finalizations deferred because the lock was busy or a
	// NoGC region was active.
	finMu   sync.Mutex
	finKeys []resource.Key

	opts    options
	memBase uint64
	noneUD  *lua.LUserData
	hostMT  *lua.LTable
	nogc    int
	closed  bool
}

// New creates a Runtime with its own guest VM.
func New(opts ...Option) (*Runtime, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	rt := &Runtime{
		l: lua.NewState(lua.Options{
			SkipOpenLibs: true,
		}),
		lock:     lock.New(),
		registry: resource.NewRegistry(),
		pending:  &resource.PendingQueue{},
		hostObjs: resource.NewHostTable[lua.LUserData](),
		opts:     o,
	}

	for _, lib := range o.libraries {
		rt.l.Push(rt.l.NewFunction(lib.Open))
		rt.l.Push(lua.LString(lib.Name))
		rt.l.Call(1, 0)
	}

	rt.initWrapperTypes()
	rt.registerBuiltins()

	if o.maxMemory > 0 {
		rt.markMemoryBaseline()
	}
	return rt, nil
}

// Close tears down the guest VM. All outstanding handles become dead;
// their finalizers turn into no-ops.
func (rt *Runtime) Close() {
	rt.lock.Acquire(true)
	defer rt.lock.Release()
	if rt.closed {
		return
	}
	rt.closed = true
	rt.registry.Clear()
	rt.hostObjs.Clear()
	rt.l.Close()
}

// enter acquires the bridge lock, verifies liveness and drains
// deferred releases. Every public operation pairs it with leave.
func (rt *Runtime) enter() error {
	rt.lock.Acquire(true)
	if rt.closed {
		rt.lock.Release()
		return errors.Closed("runtime")
	}
	if rt.nogc == 0 {
		rt.drainDeferred()
	}
	return nil
}

func (rt *Runtime) leave() {
	rt.lock.Release()
}

// drainDeferred releases registry slots and reference-table entries
// queued by finalizers that could not take the lock. Caller holds the
// lock.
func (rt *Runtime) drainDeferred() {
	for _, slot := range rt.pending.Drain() {
		rt.registry.Unref(slot)
	}

	rt.finMu.Lock()
	keys := rt.finKeys
	rt.finKeys = nil
	rt.finMu.Unlock()
	for _, key := range keys {
		rt.hostObjs.Remove(key)
	}
}

// fatalGuard reports an unprotected guest panic before letting it
// crash. A panic reaching here means a bridge bug: every guest call is
// supposed to cross a protected boundary.
func (rt *Runtime) fatalGuard() {
	if r := recover(); r != nil {
		Logger().Error("unprotected guest panic crossed the bridge boundary",
			zap.Any("panic", r))
		panic(r)
	}
}

// Eval compiles expr as an expression, runs it with args bound to ...
// and returns the unpacked result.
func (rt *Runtime) Eval(expr string, args ...any) (any, error) {
	return rt.run("return "+expr, "<eval>", args)
}

// Execute runs a statement block with args bound to ... and returns
// whatever it returns.
func (rt *Runtime) Execute(code string, args ...any) (any, error) {
	return rt.run(code, "<execute>", args)
}

func (rt *Runtime) run(code, name string, args []any) (any, error) {
	if err := rt.enter(); err != nil {
		return nil, err
	}
	defer rt.leave()
	defer rt.fatalGuard()

	fn, err := rt.load(code, name)
	if err != nil {
		return nil, err
	}
	return rt.callValue(fn, args)
}

// Compile loads code without running it and returns a callable handle.
func (rt *Runtime) Compile(code string) (*Function, error) {
	if err := rt.enter(); err != nil {
		return nil, err
	}
	defer rt.leave()

	fn, err := rt.load(code, "<compile>")
	if err != nil {
		return nil, err
	}
	return rt.newFunction(fn), nil
}

// load compiles source through the guest loader, applying the source
// encoding when one is configured. Caller holds the lock.
func (rt *Runtime) load(code, name string) (*lua.LFunction, error) {
	if err := rt.checkMemory(); err != nil {
		return nil, err
	}
	if enc := rt.opts.sourceEncoding; enc != nil {
		encoded, err := enc.NewEncoder().String(code)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseLoad, errors.KindSyntax, err, "encode source")
		}
		code = encoded
	}

	fn, err := rt.l.Load(strings.NewReader(code), name)
	if err != nil {
		return nil, rt.fromGuestError(err, len(rt.hostErrs))
	}
	return fn, nil
}

// Require invokes the guest require with name and returns the loaded
// module.
func (rt *Runtime) Require(name string) (any, error) {
	if err := rt.enter(); err != nil {
		return nil, err
	}
	defer rt.leave()
	defer rt.fatalGuard()

	req := rt.l.GetGlobal("require")
	if req == lua.LNil {
		return nil, errors.Usage("require is not available; open the package library")
	}
	return rt.callValue(req, []any{name})
}

// Globals returns a handle on the guest global table.
func (rt *Runtime) Globals() (*Table, error) {
	if err := rt.enter(); err != nil {
		return nil, err
	}
	defer rt.leave()
	return rt.newTable(rt.l.G.Global), nil
}

// SetMaxMemory caps heap growth attributable to guest work, in bytes,
// measured from the moment the cap is set. Zero removes the cap.
func (rt *Runtime) SetMaxMemory(bytes uint64) error {
	if err := rt.enter(); err != nil {
		return err
	}
	defer rt.leave()
	rt.opts.maxMemory = bytes
	if bytes > 0 {
		rt.markMemoryBaseline()
	}
	return nil
}

func (rt *Runtime) markMemoryBaseline() {
	var s goruntime.MemStats
	goruntime.ReadMemStats(&s)
	rt.memBase = s.Alloc
}

// checkMemory enforces the cap against heap growth since the baseline.
// The VM has no allocator hook, so accounting happens at operation
// boundaries rather than per allocation. Caller holds the lock.
func (rt *Runtime) checkMemory() error {
	limit := rt.opts.maxMemory
	if limit == 0 {
		return nil
	}
	var s goruntime.MemStats
	goruntime.ReadMemStats(&s)
	if s.Alloc > rt.memBase && s.Alloc-rt.memBase > limit {
		return errors.Memory(errors.PhaseRun, "memory limit exceeded")
	}
	return nil
}

// GC runs a collection pass and releases everything queued by
// finalizers in the meantime.
func (rt *Runtime) GC() error {
	if err := rt.enter(); err != nil {
		return err
	}
	defer rt.leave()

	collect()
	rt.drainDeferred()
	return nil
}

// NoGC runs fn with wrapper finalization processing deferred. Releases
// requested inside the region are queued and applied when the
// outermost region exits.
func (rt *Runtime) NoGC(fn func() error) error {
	if err := rt.enter(); err != nil {
		return err
	}
	rt.nogc++
	rt.leave()

	err := fn()

	rt.lock.Acquire(true)
	rt.nogc--
	if rt.nogc == 0 && !rt.closed {
		rt.drainDeferred()
	}
	rt.lock.Release()
	return err
}

// IsLockOwner reports whether the calling goroutine currently holds
// this Runtime's lock. Host callbacks invoked from guest code observe
// true.
func (rt *Runtime) IsLockOwner() bool {
	return rt.lock.IsOwned()
}

// callValue marshals args, invokes fn through the guest protected-call
// boundary and unpacks the results. Caller holds the lock.
func (rt *Runtime) callValue(fn lua.LValue, args []any) (any, error) {
	if err := rt.checkMemory(); err != nil {
		return nil, err
	}

	l := rt.l
	base := l.GetTop()
	defer l.SetTop(base)

	lvArgs := make([]lua.LValue, len(args))
	for i, a := range args {
		lv, err := rt.toLua(a, false)
		if err != nil {
			return nil, err
		}
		lvArgs[i] = lv
	}

	mark := len(rt.hostErrs)
	err := l.CallByParam(lua.P{
		Fn:      fn,
		NRet:    lua.MultRet,
		Protect: true,
	}, lvArgs...)
	if err != nil {
		return nil, rt.fromGuestError(err, mark)
	}
	rt.clearHostErrs(mark)

	return rt.pullResults(base)
}

// clearHostErrs drops host errors recorded during a guest call that
// completed anyway, meaning guest code caught them with pcall. Caller
// holds the lock.
func (rt *Runtime) clearHostErrs(mark int) {
	if len(rt.hostErrs) > mark {
		rt.hostErrs = rt.hostErrs[:mark]
	}
}

// pullResults unpacks stack values above base: zero values become nil,
// one becomes itself, several become an ordered []any. Caller holds
// the lock.
func (rt *Runtime) pullResults(base int) (any, error) {
	l := rt.l
	n := l.GetTop() - base
	switch {
	case n <= 0:
		return nil, nil
	case n == 1:
		return rt.fromLua(l.Get(base + 1))
	default:
		out := make([]any, n)
		for i := 0; i < n; i++ {
			v, err := rt.fromLua(l.Get(base + 1 + i))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
}

// raiseHostError records err and raises the generic in-guest signal.
// The real error is re-raised host-side once the protected call
// unwinds. Caller holds the lock and is executing under a guest
// protected call.
func (rt *Runtime) raiseHostError(l *lua.LState, err error) {
	rt.hostErrs = append(rt.hostErrs, err)
	l.RaiseError("error during host call: %v", err)
}
