package runtime

import (
	lua "github.com/yuin/gopher-lua"

	luaruntime "github.com/wippyai/lua-runtime"
)

// registerBuiltins installs the "go" table through which guest code
// reaches back into the host: the None sentinel, the iteration
// adapters, access-protocol coercions and, when configured, eval.
func (rt *Runtime) registerBuiltins() {
	l := rt.l

	mod := l.NewTable()
	l.SetField(mod, "none", rt.noneUD)
	l.SetField(mod, "iter", l.NewFunction(rt.biIter))
	l.SetField(mod, "enumerate", l.NewFunction(rt.biEnumerate))
	l.SetField(mod, "iterex", l.NewFunction(rt.biIterex))
	l.SetField(mod, "as_attrgetter", l.NewFunction(rt.biRewrap(luaruntime.FlagAttrAccess, luaruntime.FlagItemAccess)))
	l.SetField(mod, "as_itemgetter", l.NewFunction(rt.biRewrap(luaruntime.FlagItemAccess, luaruntime.FlagAttrAccess)))
	if rt.opts.evalFunc != nil {
		l.SetField(mod, "eval", l.NewFunction(rt.biEval))
	}
	l.SetGlobal("go", mod)
}

// biRewrap re-exposes a wrapped host object under a different access
// protocol. The underlying object is shared; only the flags change.
func (rt *Runtime) biRewrap(set, clear luaruntime.Flags) lua.LGFunction {
	return func(l *lua.LState) int {
		w := rt.checkWrapper(l)
		flags := (w.flags &^ clear) | set
		lv, err := rt.wrapHost(w.obj, flags)
		if err != nil {
			rt.raiseHostError(l, err)
			return 0
		}
		l.Push(lv)
		return 1
	}
}

// biEval hands a guest string to the host eval callback. Only wired
// when the embedder opts in with WithEval.
func (rt *Runtime) biEval(l *lua.LState) int {
	expr := l.CheckString(1)
	v, err := rt.opts.evalFunc(expr)
	if err != nil {
		rt.raiseHostError(l, err)
		return 0
	}
	lv, err := rt.toLua(v, true)
	if err != nil {
		rt.raiseHostError(l, err)
		return 0
	}
	l.Push(lv)
	return 1
}
