// Package luaruntime embeds the gopher-lua virtual machine inside a Go
// host application and bridges values, calls and iteration between the
// two as if they shared one address space.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	luaruntime/          Root package with protocol flags and access adapters
//	├── runtime/         High-level API: the Runtime bridge, value marshaling,
//	│                    guest handles and the coroutine/iterator adapter
//	├── resource/        Registry pin slots and the host-object reference table
//	├── lock/            Reentrant lock serializing access to one guest VM
//	├── errors/          Structured error types for cross-runtime failures
//	└── cmd/lua/         CLI runner with an interactive REPL
//
// # Quick Start
//
// Create a runtime and evaluate an expression:
//
//	rt, err := runtime.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	v, err := rt.Eval("1 + 1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(v) // 2
//
// Non-primitive guest values cross into Go as handles that pin the
// underlying Lua value for as long as the handle is alive:
//
//	fn, _ := rt.Eval("function(a, b) return a + b end")
//	sum, _ := fn.(*runtime.Function).Call(2, 3) // 5
//
// Host objects passed the other way are wrapped once per identity and
// protocol, deduplicated, and reclaimed when the wrapper is collected.
//
// Every operation that touches the guest VM is serialized by a
// reentrant lock, so a host callback invoked from Lua may call back
// into the same runtime without deadlocking.
package luaruntime
