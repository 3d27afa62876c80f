package runtime

import (
	"context"
	"fmt"
	"iter"
	goruntime "runtime"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/lua-runtime/errors"
)

// CoroutineState tracks where a coroutine sits in its lifecycle.
type CoroutineState int

const (
	CoNotStarted CoroutineState = iota
	CoSuspended
	CoRunning
	CoDead
)

func (s CoroutineState) String() string {
	switch s {
	case CoNotStarted:
		return "not started"
	case CoSuspended:
		return "suspended"
	case CoRunning:
		return "running"
	case CoDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Coroutine is a handle on a guest thread. Resume drives it one yield
// at a time; once the body returns, further resumes fail with
// errors.ErrExhausted.
type Coroutine struct {
	handle
	co     *lua.LState
	cancel context.CancelFunc

	// fn is the entry function, known only for coroutines created
	// host-side. Threads pulled out of guest code arrive without it.
	fn      *lua.LFunction
	state   CoroutineState
	initial []any
	iterErr error
}

// NewCoroutine creates a coroutine running f. The arguments are stashed
// and delivered on the first resume, so the coroutine starts cold.
func (f *Function) NewCoroutine(args ...any) (*Coroutine, error) {
	rt := f.rt
	if err := rt.enter(); err != nil {
		return nil, err
	}
	defer rt.leave()

	lv, err := f.valueLocked()
	if err != nil {
		return nil, err
	}
	fn, ok := lv.(*lua.LFunction)
	if !ok {
		return nil, errors.TypeMismatch(errors.PhaseHost, "handle is not a function")
	}

	th, cancel := rt.l.NewThread()
	c := &Coroutine{
		handle:  handle{rt: rt, slot: rt.registry.Ref(th)},
		co:      th,
		cancel:  cancel,
		fn:      fn,
		state:   CoNotStarted,
		initial: args,
	}
	goruntime.SetFinalizer(c, (*Coroutine).finalizeSelf)
	return c, nil
}

// adoptThread wraps a thread created inside guest code. Its entry
// function is not recoverable, so it can only be resumed if the guest
// already started it.
func (rt *Runtime) adoptThread(th *lua.LState) *Coroutine {
	state := CoSuspended
	switch rt.l.Status(th) {
	case "dead":
		state = CoDead
	case "running", "normal":
		state = CoRunning
	default:
		// A thread that was never resumed has no call frame yet. It
		// reports suspended, but resuming it needs the entry function
		// the embedding API does not expose.
		if _, started := th.GetStack(0); !started {
			state = CoNotStarted
		}
	}
	c := &Coroutine{
		handle: handle{rt: rt, slot: rt.registry.Ref(th)},
		co:     th,
		state:  state,
	}
	goruntime.SetFinalizer(c, (*Coroutine).finalizeSelf)
	return c
}

func (c *Coroutine) finalizeSelf() {
	if c.cancel != nil {
		c.cancel()
	}
	c.handle.finalize()
}

// Release drops the pin and cancels the thread's context, if any.
func (c *Coroutine) Release() {
	if c.cancel != nil {
		c.cancel()
	}
	c.handle.Release()
}

// State reports the coroutine's current lifecycle state.
func (c *Coroutine) State() CoroutineState {
	c.rt.lock.Acquire(true)
	defer c.rt.lock.Release()
	return c.state
}

func (c *Coroutine) String() string { return c.str() }

// Resume runs the coroutine until its next yield or return. Yielded
// values come back like call results: nil for none, the value for one,
// a slice for several. When the body returns, its return values are
// delivered once; a bare return, and every resume after death, fails
// with errors.ErrExhausted.
func (c *Coroutine) Resume(args ...any) (any, error) {
	if err := c.rt.enter(); err != nil {
		return nil, err
	}
	defer c.rt.leave()
	defer c.rt.fatalGuard()

	if err := c.rt.checkMemory(); err != nil {
		return nil, err
	}

	switch c.state {
	case CoDead:
		return nil, errors.ErrExhausted
	case CoRunning:
		return nil, errors.Usage("coroutine is already running")
	case CoNotStarted:
		if c.fn == nil {
			return nil, errors.Usage("coroutine was never started by guest code and its entry function is unknown")
		}
		args = append(c.initial, args...)
		c.initial = nil
	}

	lvs := make([]lua.LValue, len(args))
	for i, a := range args {
		lv, err := c.rt.toLua(a, false)
		if err != nil {
			return nil, err
		}
		lvs[i] = lv
	}

	mark := len(c.rt.hostErrs)
	c.state = CoRunning
	st, err, values := c.resumeGuarded(lvs)

	switch {
	case err != nil:
		c.state = CoDead
		return nil, c.rt.fromGuestError(err, mark)
	case st == lua.ResumeYield:
		c.state = CoSuspended
		c.rt.clearHostErrs(mark)
	default:
		c.state = CoDead
		c.rt.clearHostErrs(mark)
		// The VM pads a zero-value return to a single nil, so a body
		// that falls off the end and one ending in "return nil" both
		// arrive here as [nil]; both count as exhaustion.
		if len(values) == 0 || (len(values) == 1 && values[0] == lua.LNil) {
			return nil, errors.ErrExhausted
		}
	}
	return c.rt.pullValues(values)
}

// resumeGuarded shields the host from panics escaping the resume
// machinery, such as resuming a thread in an impossible state.
func (c *Coroutine) resumeGuarded(args []lua.LValue) (st lua.ResumeState, err error, values []lua.LValue) {
	defer func() {
		if r := recover(); r != nil {
			st, values = lua.ResumeError, nil
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = errors.Runtime(errors.PhaseRun, fmt.Sprintf("%v", r), nil)
			}
		}
	}()
	return c.rt.l.Resume(c.co, c.fn, args...)
}

// Next resumes with no arguments, the iteration form of Resume.
func (c *Coroutine) Next() (any, error) {
	return c.Resume()
}

// Send resumes the coroutine with a value, which becomes the result of
// the suspended yield expression. A []any spreads into multiple resume
// arguments; anything else resumes with a single argument. Sending a
// non-nil value into a coroutine that has not started yet is an error:
// there is no yield expression to receive it.
func (c *Coroutine) Send(v any) (any, error) {
	c.rt.lock.Acquire(true)
	notStarted := c.state == CoNotStarted
	c.rt.lock.Release()
	if notStarted && v != nil {
		return nil, errors.Usage("cannot send a non-nil value to a coroutine that has not started")
	}
	switch x := v.(type) {
	case nil:
		return c.Resume()
	case []any:
		return c.Resume(x...)
	default:
		return c.Resume(v)
	}
}

// Seq exposes the coroutine as a single-use iterator over its yielded
// values. Iteration ends at exhaustion; any other resume failure ends
// it too and is reported by Err.
func (c *Coroutine) Seq() iter.Seq[any] {
	return func(yield func(any) bool) {
		for {
			v, err := c.Next()
			if err != nil {
				if err != errors.ErrExhausted {
					c.iterErr = err
				}
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}

// Err returns the error that terminated the last Seq iteration, if the
// termination was not plain exhaustion.
func (c *Coroutine) Err() error {
	return c.iterErr
}

// pullValues converts a resume result list using the call-result
// convention.
func (rt *Runtime) pullValues(values []lua.LValue) (any, error) {
	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		return rt.fromLua(values[0])
	default:
		out := make([]any, len(values))
		for i, v := range values {
			pv, err := rt.fromLua(v)
			if err != nil {
				return nil, err
			}
			out[i] = pv
		}
		return out, nil
	}
}
