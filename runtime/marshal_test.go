package runtime

import (
	"math/big"
	"reflect"
	"testing"
	"time"

	luaruntime "github.com/wippyai/lua-runtime"
	"github.com/wippyai/lua-runtime/errors"
)

func TestIntegerOverflowWithoutHandler(t *testing.T) {
	rt := mustNew(t)

	g, _ := rt.Globals()
	err := g.Set("big", int64(1)<<60)
	if !errors.IsKind(err, errors.KindOverflow) {
		t.Errorf("pushing 2^60 = %v, want overflow error", err)
	}

	err = g.Set("big", uint64(1)<<60)
	if !errors.IsKind(err, errors.KindOverflow) {
		t.Errorf("pushing uint 2^60 = %v, want overflow error", err)
	}

	// Values inside the exact window cross fine.
	if err := g.Set("ok", int64(1)<<53); err != nil {
		t.Errorf("pushing 2^53 failed: %v", err)
	}
}

func TestIntegerOverflowHandler(t *testing.T) {
	rt := mustNew(t, WithOverflowHandler(func(v any) (any, error) {
		return float64(v.(int64)), nil
	}))

	g, _ := rt.Globals()
	if err := g.Set("big", int64(1)<<60); err != nil {
		t.Fatalf("Set with handler error: %v", err)
	}
	got, err := rt.Eval("big > 2^53")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if got != true {
		t.Errorf("handler substitute did not reach the guest")
	}
}

func TestOverflowHandlerBadSubstitute(t *testing.T) {
	rt := mustNew(t, WithOverflowHandler(func(v any) (any, error) {
		// Still out of range: the handler does not get a second chance.
		return int64(1) << 62, nil
	}))

	g, _ := rt.Globals()
	err := g.Set("big", int64(1)<<60)
	if !errors.IsKind(err, errors.KindOverflow) {
		t.Errorf("bad substitute = %v, want overflow error", err)
	}
}

func TestBigIntCrossesWhenExact(t *testing.T) {
	rt := mustNew(t)

	g, _ := rt.Globals()
	if err := g.Set("n", big.NewInt(1<<40)); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, err := rt.Eval("n")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if got != int64(1<<40) {
		t.Errorf("got %v, want 2^40", got)
	}

	huge := new(big.Int).Lsh(big.NewInt(1), 80)
	err = g.Set("n", huge)
	if !errors.IsKind(err, errors.KindOverflow) {
		t.Errorf("pushing 2^80 = %v, want overflow error", err)
	}
}

func TestNoneSentinel(t *testing.T) {
	rt := mustNew(t)

	// go.none unwraps to nil host-side.
	got, err := rt.Eval("go.none")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if got != nil {
		t.Errorf("go.none pulled as %v, want nil", got)
	}

	// Guest-side it is distinct from nil.
	got, err = rt.Eval("go.none == nil")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if got != false {
		t.Error("go.none compared equal to guest nil")
	}

	got, err = rt.Eval("tostring(go.none)")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if got != "None" {
		t.Errorf("tostring(go.none) = %v, want None", got)
	}
}

func TestBytesCrossVerbatim(t *testing.T) {
	rt := mustNew(t)

	g, _ := rt.Globals()
	if err := g.Set("b", []byte{0x00, 0xff, 0x41}); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, err := rt.Eval("#b == 3 and b:byte(2) == 255")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if got != true {
		t.Error("byte string was altered crossing the bridge")
	}
}

func TestRawBytesMode(t *testing.T) {
	rt := mustNew(t, WithEncoding(nil))

	got, err := rt.Eval(`"abc"`)
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	b, ok := got.([]byte)
	if !ok {
		t.Fatalf("raw mode returned %T, want []byte", got)
	}
	if string(b) != "abc" {
		t.Errorf("got %q, want abc", b)
	}
}

func TestWrapperIdentityDedup(t *testing.T) {
	rt := mustNew(t)

	m := map[string]int{"x": 1}
	g, _ := rt.Globals()
	if err := g.Set("a", m); err != nil {
		t.Fatalf("Set a error: %v", err)
	}
	if err := g.Set("b", m); err != nil {
		t.Fatalf("Set b error: %v", err)
	}

	got, err := rt.Eval("rawequal(a, b)")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if got != true {
		t.Error("same host object produced distinct wrappers")
	}
	if n := rt.hostObjs.Len(); n != 1 {
		t.Errorf("reference table holds %d entries, want 1", n)
	}
}

func TestWrapperFinalizationDropsEntry(t *testing.T) {
	rt := mustNew(t)

	obj := &struct{ n int }{1}
	if _, err := rt.Execute("keep = ...", obj); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if n := hostEntries(rt); n != 1 {
		t.Fatalf("reference table holds %d entries, want 1", n)
	}

	if _, err := rt.Execute("keep = nil"); err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	// Collection drives entry removal. The guest work in the loop
	// recycles stack registers so none still reaches the wrapper.
	deadline := time.Now().Add(5 * time.Second)
	for hostEntries(rt) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("entry not removed after the wrapper became unreachable")
		}
		if _, err := rt.Execute("local t = {} for i = 1, 64 do t[i] = i end"); err != nil {
			t.Fatalf("Execute error: %v", err)
		}
		collect()
		time.Sleep(5 * time.Millisecond)
	}
}

func hostEntries(rt *Runtime) int {
	rt.lock.Acquire(true)
	defer rt.lock.Release()
	rt.drainDeferred()
	return rt.hostObjs.Len()
}

func TestDistinctFlagsDistinctWrappers(t *testing.T) {
	rt := mustNew(t)

	m := map[string]int{"x": 1}
	g, _ := rt.Globals()
	if err := g.Set("a", m); err != nil {
		t.Fatalf("Set a error: %v", err)
	}
	if err := g.Set("b", luaruntime.AsAttributeAccess(m)); err != nil {
		t.Fatalf("Set b error: %v", err)
	}

	got, err := rt.Eval("rawequal(a, b)")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if got != false {
		t.Error("different protocol flags shared one wrapper")
	}
}

func TestWrappedObjectRoundTrip(t *testing.T) {
	rt := mustNew(t)

	type point struct{ X, Y int }
	p := &point{X: 1, Y: 2}

	g, _ := rt.Globals()
	if err := g.Set("p", p); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, err := g.Get("p")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != any(p) {
		t.Errorf("round trip returned %v, want the original pointer", got)
	}
}

func TestHostFunctionRoundTrip(t *testing.T) {
	rt := mustNew(t)

	fn := func(x int64) int64 { return x * 2 }
	g, _ := rt.Globals()
	if err := g.Set("double", fn); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, err := g.Get("double")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if reflect.ValueOf(got).Pointer() != reflect.ValueOf(fn).Pointer() {
		t.Error("host function did not unwrap to the original")
	}
}

func TestUnpackReturnedSlices(t *testing.T) {
	rt := mustNew(t, WithUnpackReturnedSlices(true))

	g, _ := rt.Globals()
	if err := g.Set("pair", func() []any { return []any{int64(1), "two"} }); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, err := rt.Eval("select('#', pair())")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if got != int64(2) {
		t.Errorf("guest saw %v return values, want 2", got)
	}
}

func TestSlicesStayWrappedByDefault(t *testing.T) {
	rt := mustNew(t)

	g, _ := rt.Globals()
	if err := g.Set("pair", func() []any { return []any{int64(1), "two"} }); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, err := rt.Eval("select('#', pair())")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if got != int64(1) {
		t.Errorf("guest saw %v return values, want 1 wrapped slice", got)
	}
}

func TestFloatIntegralPullsAsInt(t *testing.T) {
	rt := mustNew(t)

	got, err := rt.Eval("2.0")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if got != int64(2) {
		t.Errorf("2.0 pulled as %v (%T), want int64(2)", got, got)
	}

	got, err = rt.Eval("2.5")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if got != 2.5 {
		t.Errorf("2.5 pulled as %v (%T), want float64", got, got)
	}
}
