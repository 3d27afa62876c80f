package runtime

import (
	"iter"
	"testing"

	luaruntime "github.com/wippyai/lua-runtime"
	"github.com/wippyai/lua-runtime/errors"
)

func TestIterOverSlice(t *testing.T) {
	rt := mustNew(t)

	g, _ := rt.Globals()
	if err := g.Set("s", []int64{3, 4, 5}); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, err := rt.Execute(`
		local sum = 0
		for v in go.iter(s) do
			sum = sum + v
		end
		return sum
	`)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if got != int64(12) {
		t.Errorf("sum = %v, want 12", got)
	}
}

func TestIterWrapsNilElements(t *testing.T) {
	rt := mustNew(t)

	g, _ := rt.Globals()
	if err := g.Set("s", []any{nil, int64(1), nil}); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	// A nil element must not terminate the loop early.
	got, err := rt.Execute(`
		local n, nones = 0, 0
		for v in go.iter(s) do
			n = n + 1
			if v == go.none then nones = nones + 1 end
		end
		return n, nones
	`)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	vals := got.([]any)
	if vals[0] != int64(3) {
		t.Errorf("iterated %v elements, want 3", vals[0])
	}
	if vals[1] != int64(2) {
		t.Errorf("saw %v None values, want 2", vals[1])
	}
}

func TestEnumerateZeroBased(t *testing.T) {
	rt := mustNew(t)

	g, _ := rt.Globals()
	if err := g.Set("s", []string{"a", "b"}); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, err := rt.Execute(`
		local first_idx, last_idx
		for i, v in go.enumerate(s) do
			if first_idx == nil then first_idx = i end
			last_idx = i
		end
		return first_idx, last_idx
	`)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	vals := got.([]any)
	if vals[0] != int64(0) || vals[1] != int64(1) {
		t.Errorf("indices = %v, want [0 1]", vals)
	}
}

func TestIterexExplodesTuples(t *testing.T) {
	rt := mustNew(t)

	pairs := [][]any{}
	pairs = append(pairs, []any{"a", int64(1)}, []any{"b", int64(2)})
	seq := func() (any, bool) {
		if len(pairs) == 0 {
			return nil, false
		}
		p := pairs[0]
		pairs = pairs[1:]
		return []any(p), true
	}

	g, _ := rt.Globals()
	if err := g.Set("src", seq); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, err := rt.Execute(`
		local out = ""
		for k, v in go.iterex(src) do
			out = out .. k .. v
		end
		return out
	`)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if got != "a1b2" {
		t.Errorf("got %v, want a1b2", got)
	}
}

func TestIterHonorsEnumerateFlag(t *testing.T) {
	rt := mustNew(t)

	g, _ := rt.Globals()
	err := g.Set("src", luaruntime.Wrapped{
		Object: []string{"a", "b"},
		Flags:  luaruntime.FlagItemAccess | luaruntime.FlagEnumerate,
	})
	if err != nil {
		t.Fatalf("Set error: %v", err)
	}

	// Plain go.iter must pick the enumerate protocol off the wrapper.
	got, err := rt.Execute(`
		local out = {}
		for i, v in go.iter(src) do out[#out + 1] = i .. v end
		return table.concat(out, ",")
	`)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if got != "0a,1b" {
		t.Errorf("got %v, want 0a,1b", got)
	}
}

func TestIterHonorsUnpackFlag(t *testing.T) {
	rt := mustNew(t)

	g, _ := rt.Globals()
	err := g.Set("src", luaruntime.Wrapped{
		Object: [][]any{{"a", int64(1)}, {"b", int64(2)}},
		Flags:  luaruntime.FlagItemAccess | luaruntime.FlagUnpack,
	})
	if err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, err := rt.Execute(`
		local out = ""
		for k, v in go.iter(src) do out = out .. k .. v end
		return out
	`)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if got != "a1b2" {
		t.Errorf("got %v, want a1b2", got)
	}
}

type countdown struct{ n int64 }

func (c *countdown) Next() (any, bool) {
	if c.n <= 0 {
		return nil, false
	}
	c.n--
	return c.n + 1, true
}

func TestIteratorInterface(t *testing.T) {
	rt := mustNew(t)

	g, _ := rt.Globals()
	if err := g.Set("cd", &countdown{n: 3}); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, err := rt.Execute(`
		local out = {}
		for v in go.iter(cd) do
			out[#out + 1] = v
		end
		return out[1], out[3]
	`)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	vals := got.([]any)
	if vals[0] != int64(3) || vals[1] != int64(1) {
		t.Errorf("countdown yielded %v, want [3 ... 1]", vals)
	}
}

func TestIterOverChannel(t *testing.T) {
	rt := mustNew(t)

	ch := make(chan any, 3)
	ch <- int64(1)
	ch <- int64(2)
	close(ch)

	g, _ := rt.Globals()
	if err := g.Set("ch", ch); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, err := rt.Execute(`
		local sum = 0
		for v in go.iter(ch) do sum = sum + v end
		return sum
	`)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if got != int64(3) {
		t.Errorf("sum = %v, want 3", got)
	}
}

func TestIterOverMapYieldsKeys(t *testing.T) {
	rt := mustNew(t)

	g, _ := rt.Globals()
	if err := g.Set("m", map[string]int{"a": 1, "b": 2, "c": 3}); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, err := rt.Execute(`
		local n = 0
		for k in go.iter(m) do
			n = n + 1
			if m[k] == nil then error("unknown key " .. tostring(k)) end
		end
		return n
	`)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if got != int64(3) {
		t.Errorf("key count = %v, want 3", got)
	}
}

func TestIterOverSeq(t *testing.T) {
	rt := mustNew(t)

	var seq iter.Seq[any] = func(yield func(any) bool) {
		for i := int64(1); i <= 4; i++ {
			if !yield(i) {
				return
			}
		}
	}

	g, _ := rt.Globals()
	if err := g.Set("seq", seq); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, err := rt.Execute(`
		local sum = 0
		for v in go.iter(seq) do sum = sum + v end
		return sum
	`)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if got != int64(10) {
		t.Errorf("sum = %v, want 10", got)
	}
}

func TestIterNotIterable(t *testing.T) {
	rt := mustNew(t)

	g, _ := rt.Globals()
	if err := g.Set("n", 5); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	_, err := rt.Execute("for v in go.iter(n) do end")
	if !errors.IsKind(err, errors.KindType) {
		t.Errorf("iterating an integer = %v, want type error", err)
	}
}

func TestEvalBuiltin(t *testing.T) {
	rt := mustNew(t, WithEval(func(expr string) (any, error) {
		if expr == "6 * 7" {
			return int64(42), nil
		}
		return nil, errors.Usage("unsupported expression %q", expr)
	}))

	got, err := rt.Eval(`go.eval("6 * 7")`)
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if got != int64(42) {
		t.Errorf("go.eval = %v, want 42", got)
	}

	if _, err := rt.Eval(`go.eval("nope")`); !errors.IsKind(err, errors.KindUsage) {
		t.Errorf("rejected expression = %v, want usage error", err)
	}
}

func TestEvalBuiltinAbsentByDefault(t *testing.T) {
	rt := mustNew(t)

	got, err := rt.Eval("go.eval == nil")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if got != true {
		t.Error("go.eval exists without WithEval")
	}
}
