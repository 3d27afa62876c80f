package runtime

import (
	"iter"
	"reflect"
	goruntime "runtime"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/lua-runtime/errors"
)

// Table is a handle on a guest table. Get and Set go through the guest
// index operator, honoring metatables; RawGet and RawSet bypass them.
type Table struct {
	handle
}

func (rt *Runtime) newTable(tbl *lua.LTable) *Table {
	t := &Table{handle{rt: rt, slot: rt.registry.Ref(tbl)}}
	goruntime.SetFinalizer(t, (*Table).finalizeSelf)
	return t
}

func (t *Table) finalizeSelf() { t.handle.finalize() }

func (t *Table) Get(key any) (any, error) { return t.index(key) }
func (t *Table) Set(key, value any) error { return t.setIndex(key, value) }

func (t *Table) Call(args ...any) (any, error) { return t.call(args) }
func (t *Table) String() string                { return t.str() }

func (t *Table) table() (*lua.LTable, error) {
	lv, err := t.valueLocked()
	if err != nil {
		return nil, err
	}
	return lv.(*lua.LTable), nil
}

// RawGet reads a key without invoking metamethods.
func (t *Table) RawGet(key any) (any, error) {
	if err := t.rt.enter(); err != nil {
		return nil, err
	}
	defer t.rt.leave()

	tbl, err := t.table()
	if err != nil {
		return nil, err
	}
	k, err := t.rt.toLua(key, false)
	if err != nil {
		return nil, err
	}
	return t.rt.fromLua(t.rt.l.RawGet(tbl, k))
}

// RawSet writes a key without invoking metamethods.
func (t *Table) RawSet(key, value any) error {
	if err := t.rt.enter(); err != nil {
		return err
	}
	defer t.rt.leave()

	tbl, err := t.table()
	if err != nil {
		return err
	}
	k, err := t.rt.toLua(key, false)
	if err != nil {
		return err
	}
	v, err := t.rt.toLua(value, false)
	if err != nil {
		return err
	}
	t.rt.l.RawSet(tbl, k, v)
	return nil
}

// Len returns the guest length operator result. As in the guest
// language, the value is unreliable for tables with holes in the
// array part.
func (t *Table) Len() (int, error) {
	if err := t.rt.enter(); err != nil {
		return 0, err
	}
	defer t.rt.leave()

	tbl, err := t.table()
	if err != nil {
		return 0, err
	}
	return t.rt.l.ObjLen(tbl), nil
}

// Items iterates key/value pairs in guest traversal order. The
// sequence is lazy: each step takes the bridge lock, so mutating the
// table between steps follows the guest's own next() rules. A value
// that fails to convert ends the iteration.
func (t *Table) Items() iter.Seq2[any, any] {
	return func(yield func(any, any) bool) {
		key := lua.LValue(lua.LNil)
		for {
			k, v, ok := t.nextPair(&key)
			if !ok || !yield(k, v) {
				return
			}
		}
	}
}

// Keys iterates the table's keys in guest traversal order.
func (t *Table) Keys() iter.Seq[any] {
	return func(yield func(any) bool) {
		key := lua.LValue(lua.LNil)
		for {
			k, _, ok := t.nextPair(&key)
			if !ok || !yield(k) {
				return
			}
		}
	}
}

// Values iterates the table's values in guest traversal order.
func (t *Table) Values() iter.Seq[any] {
	return func(yield func(any) bool) {
		key := lua.LValue(lua.LNil)
		for {
			_, v, ok := t.nextPair(&key)
			if !ok || !yield(v) {
				return
			}
		}
	}
}

// nextPair advances one raw traversal step, threading the previous key
// through *key. The key value stays reachable from the closure, so the
// cursor stays valid between steps.
func (t *Table) nextPair(key *lua.LValue) (any, any, bool) {
	if err := t.rt.enter(); err != nil {
		return nil, nil, false
	}
	defer t.rt.leave()

	tbl, err := t.table()
	if err != nil {
		return nil, nil, false
	}
	lk, lv := tbl.Next(*key)
	if lk == lua.LNil {
		return nil, nil, false
	}
	*key = lk

	k, err := t.rt.fromLua(lk)
	if err != nil {
		return nil, nil, false
	}
	v, err := t.rt.fromLua(lv)
	if err != nil {
		return nil, nil, false
	}
	return k, v, true
}

// NewTable creates a guest table holding items as its array part and
// returns a handle on it. With no items the table is empty.
func (rt *Runtime) NewTable(items ...any) (*Table, error) {
	return rt.tableFrom([]any{items}, false)
}

// NewTableKV creates a guest table from string-keyed pairs.
func (rt *Runtime) NewTableKV(pairs map[string]any) (*Table, error) {
	return rt.tableFrom([]any{pairs}, false)
}

// TableFrom builds a guest table from host containers. Maps contribute
// key/value pairs, slices and arrays contribute array items, and table
// handles contribute their own pairs. Nested containers stay wrapped
// host objects; use TableFromRecursive to deep-copy them.
func (rt *Runtime) TableFrom(items ...any) (*Table, error) {
	return rt.tableFrom(items, false)
}

// TableFromRecursive is TableFrom with nested maps and slices
// converted into fresh guest tables instead of wrapped references.
func (rt *Runtime) TableFromRecursive(items ...any) (*Table, error) {
	return rt.tableFrom(items, true)
}

func (rt *Runtime) tableFrom(items []any, recursive bool) (*Table, error) {
	if err := rt.enter(); err != nil {
		return nil, err
	}
	defer rt.leave()

	tbl := rt.l.NewTable()
	n := 0
	for _, item := range items {
		if err := rt.mergeInto(tbl, &n, item, recursive); err != nil {
			return nil, err
		}
	}
	return rt.newTable(tbl), nil
}

func (rt *Runtime) mergeInto(tbl *lua.LTable, n *int, item any, recursive bool) error {
	if t, ok := item.(*Table); ok {
		if t.rt != rt {
			return errors.Usage("table handle belongs to a different runtime")
		}
		src, err := t.table()
		if err != nil {
			return err
		}
		key := lua.LValue(lua.LNil)
		for {
			k, v := src.Next(key)
			if k == lua.LNil {
				return nil
			}
			rt.l.RawSet(tbl, k, v)
			key = k
		}
	}

	rv := reflect.ValueOf(item)
	switch rv.Kind() {
	case reflect.Map:
		it := rv.MapRange()
		for it.Next() {
			k, err := rt.toLuaOpts(it.Key().Interface(), false, recursive)
			if err != nil {
				return err
			}
			v, err := rt.toLuaOpts(it.Value().Interface(), false, recursive)
			if err != nil {
				return err
			}
			rt.l.RawSet(tbl, k, v)
		}
		return nil
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			v, err := rt.toLuaOpts(rv.Index(i).Interface(), false, recursive)
			if err != nil {
				return err
			}
			*n++
			tbl.RawSetInt(*n, v)
		}
		return nil
	default:
		return errors.TypeMismatch(errors.PhasePush,
			"cannot build a table from %T; pass a map, slice or table handle", item)
	}
}
