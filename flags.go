package luaruntime

// Flags tag a wrapped host object with how guest code should index,
// iterate and unpack it. They are carried alongside every wrapper and
// inspected at the access site; the same host object wrapped with
// different flags produces distinct wrappers.
type Flags uint8

const (
	// FlagItemAccess makes guest indexing use item semantics
	// (map keys, slice indices).
	FlagItemAccess Flags = 1 << iota

	// FlagAttrAccess makes guest indexing use attribute semantics
	// (exported struct fields and methods).
	FlagAttrAccess

	// FlagUnpack explodes []any results of host iteration into
	// multiple guest return values.
	FlagUnpack

	// FlagEnumerate emits a zero-based index alongside each value
	// during host iteration.
	FlagEnumerate
)

// Has reports whether all bits in q are set.
func (f Flags) Has(q Flags) bool { return f&q == q }

// Wrapped forces a specific access protocol on a host object before it
// crosses into the guest VM. Obtain one via AsAttributeAccess or
// AsItemAccess and pass it anywhere a plain value is accepted.
type Wrapped struct {
	Object any
	Flags  Flags
}

// AsAttributeAccess tags obj so guest indexing resolves exported struct
// fields and methods even when obj would default to item access.
func AsAttributeAccess(obj any) Wrapped {
	return Wrapped{Object: obj, Flags: FlagAttrAccess}
}

// AsItemAccess tags obj so guest indexing resolves map keys and slice
// indices even when obj would default to attribute access.
func AsItemAccess(obj any) Wrapped {
	return Wrapped{Object: obj, Flags: FlagItemAccess}
}

// Iterator is the pull protocol the guest-side iteration adapter
// understands natively. Next returns the next element and true, or a
// zero value and false once exhausted.
type Iterator interface {
	Next() (any, bool)
}

// noneType is the distinguished wrapped-nil sentinel. It crosses into
// the guest as a live value in positions where nil would be misread as
// end-of-iteration, and unwraps back to nil on the way out.
type noneType struct{}

func (noneType) String() string { return "None" }

// None is the wrapped-nil sentinel value. Guest code sees it as the
// userdata bound to go.none.
var None any = noneType{}

// IsNone reports whether v is the wrapped-nil sentinel.
func IsNone(v any) bool {
	_, ok := v.(noneType)
	return ok
}
