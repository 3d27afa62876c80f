package runtime

import (
	lua "github.com/yuin/gopher-lua"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// AttributeFilter decides whether guest code may touch an attribute of
// a wrapped host object. Returning an error blocks the access.
type AttributeFilter func(obj any, name string, isSet bool) error

// AttributeGetter replaces the default reflection-based attribute
// lookup on wrapped host objects.
type AttributeGetter func(obj any, name string) (any, error)

// AttributeSetter replaces the default reflection-based attribute
// assignment on wrapped host objects.
type AttributeSetter func(obj any, name string, value any) error

// OverflowHandler is consulted when a host integer cannot be
// represented exactly in the guest numeric range. It returns a
// representable substitute or an error.
type OverflowHandler func(value any) (any, error)

// EvalFunc backs the guest-side go.eval builtin.
type EvalFunc func(expr string) (any, error)

// Library names a guest standard library and its opener.
type Library struct {
	Name string
	Open lua.LGFunction
}

var (
	LibBase      = Library{lua.BaseLibName, lua.OpenBase}
	LibPackage   = Library{lua.LoadLibName, lua.OpenPackage}
	LibTable     = Library{lua.TabLibName, lua.OpenTable}
	LibString    = Library{lua.StringLibName, lua.OpenString}
	LibMath      = Library{lua.MathLibName, lua.OpenMath}
	LibOs        = Library{lua.OsLibName, lua.OpenOs}
	LibIo        = Library{lua.IoLibName, lua.OpenIo}
	LibCoroutine = Library{lua.CoroutineLibName, lua.OpenCoroutine}
	LibChannel   = Library{lua.ChannelLibName, lua.OpenChannel}
	LibDebug     = Library{lua.DebugLibName, lua.OpenDebug}
)

type options struct {
	encoding       encoding.Encoding // nil means raw-bytes mode
	sourceEncoding encoding.Encoding
	attrFilter     AttributeFilter
	attrGetter     AttributeGetter
	attrSetter     AttributeSetter
	overflow       OverflowHandler
	evalFunc       EvalFunc
	unpackSlices   bool
	maxMemory      uint64
	libraries      []Library
}

func defaultOptions() options {
	return options{
		encoding: unicode.UTF8,
		libraries: []Library{
			LibPackage, LibBase, LibTable, LibString, LibMath, LibCoroutine, LibOs,
		},
	}
}

// Option configures a Runtime.
type Option func(*options)

// WithEncoding sets the text encoding used for strings crossing the
// bridge. Passing nil selects raw-bytes mode: strings cross verbatim
// and guest strings come back as []byte.
func WithEncoding(enc encoding.Encoding) Option {
	return func(o *options) { o.encoding = enc }
}

// WithSourceEncoding sets the encoding applied to source code before it
// is handed to the guest compiler. Defaults to the string encoding.
func WithSourceEncoding(enc encoding.Encoding) Option {
	return func(o *options) { o.sourceEncoding = enc }
}

// WithAttributeFilter installs a gate on attribute access to wrapped
// host objects.
func WithAttributeFilter(f AttributeFilter) Option {
	return func(o *options) { o.attrFilter = f }
}

// WithAttributeHandlers replaces the default reflection-based attribute
// access with explicit getter and setter callbacks.
func WithAttributeHandlers(get AttributeGetter, set AttributeSetter) Option {
	return func(o *options) {
		o.attrGetter = get
		o.attrSetter = set
	}
}

// WithUnpackReturnedSlices makes host callables that return []any
// produce multiple guest return values instead of one wrapped slice.
func WithUnpackReturnedSlices(on bool) Option {
	return func(o *options) { o.unpackSlices = on }
}

// WithOverflowHandler installs the handler consulted when a host
// integer exceeds the guest numeric range.
func WithOverflowHandler(f OverflowHandler) Option {
	return func(o *options) { o.overflow = f }
}

// WithMaxMemory caps heap growth attributable to guest work, in bytes,
// measured from runtime construction and checked at operation
// boundaries. Zero means unlimited.
func WithMaxMemory(bytes uint64) Option {
	return func(o *options) { o.maxMemory = bytes }
}

// WithEval registers a go.eval builtin backed by f. Without this
// option guest code has no way to evaluate host expressions.
func WithEval(f EvalFunc) Option {
	return func(o *options) { o.evalFunc = f }
}

// WithLibraries selects exactly which guest standard libraries are
// opened. The default set is package, base, table, string, math,
// coroutine and os.
func WithLibraries(libs ...Library) Option {
	return func(o *options) { o.libraries = libs }
}

// WithAllLibraries opens every guest standard library, including io,
// debug and channel.
func WithAllLibraries() Option {
	return func(o *options) {
		o.libraries = []Library{
			LibPackage, LibBase, LibTable, LibString, LibMath,
			LibCoroutine, LibOs, LibIo, LibChannel, LibDebug,
		}
	}
}
