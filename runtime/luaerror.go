package runtime

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/lua-runtime/errors"
)

// fromGuestError translates the error of a failed protected call. When
// the failure started as a host error raised back into the guest, the
// original host error wins over the generic guest wrapper around it;
// mark is the hostErrs depth captured before the call. Caller holds
// the lock.
func (rt *Runtime) fromGuestError(err error, mark int) error {
	if len(rt.hostErrs) > mark {
		hostErr := rt.hostErrs[len(rt.hostErrs)-1]
		rt.hostErrs = rt.hostErrs[:mark]
		return hostErr
	}

	if apiErr, ok := err.(*lua.ApiError); ok {
		return fromAPIError(apiErr)
	}
	return errors.Runtime(errors.PhaseRun, err.Error(), err)
}

// fromAPIError maps a guest VM error onto the bridge taxonomy.
func fromAPIError(e *lua.ApiError) *errors.Error {
	msg := e.Object.String()

	var out *errors.Error
	switch {
	case e.Type == lua.ApiErrorSyntax || e.Type == lua.ApiErrorFile:
		out = errors.Syntax(msg, nil)
	case strings.Contains(msg, "out of memory"):
		out = errors.Memory(errors.PhaseRun, msg)
	default:
		out = errors.Runtime(errors.PhaseRun, msg, nil)
	}
	out.Value = msg
	out.Traceback = reorderTraceback(e.StackTrace)
	return out
}

const tracebackMarker = "stack traceback:"

// reorderTraceback rewrites a guest traceback so nested-call segments
// read innermost-first. The VM accumulates segments outermost-first
// when an error crosses several protected calls; for diagnosing the
// failure the innermost frames matter most.
func reorderTraceback(tb string) string {
	tb = strings.TrimSpace(tb)
	if tb == "" {
		return ""
	}

	parts := strings.Split(tb, tracebackMarker)
	if len(parts) <= 2 {
		return tb
	}

	segs := parts[1:]
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}

	var b strings.Builder
	if prefix := strings.TrimSpace(parts[0]); prefix != "" {
		b.WriteString(prefix)
		b.WriteByte('\n')
	}
	for i, seg := range segs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(tracebackMarker)
		b.WriteString(strings.TrimRight(seg, "\n"))
	}
	return b.String()
}
