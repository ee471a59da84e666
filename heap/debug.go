//go:build debug

package heap

import "fmt"

// debugEnabled mirrors OME_GC_DEBUG: when the debug build tag is set,
// invariant checks that are too expensive for production builds run on
// every mark/compact step, the way hyperpb-go's internal/debug package
// gates its own Assert behind a build tag instead of an environment
// variable (cheaper to check, and it lets the compiler strip the checks
// entirely in a release build).
const debugEnabled = true

// assertf panics with a formatted message if cond is false. Only present in
// debug builds; see assertf in debug_off.go for the release no-op.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("heap: assertion failed: "+format, args...))
	}
}
