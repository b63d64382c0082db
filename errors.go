package compcache

import "fmt"

// InvariantError reports an internal inconsistency (e.g. an unexpected
// value type surfacing from the in-flight group). It is logged and the
// offending request falls back to an uncached real compile; it never
// propagates to the caller as a build failure.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("internal invariant violated: %s", e.Reason)
}
