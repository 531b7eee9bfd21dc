// Package xutil holds the small, dependency-free helpers shared across the
// compiler pipeline: assertions, bitmaps, sets and the arena allocator.
package xutil

import "fmt"

// Assert panics with a formatted message when cond is false. It exists for
// compiler-internal invariants, never for user-facing source errors (those
// go through internal/diag.Error instead).
func Assert(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// Unimplement marks a code path that is known to be missing.
func Unimplement() {
	panic("mpsl: not implemented")
}

// ShouldNotReachHere marks a code path that the compiler believes is
// unreachable given prior validation.
func ShouldNotReachHere() {
	panic("mpsl: should not reach here")
}

// Any reports whether c equals any of cs.
func Any[T comparable](c T, cs ...T) bool {
	for _, v := range cs {
		if c == v {
			return true
		}
	}
	return false
}

// Align rounds n up to the next multiple of align. align must be a power of two.
func Align(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// Align16 rounds n up to the next multiple of 16, the alignment every
// layout member of vector width >= 2 and every host Value requires.
func Align16(n int) int {
	return Align(n, 16)
}
