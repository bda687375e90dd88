// Package merge implements the pairwise combination rules used to fold
// streamed deltas into a cumulative value.
//
// Every function returns the merged value and whether it differs from the
// left operand. Inputs are never mutated: when nothing changes the left
// operand is returned as is, otherwise a fresh value is built.
package merge

import (
	"fmt"

	"github.com/tnglemongrass/deltamerge/internal/opt"
)

// Func merges b into a and reports whether the result differs from a.
type Func[T any] func(a, b T) (T, bool)

// Numeric is the set of types merged additively.
type Numeric interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

// Optional merges two optional values.
//
//   - a Present, b not Present: a, unchanged.
//   - a not Present, b Present: b, changed.
//   - both Present: a unless combine is set, then combine(a, b).
//   - a Absent, b Null: Null, changed.
//   - otherwise: a, unchanged.
func Optional[T any](a, b opt.Value[T], combine Func[T]) (opt.Value[T], bool) {
	switch a.State() {
	case opt.Present:
		bv, ok := b.Get()
		if !ok || combine == nil {
			return a, false
		}
		av, _ := a.Get()
		merged, changed := combine(av, bv)
		if !changed {
			return a, false
		}
		return opt.Some(merged), true
	case opt.Null:
		if b.IsPresent() {
			return b, true
		}
		return a, false
	case opt.Absent:
		if b.IsAbsent() {
			return a, false
		}
		return b, true
	}
	panic(&InvariantError{Op: "Optional", Detail: fmt.Sprintf("unknown state %v", a.State())})
}

// String appends b to a. An empty b leaves a unchanged.
func String(a, b string) (string, bool) {
	if b == "" {
		return a, false
	}
	return a + b, true
}

// Number sums a and b. A zero b leaves a unchanged: a genuine zero delta cannot
// be told apart from "no update" on the wire.
func Number[N Numeric](a, b N) (N, bool) {
	if b == 0 {
		return a, false
	}
	return a + b, true
}

// IndexedList upserts the elements of b into a by key.
//
// Elements of b with a key not found in a are appended in b's order.
// Elements with a matching key are merged with item and replace the old
// element only when item reports a change. Unmatched elements of a keep their
// position. An item merge that alters an element's key violates the list's
// identity invariant and panics with an *InvariantError.
func IndexedList[T any, K comparable](a, b []T, key func(T) K, item Func[T]) ([]T, bool) {
	if len(b) == 0 {
		return a, false
	}
	out := a
	owned := false
	own := func() {
		if owned {
			return
		}
		cp := make([]T, len(out), len(out)+len(b))
		copy(cp, out)
		out, owned = cp, true
	}

	changed := false
	for _, bv := range b {
		k := key(bv)
		pos := -1
		for i, av := range out {
			if key(av) == k {
				pos = i
				break
			}
		}
		if pos < 0 {
			own()
			out = append(out, bv)
			changed = true
			continue
		}
		merged, ok := item(out[pos], bv)
		if !ok {
			continue
		}
		if mk := key(merged); mk != k {
			panic(&InvariantError{Op: "IndexedList", Detail: fmt.Sprintf("item merge changed key %v to %v", k, mk)})
		}
		own()
		out[pos] = merged
		changed = true
	}
	return out, changed
}

// UnboundedList appends b to a.
func UnboundedList[T any](a, b []T) ([]T, bool) {
	if len(b) == 0 {
		return a, false
	}
	if len(a) == 0 {
		return b, true
	}
	out := make([]T, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...), true
}
