// Package opt provides a three-state optional value that distinguishes an
// absent JSON key from an explicit null.
package opt

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// State is the presence state of a Value.
type State uint8

const (
	// Absent means the field was never set (missing JSON key).
	Absent State = iota
	// Null means the field was explicitly set to JSON null.
	Null
	// Present means the field holds a value.
	Present
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Null:
		return "null"
	case Present:
		return "present"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Value is an optional T. The zero Value is Absent.
//
// Struct fields of type Value should be tagged `omitzero` so that Absent
// fields are left out when encoding.
type Value[T any] struct {
	state State
	v     T
}

// Some returns a Present value holding v.
func Some[T any](v T) Value[T] {
	return Value[T]{state: Present, v: v}
}

// NullOf returns an explicit Null value.
func NullOf[T any]() Value[T] {
	return Value[T]{state: Null}
}

// NonZero returns Some(v) unless v is the zero value of T, in which case it
// returns Absent. Adapters use it for wire formats that encode "not set" as
// the zero value.
func NonZero[T comparable](v T) Value[T] {
	var zero T
	if v == zero {
		return Value[T]{}
	}
	return Some(v)
}

// State reports the presence state.
func (o Value[T]) State() State { return o.state }

// IsAbsent reports whether the value was never set.
func (o Value[T]) IsAbsent() bool { return o.state == Absent }

// IsNull reports whether the value is an explicit null.
func (o Value[T]) IsNull() bool { return o.state == Null }

// IsPresent reports whether the value holds a T.
func (o Value[T]) IsPresent() bool { return o.state == Present }

// IsZero reports whether the value is Absent. It makes `omitzero` drop
// Absent fields.
func (o Value[T]) IsZero() bool { return o.state == Absent }

// Get returns the held value and whether it is Present.
func (o Value[T]) Get() (T, bool) {
	return o.v, o.state == Present
}

// Or returns the held value, or def when the value is not Present.
func (o Value[T]) Or(def T) T {
	if o.state == Present {
		return o.v
	}
	return def
}

// MarshalJSON encodes Present values as T and everything else as null.
func (o Value[T]) MarshalJSON() ([]byte, error) {
	if o.state != Present {
		return []byte("null"), nil
	}
	return json.Marshal(o.v)
}

// UnmarshalJSON decodes null as Null and any other value as Present.
// A missing key never reaches this method and stays Absent.
func (o *Value[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		o.state, o.v = Null, zero
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.state, o.v = Present, v
	return nil
}

// String implements fmt.Stringer.
func (o Value[T]) String() string {
	if o.state == Present {
		return fmt.Sprint(o.v)
	}
	return "<" + o.state.String() + ">"
}
