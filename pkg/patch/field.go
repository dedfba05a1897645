// Package patch provides a tri-state field for partial updates: a JSON key
// that is absent stays Unset, a present key (even null) is Set.
package patch

import (
	"bytes"
	"encoding/json"
)

// Field is Unset or Some(Value). Null is reported through Null.
type Field[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Some returns a set field holding v.
func Some[T any](v T) Field[T] { return Field[T]{Set: true, Value: v} }

func (f *Field[T]) UnmarshalJSON(b []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		f.Null = true
		var zero T
		f.Value = zero
		return nil
	}
	return json.Unmarshal(b, &f.Value)
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.Set || f.Null {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// Present reports whether the field carries a non-null value.
func (f Field[T]) Present() bool { return f.Set && !f.Null }
