package pool

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrEmptyBox is returned when a value is retrieved from a Box that holds
// nothing, such as the sentinel result of a rejected submission.
var ErrEmptyBox = errors.New("box holds no value")

// Box holds a single value of an arbitrary concrete type. A task produces a
// Box once and the submitter consumes it once; the zero Box is empty and
// doubles as the sentinel result.
type Box struct {
	val any
	ok  bool
}

// NewBox wraps v. The concrete type of v is fixed at this point and must be
// named exactly on retrieval.
func NewBox(v any) Box {
	return Box{val: v, ok: true}
}

// Empty reports whether the box holds no value.
func (b Box) Empty() bool { return !b.ok }

// Raw returns the stored value without a type check, or nil for an empty box.
func (b Box) Raw() any { return b.val }

// TypeMismatchError reports a retrieval that named the wrong concrete type.
type TypeMismatchError struct {
	Want reflect.Type // type the caller asked for
	Got  reflect.Type // concrete type actually stored
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("box holds %v, not %v", e.Got, e.Want)
}

// As retrieves the boxed value as type T. The stored concrete type must match
// T exactly; a mismatch yields a *TypeMismatchError rather than a zero value,
// since a wrong type names a bug at the call site.
func As[T any](b Box) (T, error) {
	var zero T
	if !b.ok {
		return zero, ErrEmptyBox
	}

	v, ok := b.val.(T)
	if !ok {
		return zero, &TypeMismatchError{
			Want: reflect.TypeOf(zero),
			Got:  reflect.TypeOf(b.val),
		}
	}
	return v, nil
}
