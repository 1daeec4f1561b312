package canonicalize

import "fmt"

// SerializationError reports a value that has no canonical form: a cycle,
// a non-finite or inexact number, invalid UTF-8, or a type encoding/json
// cannot represent. It is never recovered from automatically.
type SerializationError struct {
	Path   string
	Reason string
	Err    error
}

func (e *SerializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("canonicalize: %s at %s: %v", e.Reason, e.Path, e.Err)
	}
	return fmt.Sprintf("canonicalize: %s at %s", e.Reason, e.Path)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}
