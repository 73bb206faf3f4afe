package arraystore

import (
	"errors"
	"fmt"
)

// ErrIncompatibleDataset is returned (wrapped in *BackendIOError) when the
// dataset in an existing file has a different record shape or element
// type than the Store
var ErrIncompatibleDataset = errors.New("dataset is incompatible with the store")

// ShapeMismatchError is returned by Append when values don't have a shape
// compatible with the record shape. Nothing is written to the file.
type ShapeMismatchError struct {
	RecordShape []int
	Got         []int
	Reason      string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch: record shape %v, got %v: %s", e.RecordShape, e.Got, e.Reason)
}

// BackendIOError is returned when the storage backend fails.
//
// The underlying error can be accessed via errors.Unwrap.
type BackendIOError struct {
	// operation that failed e.g. "open", "resize", "write", "flush"
	Op   string
	Path string
	Err  error
}

func (e *BackendIOError) Error() string {
	return fmt.Sprintf("arraystore: %s '%s': %s", e.Op, e.Path, e.Err)
}

func (e *BackendIOError) Unwrap() error { return e.Err }
