package catalog

import "errors"

var (
	// ErrNotFound indicates the requested catalog entity does not exist.
	ErrNotFound = errors.New("catalog: not found")
	// ErrMergeConflict indicates a concurrent rename/merge touched the same
	// store pair; the operation can be retried.
	ErrMergeConflict = errors.New("catalog: merge conflict")
	// ErrCategoryCycle indicates a parent assignment that would close a loop
	// in the category tree.
	ErrCategoryCycle = errors.New("catalog: category cycle")
)
