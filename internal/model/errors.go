package model

import (
	"errors"
	"fmt"
)

// ErrTaskCancelled is returned by background tasks that honoured a cancel request.
var ErrTaskCancelled = errors.New("task cancelled")

// ErrNotFound is wrapped by StoreError when a lookup matched nothing.
var ErrNotFound = errors.New("not found")

// StoreError reports any failure reaching through to the event store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// WrapStoreError wraps err as a StoreError for op. Nil stays nil and an
// existing StoreError is returned unchanged.
func WrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err carries a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
