package store

import (
	"errors"
	"fmt"
)

// ErrStorageFault marks local persistence failures. Callers must surface
// these immediately; they are never absorbed into retry state.
var ErrStorageFault = errors.New("storage fault")

// ErrClosed is returned when an operation is attempted on a closed store.
var ErrClosed = errors.New("store closed")

func storageFault(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageFault, op, err)
}
