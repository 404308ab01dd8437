package buffer

import (
	"errors"
	"fmt"
)

var (
	ErrBufferClosed = errors.New("buffer closed")
	ErrWouldBlock   = errors.New("no data buffered")
	ErrArenaFull    = errors.New("arena capacity exceeded")
)

// CapacityError reports a write that can never fit a fixed-capacity buffer.
type CapacityError struct {
	Owner    string
	Required int
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: %d bytes exceeds capacity of %d bytes", e.Owner, e.Required, e.Capacity)
}

func (e *CapacityError) Unwrap() error { return ErrArenaFull }
