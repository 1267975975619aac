package persist

import (
	"errors"
	"fmt"
)

// ErrPersistence matches every save/load failure.
var ErrPersistence = errors.New("persistence failure")

// Error is a save/load failure. It matches ErrPersistence and unwraps to the cause.
type Error struct {
	Op   string // "save" | "load" | "open"
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrPersistence }

func fail(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Op: op, Path: path, Err: err}
}
