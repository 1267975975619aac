package store

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrConflict = errors.New("task conflict")
	ErrNotFound = errors.New("task not found")
)

// Entry is a single scheduled task.
type Entry struct {
	When        time.Time
	Description string
}

// Bounds selects whether each end of a range query is inclusive.
type Bounds struct {
	IncludeStart bool
	IncludeEnd   bool
}

var (
	// HalfOpen matches start <= when < end.
	HalfOpen = Bounds{IncludeStart: true, IncludeEnd: false}
	// Closed matches start <= when <= end.
	Closed = Bounds{IncludeStart: true, IncludeEnd: true}
)

func (b Bounds) String() string {
	l, r := "(", ")"
	if b.IncludeStart {
		l = "["
	}
	if b.IncludeEnd {
		r = "]"
	}
	return l + "start, end" + r
}

// Snapshot is an immutable, ascending copy of a Store's mapping.
// It never carries timer state.
type Snapshot struct {
	Entries []Entry
}

func (s Snapshot) Len() int { return len(s.Entries) }

// ConflictError reports an insert at an instant that is already occupied.
type ConflictError struct {
	When     time.Time
	Existing string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("task conflict: a task is already scheduled at %s", FormatTime(e.When))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a remove of an instant with no task.
type NotFoundError struct {
	When time.Time
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no task found at %s", FormatTime(e.When))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
