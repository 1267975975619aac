package store

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store is safe for concurrent use. Readers always observe a complete mutation.
type Store struct {
	mu      sync.RWMutex
	entries []Entry // ascending by When, unique instants
}

func New() *Store {
	return &Store{}
}

// FromSnapshot rebuilds a Store from a snapshot. Entries may arrive in any
// order; duplicate instants are rejected so a corrupt snapshot never yields a
// partially populated store.
func FromSnapshot(snap Snapshot) (*Store, error) {
	entries := make([]Entry, len(snap.Entries))
	copy(entries, snap.Entries)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].When.Before(entries[j].When) })
	for i := 1; i < len(entries); i++ {
		if entries[i].When.Equal(entries[i-1].When) {
			return nil, fmt.Errorf("snapshot entry %d: %w", i, &ConflictError{When: entries[i].When, Existing: entries[i-1].Description})
		}
	}
	return &Store{entries: entries}, nil
}

// lowerBound returns the first index whose instant is >= t.
// Call with s.mu held.
func (s *Store) lowerBound(t time.Time) int {
	return sort.Search(len(s.entries), func(i int) bool { return !s.entries[i].When.Before(t) })
}

// upperBound returns the first index whose instant is > t.
// Call with s.mu held.
func (s *Store) upperBound(t time.Time) int {
	return sort.Search(len(s.entries), func(i int) bool { return s.entries[i].When.After(t) })
}

// Insert adds a task at when. It fails with a *ConflictError (ErrConflict) if
// the instant is already occupied; the store is unchanged in that case.
func (s *Store) Insert(when time.Time, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.lowerBound(when)
	if i < len(s.entries) && s.entries[i].When.Equal(when) {
		return &ConflictError{When: when, Existing: s.entries[i].Description}
	}
	s.entries = append(s.entries, Entry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = Entry{When: when, Description: description}
	return nil
}

// Remove deletes the task at when and returns its description.
// It fails with a *NotFoundError (ErrNotFound) if no task exists there.
func (s *Store) Remove(when time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.lowerBound(when)
	if i >= len(s.entries) || !s.entries[i].When.Equal(when) {
		return "", &NotFoundError{When: when}
	}
	desc := s.entries[i].Description
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return desc, nil
}

// Get returns the description stored at when.
func (s *Store) Get(when time.Time) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.lowerBound(when)
	if i >= len(s.entries) || !s.entries[i].When.Equal(when) {
		return "", false
	}
	return s.entries[i].Description, true
}

// Next returns the earliest task.
func (s *Store) Next() (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[0], true
}

// Range returns the tasks between start and end, ascending, honoring b on each
// bound independently. An inverted interval yields an empty result.
func (s *Store) Range(start, end time.Time, b Bounds) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if start.After(end) {
		return []Entry{}
	}
	lo := s.upperBound(start)
	if b.IncludeStart {
		lo = s.lowerBound(start)
	}
	hi := s.lowerBound(end)
	if b.IncludeEnd {
		hi = s.upperBound(end)
	}
	if lo >= hi {
		return []Entry{}
	}
	out := make([]Entry, hi-lo)
	copy(out, s.entries[lo:hi])
	return out
}

// All returns every task, ascending.
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot returns an immutable copy of the mapping for persistence.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{Entries: s.All()}
}

// PruneBefore removes every task due strictly before t and returns them.
func (s *Store) PruneBefore(t time.Time) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.lowerBound(t)
	if n == 0 {
		return nil
	}
	pruned := make([]Entry, n)
	copy(pruned, s.entries[:n])
	s.entries = append(s.entries[:0], s.entries[n:]...)
	return pruned
}

// ---- Raw timestamp keys (milliseconds since the Unix epoch) ----

func (s *Store) InsertUnixMilli(ts int64, description string) error {
	return s.Insert(time.UnixMilli(ts), description)
}

func (s *Store) RemoveUnixMilli(ts int64) (string, error) {
	return s.Remove(time.UnixMilli(ts))
}

func (s *Store) RangeUnixMilli(start, end int64, b Bounds) []Entry {
	return s.Range(time.UnixMilli(start), time.UnixMilli(end), b)
}
