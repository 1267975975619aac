package store

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2023, 1, 1, 9, 0, 0, 0, time.UTC)

func at(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

func descriptions(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Description)
	}
	return out
}

func TestInsertConflictLeavesStoreUnchanged(t *testing.T) {
	t.Parallel()
	s := New()
	require.NoError(t, s.Insert(at(0), "A"))

	err := s.Insert(at(0), "B")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))

	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "A", ce.Existing)

	assert.Equal(t, []Entry{{When: at(0), Description: "A"}}, s.All())
}

func TestConflictComparesInstantsNotLocations(t *testing.T) {
	t.Parallel()
	s := New()
	require.NoError(t, s.Insert(at(0), "utc"))

	jakarta := time.FixedZone("WIB", 7*3600)
	err := s.Insert(at(0).In(jakarta), "same instant")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, s.Len())
}

func TestNextIsMinimum(t *testing.T) {
	t.Parallel()
	s := New()
	_, ok := s.Next()
	assert.False(t, ok, "empty store has no next task")

	rng := rand.New(rand.NewSource(42))
	min := 1 << 30
	for _, m := range rng.Perm(50) {
		require.NoError(t, s.Insert(at(m+10), "t"))
		if m+10 < min {
			min = m + 10
		}
		next, ok := s.Next()
		require.True(t, ok)
		require.True(t, next.When.Equal(at(min)), "next = %v, want %v", next.When, at(min))
	}
}

func TestAllIsAscending(t *testing.T) {
	t.Parallel()
	s := New()
	require.NoError(t, s.Insert(at(30), "Submit Project Report"))
	require.NoError(t, s.Insert(at(0), "Meeting with Team A"))
	require.NoError(t, s.Insert(at(15), "Prepare Presentation"))

	assert.Equal(t,
		[]string{"Meeting with Team A", "Prepare Presentation", "Submit Project Report"},
		descriptions(s.All()))
}

func TestRange(t *testing.T) {
	t.Parallel()
	s := New()
	require.NoError(t, s.Insert(at(1), "T1"))
	require.NoError(t, s.Insert(at(2), "T2"))
	require.NoError(t, s.Insert(at(3), "T3"))

	tests := []struct {
		name       string
		start, end time.Time
		bounds     Bounds
		want       []string
	}{
		{name: "half open", start: at(1), end: at(3), bounds: HalfOpen, want: []string{"T1", "T2"}},
		{name: "closed", start: at(1), end: at(3), bounds: Closed, want: []string{"T1", "T2", "T3"}},
		{name: "open", start: at(1), end: at(3), bounds: Bounds{}, want: []string{"T2"}},
		{name: "left open", start: at(1), end: at(3), bounds: Bounds{IncludeEnd: true}, want: []string{"T2", "T3"}},
		{name: "between keys", start: at(1).Add(time.Second), end: at(2).Add(time.Second), bounds: HalfOpen, want: []string{"T2"}},
		{name: "point closed", start: at(2), end: at(2), bounds: Closed, want: []string{"T2"}},
		{name: "point half open", start: at(2), end: at(2), bounds: HalfOpen, want: []string{}},
		{name: "inverted", start: at(3), end: at(1), bounds: Closed, want: []string{}},
		{name: "outside", start: at(10), end: at(20), bounds: Closed, want: []string{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := s.Range(tt.start, tt.end, tt.bounds)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, descriptions(got))
		})
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	s := New()
	require.NoError(t, s.Insert(at(0), "A"))
	require.NoError(t, s.Insert(at(1), "B"))

	_, err := s.Remove(at(5))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, s.Len())

	desc, err := s.Remove(at(0))
	require.NoError(t, err)
	assert.Equal(t, "A", desc)
	assert.Equal(t, 1, s.Len())

	_, ok := s.Get(at(0))
	assert.False(t, ok)
}

func TestUnixMilliKeys(t *testing.T) {
	t.Parallel()
	s := New()
	require.NoError(t, s.InsertUnixMilli(1672503000000, "Meeting with Team A"))
	require.NoError(t, s.InsertUnixMilli(1672506600000, "Submit Project Report"))
	require.NoError(t, s.InsertUnixMilli(1672504800000, "Prepare Presentation"))
	assert.ErrorIs(t, s.InsertUnixMilli(1672503000000, "dup"), ErrConflict)

	got := s.RangeUnixMilli(1672503000000, 1672506600000, Closed)
	assert.Equal(t, []string{"Meeting with Team A", "Prepare Presentation", "Submit Project Report"}, descriptions(got))

	desc, err := s.RemoveUnixMilli(1672504800000)
	require.NoError(t, err)
	assert.Equal(t, "Prepare Presentation", desc)
}

func TestSnapshotIsDetached(t *testing.T) {
	t.Parallel()
	s := New()
	require.NoError(t, s.Insert(at(0), "A"))
	snap := s.Snapshot()

	require.NoError(t, s.Insert(at(1), "B"))
	_, err := s.Remove(at(0))
	require.NoError(t, err)

	assert.Equal(t, []Entry{{When: at(0), Description: "A"}}, snap.Entries)
}

func TestFromSnapshot(t *testing.T) {
	t.Parallel()
	s, err := FromSnapshot(Snapshot{Entries: []Entry{
		{When: at(2), Description: "C"},
		{When: at(0), Description: "A"},
		{When: at(1), Description: "B"},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, descriptions(s.All()))

	_, err = FromSnapshot(Snapshot{Entries: []Entry{
		{When: at(0), Description: "A"},
		{When: at(0), Description: "B"},
	}})
	assert.ErrorIs(t, err, ErrConflict)

	empty, err := FromSnapshot(Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}

func TestPruneBefore(t *testing.T) {
	t.Parallel()
	s := New()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Insert(at(i), "t"))
	}
	pruned := s.PruneBefore(at(3))
	assert.Len(t, pruned, 3)
	assert.Equal(t, 2, s.Len())
	next, _ := s.Next()
	assert.True(t, next.When.Equal(at(3)))

	assert.Nil(t, s.PruneBefore(at(0)))
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()
	s := New()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		w := w
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				when := at(w*1000 + i)
				_ = s.Insert(when, "x")
				if i%3 == 0 {
					_, _ = s.Remove(when)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				all := s.All()
				for j := 1; j < len(all); j++ {
					if !all[j-1].When.Before(all[j].When) {
						t.Errorf("enumeration out of order at %d", j)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestFormatEntry(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "[2023-01-01 09:00:00] -> A", FormatEntry(Entry{When: at(0), Description: "A"}))
	assert.Equal(t, "[2023-01-01 09:01:00, 2023-01-01 09:03:00)", FormatRange(at(1), at(3), HalfOpen))
}
