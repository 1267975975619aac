package executor

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tasktimer/internal/eventbus"
	"tasktimer/internal/store"
	logx "tasktimer/pkg/logx"
)

const waitLimit = 2 * time.Second

type harness struct {
	svc    *Service
	events <-chan eventbus.Event
}

func start(t *testing.T, st *store.Store, opts ...Option) harness {
	t.Helper()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	svc := New(Config{}, st, append([]Option{WithBus(bus)}, opts...)...)
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svc.Stop(ctx)
		unsub()
	})
	return harness{svc: svc, events: events}
}

func (h harness) await(t *testing.T, typ string) eventbus.TaskData {
	t.Helper()
	deadline := time.After(waitLimit)
	for {
		select {
		case e := <-h.events:
			if e.Type == typ {
				return e.Data.(eventbus.TaskData)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func fixedClock(t time.Time) Clock { return func() time.Time { return t } }

func TestScheduleOnceConflict(t *testing.T) {
	t.Parallel()
	h := start(t, nil)
	when := time.Now().Add(time.Hour)

	require.NoError(t, h.svc.ScheduleOnce(when, "A", nil))
	err := h.svc.ScheduleOnce(when, "B", nil)
	require.ErrorIs(t, err, store.ErrConflict)

	assert.Equal(t, []store.Entry{{When: when, Description: "A"}}, h.svc.Store().All())
	assert.True(t, h.svc.Armed(when))
	data := h.await(t, eventbus.TaskConflict)
	assert.Equal(t, "B", data.Description)
}

func TestPastDueOneShotFiresAndIsRemoved(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var got atomic.Value
	h := start(t, nil, WithClock(fixedClock(now)))

	err := h.svc.ScheduleOnce(now.Add(-time.Hour), "late", func(_ context.Context, desc string, firedAt time.Time) error {
		got.Store(desc + "@" + firedAt.Format(time.RFC3339))
		return nil
	})
	require.NoError(t, err)

	data := h.await(t, eventbus.TaskFired)
	assert.Equal(t, "late", data.Description)
	assert.Equal(t, "late@2024-05-01T12:00:00Z", got.Load())
	assert.Equal(t, 0, h.svc.Store().Len())
	assert.False(t, h.svc.Armed(now.Add(-time.Hour)))
}

func TestOneShotWaitsForDelay(t *testing.T) {
	t.Parallel()
	h := start(t, nil)
	begin := time.Now()
	when := begin.Add(40 * time.Millisecond)
	require.NoError(t, h.svc.ScheduleOnce(when, "soon", nil))

	_, ok := h.svc.Store().Get(when)
	require.True(t, ok, "task must be stored until it fires")

	h.await(t, eventbus.TaskFired)
	assert.GreaterOrEqual(t, time.Since(begin), 40*time.Millisecond)
	assert.Equal(t, 0, h.svc.Store().Len())
}

func TestFireToleratesMissingStoreEntry(t *testing.T) {
	t.Parallel()
	h := start(t, nil)
	when := time.Now().Add(30 * time.Millisecond)
	fired := make(chan struct{})
	require.NoError(t, h.svc.ScheduleOnce(when, "gone", func(context.Context, string, time.Time) error {
		close(fired)
		return nil
	}))
	_, err := h.svc.Store().Remove(when)
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(waitLimit):
		t.Fatal("timer should still fire after direct store removal")
	}
	data := h.await(t, eventbus.TaskFired)
	assert.NoError(t, data.Err)
}

func TestFireKeepsTaskRescheduledDuringAction(t *testing.T) {
	t.Parallel()
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var now atomic.Value
	now.Store(when)
	h := start(t, nil, WithClock(func() time.Time { return now.Load().(time.Time) }))

	running := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, h.svc.ScheduleOnce(when, "A", func(context.Context, string, time.Time) error {
		close(running)
		<-release
		return nil
	}))

	select {
	case <-running:
	case <-time.After(waitLimit):
		t.Fatal("A did not fire")
	}
	desc, err := h.svc.Remove(when)
	require.NoError(t, err)
	assert.Equal(t, "A", desc)

	now.Store(when.Add(-time.Hour))
	require.NoError(t, h.svc.ScheduleOnce(when, "B", nil))
	close(release)

	data := h.await(t, eventbus.TaskFired)
	require.Equal(t, "A", data.Description)

	got, ok := h.svc.Store().Get(when)
	require.True(t, ok, "B must survive A's fire")
	assert.Equal(t, "B", got)
	assert.True(t, h.svc.Armed(when))
	assert.Equal(t, 1, h.svc.Store().Len())
}

func TestCancelKeepsStoredTask(t *testing.T) {
	t.Parallel()
	h := start(t, nil)
	when := time.Now().Add(30 * time.Millisecond)
	var fired atomic.Bool
	require.NoError(t, h.svc.ScheduleOnce(when, "keep", func(context.Context, string, time.Time) error {
		fired.Store(true)
		return nil
	}))

	assert.True(t, h.svc.Cancel(when))
	assert.False(t, h.svc.Cancel(when))
	assert.False(t, h.svc.Cancel(when.Add(time.Hour)))

	time.Sleep(80 * time.Millisecond)
	assert.False(t, fired.Load())
	desc, ok := h.svc.Store().Get(when)
	assert.True(t, ok)
	assert.Equal(t, "keep", desc)
}

func TestRemoveCancelsTimer(t *testing.T) {
	t.Parallel()
	h := start(t, nil)
	when := time.Now().Add(30 * time.Millisecond)
	var fired atomic.Bool
	require.NoError(t, h.svc.ScheduleOnce(when, "drop", func(context.Context, string, time.Time) error {
		fired.Store(true)
		return nil
	}))

	desc, err := h.svc.Remove(when)
	require.NoError(t, err)
	assert.Equal(t, "drop", desc)

	_, err = h.svc.Remove(when)
	assert.ErrorIs(t, err, store.ErrNotFound)

	time.Sleep(80 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestRecurringFiresUntilCancelled(t *testing.T) {
	t.Parallel()
	h := start(t, nil)
	var count atomic.Int32
	id, err := h.svc.ScheduleRecurring(time.Now().Add(10*time.Millisecond), "Daily Reminder", 15*time.Millisecond,
		func(_ context.Context, desc string, _ time.Time) error {
			assert.Equal(t, "Daily Reminder", desc)
			count.Add(1)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 0, h.svc.Store().Len(), "recurring tasks are not stored")

	for i := 0; i < 3; i++ {
		data := h.await(t, eventbus.TaskRecurringFired)
		assert.Equal(t, id, data.RecurringID)
	}
	infos := h.svc.Recurring()
	require.Len(t, infos, 1)
	assert.Equal(t, id, infos[0].ID)
	assert.Equal(t, "@every 15ms", infos[0].Spec)

	require.True(t, h.svc.CancelRecurring(id))
	assert.False(t, h.svc.CancelRecurring(id))
	after := count.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, count.Load())
	assert.Empty(t, h.svc.Recurring())
}

func TestCancelByInstantStopsRecurring(t *testing.T) {
	t.Parallel()
	h := start(t, nil)
	first := time.Now().Add(time.Hour)
	_, err := h.svc.ScheduleRecurring(first, "hourly", time.Hour, nil)
	require.NoError(t, err)
	assert.True(t, h.svc.Cancel(first))
	assert.Empty(t, h.svc.Recurring())
}

func TestRecurringRejectsBadPeriod(t *testing.T) {
	t.Parallel()
	h := start(t, nil)
	_, err := h.svc.ScheduleRecurring(time.Now(), "x", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestScheduleCronAndEvery(t *testing.T) {
	t.Parallel()
	h := start(t, nil)

	_, err := h.svc.ScheduleCron("not cron at all", "x", nil)
	assert.Error(t, err)

	cronID, err := h.svc.ScheduleCron("0 0 * * *", "midnight", nil)
	require.NoError(t, err)

	everyID, err := h.svc.ScheduleEvery("every:20ms", "ping", nil)
	require.NoError(t, err)
	data := h.await(t, eventbus.TaskRecurringFired)
	assert.Equal(t, everyID, data.RecurringID)

	infos := h.svc.Recurring()
	require.Len(t, infos, 2)
	assert.Equal(t, everyID, infos[0].ID, "20ms interval fires before midnight")
	assert.Equal(t, cronID, infos[1].ID)
	assert.Equal(t, "0 0 * * *", infos[1].Spec)
}

func TestNotStarted(t *testing.T) {
	t.Parallel()
	svc := New(Config{}, nil)
	assert.ErrorIs(t, svc.ScheduleOnce(time.Now(), "x", nil), ErrNotStarted)
	_, err := svc.ScheduleRecurring(time.Now(), "x", time.Second, nil)
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.Equal(t, 0, svc.Store().Len())
	assert.False(t, svc.Cancel(time.Now()))
}

func TestStartRearmsFutureTasksOnly(t *testing.T) {
	t.Parallel()
	now := time.Now()
	st := store.New()
	require.NoError(t, st.Insert(now.Add(-time.Hour), "stale"))
	require.NoError(t, st.Insert(now.Add(30*time.Millisecond), "future"))

	h := start(t, st)
	assert.True(t, h.svc.Armed(now.Add(30*time.Millisecond)))
	assert.False(t, h.svc.Armed(now.Add(-time.Hour)))

	data := h.await(t, eventbus.TaskFired)
	assert.Equal(t, "future", data.Description)
	assert.Equal(t, []store.Entry{{When: now.Add(-time.Hour), Description: "stale"}}, st.All())

	pruned := h.svc.PruneStale()
	assert.Len(t, pruned, 1)
	assert.Equal(t, 0, st.Len())
}

func TestStopAbandonsAndRestartRearms(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	svc := New(Config{}, nil, WithBus(bus))
	svc.Start(context.Background())

	when := time.Now().Add(200 * time.Millisecond)
	var calls atomic.Int32
	require.NoError(t, svc.ScheduleOnce(when, "survivor", func(context.Context, string, time.Time) error {
		calls.Add(1)
		return nil
	}))
	_, err := svc.ScheduleRecurring(time.Now().Add(time.Hour), "lost", time.Hour, nil)
	require.NoError(t, err)

	svc.Stop(context.Background())
	assert.False(t, svc.Running())
	assert.Equal(t, 1, svc.Store().Len(), "stop keeps stored tasks")
	assert.ErrorIs(t, svc.ScheduleOnce(when.Add(time.Second), "x", nil), ErrNotStarted)

	svc.Start(context.Background())
	defer svc.Stop(context.Background())
	assert.Empty(t, svc.Recurring(), "recurring tasks do not survive a restart")

	deadline := time.After(waitLimit)
	for calls.Load() == 0 {
		select {
		case <-events:
		case <-deadline:
			t.Fatal("re-armed task did not fire with its original action")
		}
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestFailingActionsDoNotStopWorker(t *testing.T) {
	t.Parallel()
	h := start(t, nil)
	now := time.Now()
	require.NoError(t, h.svc.ScheduleOnce(now.Add(5*time.Millisecond), "errors", func(context.Context, string, time.Time) error {
		return errors.New("boom")
	}))
	require.NoError(t, h.svc.ScheduleOnce(now.Add(10*time.Millisecond), "panics", func(context.Context, string, time.Time) error {
		panic("kaboom")
	}))
	ok := make(chan struct{})
	require.NoError(t, h.svc.ScheduleOnce(now.Add(20*time.Millisecond), "fine", func(context.Context, string, time.Time) error {
		close(ok)
		return nil
	}))

	select {
	case <-ok:
	case <-time.After(waitLimit):
		t.Fatal("worker stopped after failing actions")
	}
	failed := 0
	for {
		data := h.await(t, eventbus.TaskFired)
		if data.Err != nil {
			failed++
		}
		if data.Description == "fine" {
			break
		}
	}
	assert.Equal(t, 2, failed)
	assert.Equal(t, 0, h.svc.Store().Len(), "failed tasks are still removed after firing")
}

func TestFireTimeoutBoundsActionContext(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	svc := New(Config{FireTimeout: 10 * time.Millisecond}, nil, WithBus(bus))
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	require.NoError(t, svc.ScheduleOnce(time.Now(), "slow", func(ctx context.Context, _ string, _ time.Time) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	deadline := time.After(waitLimit)
	for {
		select {
		case e := <-events:
			if e.Type == eventbus.TaskFired {
				assert.ErrorIs(t, e.Data.(eventbus.TaskData).Err, context.DeadlineExceeded)
				return
			}
		case <-deadline:
			t.Fatal("timed out")
		}
	}
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestReportMessages(t *testing.T) {
	t.Parallel()
	buf := &syncBuffer{}
	now := time.Date(2023, 1, 1, 9, 0, 0, 0, time.UTC)
	svc := New(Config{}, nil, WithLogger(logx.NewJSON(buf, "debug")), WithClock(fixedClock(now)))

	_, ok := svc.Next()
	assert.False(t, ok)
	svc.Range(now, now.Add(time.Hour), store.HalfOpen)
	svc.All()
	for _, msg := range []string{"no tasks available", "no tasks in range", "no tasks scheduled"} {
		assert.Contains(t, buf.String(), `"message":"`+msg+`"`)
	}

	require.NoError(t, svc.Store().Insert(now.Add(10*time.Minute), "Morning Meeting"))
	next, ok := svc.Next()
	require.True(t, ok)
	assert.Equal(t, "Morning Meeting", next.Description)
	assert.Len(t, svc.Range(now, now.Add(time.Hour), store.Closed), 1)
	assert.Len(t, svc.All(), 1)

	out := buf.String()
	assert.Contains(t, out, `"message":"next task"`)
	assert.Contains(t, out, `"due":"10 minutes from now"`)
	assert.Contains(t, out, `"message":"tasks in range"`)
	assert.Contains(t, out, `"message":"all scheduled tasks"`)
	assert.Contains(t, out, `[2023-01-01 09:10:00] -> Morning Meeting`)
}
