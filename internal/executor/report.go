package executor

import (
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"tasktimer/internal/eventbus"
	"tasktimer/internal/store"
	logx "tasktimer/pkg/logx"
)

// Next reports and returns the earliest stored task.
func (s *Service) Next() (store.Entry, bool) {
	e, ok := s.store.Next()
	if !ok {
		s.log.Info("no tasks available")
		return e, false
	}
	s.log.Info("next task",
		logx.String("task", store.FormatEntry(e)),
		logx.String("due", humanize.RelTime(e.When, s.now(), "ago", "from now")),
	)
	return e, true
}

// Range reports and returns the stored tasks between start and end.
func (s *Service) Range(start, end time.Time, b store.Bounds) []store.Entry {
	entries := s.store.Range(start, end, b)
	rng := store.FormatRange(start, end, b)
	if len(entries) == 0 {
		s.log.Info("no tasks in range", logx.String("range", rng))
		return entries
	}
	s.log.Info("tasks in range", logx.String("range", rng), logx.Int("count", len(entries)))
	s.logEntries(entries)
	return entries
}

// All reports and returns every stored task.
func (s *Service) All() []store.Entry {
	entries := s.store.All()
	if len(entries) == 0 {
		s.log.Info("no tasks scheduled")
		return entries
	}
	s.log.Info("all scheduled tasks", logx.Int("count", len(entries)))
	s.logEntries(entries)
	return entries
}

func (s *Service) logEntries(entries []store.Entry) {
	for _, e := range entries {
		s.log.Info("task", logx.String("task", store.FormatEntry(e)))
	}
}

// Recurring lists armed recurring tasks ordered by their next fire.
func (s *Service) Recurring() []RecurringInfo {
	s.mu.Lock()
	w := s.worker
	out := make([]RecurringInfo, 0, len(s.recur))
	for _, d := range s.recur {
		it := RecurringInfo{ID: d.id, Description: d.description, Spec: d.spec, Start: d.start}
		if w != nil {
			if next, ok := w.Next(d.handle); ok {
				// Worker due times are monotonic-clock based; report them in wall time.
				it.Next = s.now().Add(time.Until(next))
			}
		}
		out = append(out, it)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Next.Equal(out[j].Next) {
			return out[i].ID < out[j].ID
		}
		return out[i].Next.Before(out[j].Next)
	})
	return out
}

// reportActionError logs action failures, throttled so a failing recurring
// task can't flood the log.
func (s *Service) reportActionError(description string, err error) {
	s.publish(eventbus.TaskActionFailed, eventbus.TaskData{Description: description, Err: err})
	if !s.failLimiter.Allow() {
		s.log.Debug("task action failed (throttled)", logx.String("task", description), logx.Err(err))
		return
	}
	s.log.Warn("task action failed", logx.String("task", description), logx.Err(err))
}
