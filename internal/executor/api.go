package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"tasktimer/internal/eventbus"
	"tasktimer/internal/store"
	"tasktimer/internal/timerq"
	logx "tasktimer/pkg/logx"
)

// ScheduleOnce stores the task and arms a timer for it. On fire, action runs
// and the task is removed from the store. A nil action uses the default one.
//
// If the instant is occupied it returns a store.ErrConflict error and arms nothing.
func (s *Service) ScheduleOnce(when time.Time, description string, action Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worker == nil {
		return ErrNotStarted
	}

	if err := s.store.Insert(when, description); err != nil {
		s.log.Warn("task conflict", logx.String("at", store.FormatTime(when)), logx.String("task", description))
		s.publish(eventbus.TaskConflict, eventbus.TaskData{When: when, Description: description, Err: err})
		return err
	}
	key := when.UnixNano()
	if action != nil {
		s.onceAction[key] = action
	} else {
		delete(s.onceAction, key)
	}
	if err := s.armOnceLocked(when, description); err != nil {
		// Roll back so the store never holds a task we could not arm.
		_, _ = s.store.Remove(when)
		delete(s.onceAction, key)
		delete(s.owner, key)
		return err
	}
	s.log.Info("task added", logx.String("task", store.FormatEntry(store.Entry{When: when, Description: description})))
	s.publish(eventbus.TaskAdded, eventbus.TaskData{When: when, Description: description})
	return nil
}

// armOnceLocked arms (or re-arms) the one-shot timer for when. Call with s.mu held.
func (s *Service) armOnceLocked(when time.Time, description string) error {
	key := when.UnixNano()
	if old, ok := s.once[key]; ok {
		s.worker.Cancel(old.handle)
		delete(s.once, key)
	}

	delay := when.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.gen++
	gen := s.gen
	h, err := s.worker.Arm(delay, func() { s.fireOnce(when, gen) })
	if err != nil {
		return err
	}
	s.once[key] = onceTimer{gen: gen, handle: h, description: description}
	s.owner[key] = gen
	s.log.Debug("timer armed", logx.String("at", store.FormatTime(when)), logx.Duration("delay", delay))
	return nil
}

func (s *Service) fireOnce(when time.Time, gen uint64) {
	key := when.UnixNano()
	s.mu.Lock()
	ot, ok := s.once[key]
	// If the task was cancelled or re-armed, ignore this callback.
	if !ok || ot.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.once, key)
	action := s.onceAction[key]
	delete(s.onceAction, key)
	if action == nil {
		action = s.action
	}
	ctx := s.runCtx
	s.mu.Unlock()

	firedAt := s.now()
	s.log.Info("executing task", logx.String("task", ot.description), logx.String("at", store.FormatTime(firedAt)))
	err := s.runAction(ctx, action, ot.description, firedAt)

	// The entry may have been removed, or removed and rescheduled, while
	// the action ran. Only the entry this timer armed is discarded.
	s.mu.Lock()
	if s.owner[key] == gen {
		delete(s.owner, key)
		if _, rmErr := s.store.Remove(when); rmErr != nil && !errors.Is(rmErr, store.ErrNotFound) {
			s.log.Warn("task remove after fire failed", logx.String("at", store.FormatTime(when)), logx.Err(rmErr))
		}
	}
	s.mu.Unlock()
	s.publish(eventbus.TaskFired, eventbus.TaskData{When: when, Description: ot.description, Err: err})
}

// ScheduleRecurring fires action every period, starting at initialWhen (or
// immediately if that is already past). Recurring tasks are not stored.
// The returned ID can be passed to CancelRecurring.
func (s *Service) ScheduleRecurring(initialWhen time.Time, description string, period time.Duration, action Action) (string, error) {
	if period <= 0 {
		return "", ErrInvalidPeriod
	}
	delay := initialWhen.Sub(s.now())
	return s.addRecurring(initialWhen, delay, description, "@every "+period.String(), timerq.Every(period), action)
}

// ScheduleCron fires action on a cron spec ("*/5 * * * *", "0 30 9 * * MON",
// "@hourly"), evaluated in the configured timezone.
func (s *Service) ScheduleCron(spec, description string, action Action) (string, error) {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return "", fmt.Errorf("parse cron %q: %w", spec, err)
	}
	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()
	if loc == nil {
		loc = time.Local
	}
	sched = inLocation{base: sched, loc: loc}
	first := sched.Next(s.now())
	if first.IsZero() {
		return "", fmt.Errorf("cron %q never fires", spec)
	}
	return s.addRecurring(first, first.Sub(s.now()), description, spec, sched, action)
}

// ScheduleEvery accepts anything ParseSchedule understands: a cron spec or a
// fixed interval ("55m", "02:30", "every:10s").
func (s *Service) ScheduleEvery(schedule, description string, action Action) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case SpecCron:
		return s.ScheduleCron(ps.Cron, description, action)
	case SpecInterval:
		return s.ScheduleRecurring(s.now().Add(ps.Every), description, ps.Every, action)
	default:
		return "", fmt.Errorf("unsupported schedule kind")
	}
}

func (s *Service) addRecurring(start time.Time, delay time.Duration, description, spec string, sched cron.Schedule, action Action) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worker == nil {
		return "", ErrNotStarted
	}
	if action == nil {
		action = s.action
	}
	id := uuid.NewString()
	h, err := s.worker.ArmPeriodic(delay, sched, func() { s.fireRecurring(id) })
	if err != nil {
		return "", err
	}
	s.recur[id] = &recurringDef{
		id:          id,
		description: description,
		spec:        spec,
		start:       start,
		sched:       sched,
		handle:      h,
		action:      action,
	}
	s.log.Info("recurring task added",
		logx.String("id", id),
		logx.String("task", store.FormatEntry(store.Entry{When: start, Description: description})),
		logx.String("spec", spec),
	)
	return id, nil
}

func (s *Service) fireRecurring(id string) {
	s.mu.Lock()
	d, ok := s.recur[id]
	ctx := s.runCtx
	s.mu.Unlock()
	if !ok {
		return
	}

	firedAt := s.now()
	s.log.Info("executing recurring task", logx.String("task", d.description), logx.String("at", store.FormatTime(firedAt)))
	err := s.runAction(ctx, d.action, d.description, firedAt)
	s.publish(eventbus.TaskRecurringFired, eventbus.TaskData{When: firedAt, Description: d.description, RecurringID: id, Err: err})
}

// Cancel discards the timers armed for when: the one-shot timer and any
// recurring task that started at that instant. The stored task, if any, is
// left in place. It reports whether anything was cancelled.
func (s *Service) Cancel(when time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := false
	key := when.UnixNano()
	if ot, ok := s.once[key]; ok {
		if s.worker != nil {
			s.worker.Cancel(ot.handle)
		}
		delete(s.once, key)
		cancelled = true
	}
	for id, d := range s.recur {
		if d.start.Equal(when) {
			s.cancelRecurringLocked(id)
			cancelled = true
		}
	}
	if cancelled {
		s.log.Info("timer cancelled", logx.String("at", store.FormatTime(when)))
		s.publish(eventbus.TaskCancelled, eventbus.TaskData{When: when})
	} else {
		s.log.Debug("no timer to cancel", logx.String("at", store.FormatTime(when)))
	}
	return cancelled
}

// CancelRecurring stops a recurring task. It reports whether id was armed.
func (s *Service) CancelRecurring(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.recur[id]
	if !ok {
		return false
	}
	s.cancelRecurringLocked(id)
	s.log.Info("recurring task cancelled", logx.String("id", id), logx.String("task", d.description))
	s.publish(eventbus.TaskCancelled, eventbus.TaskData{When: d.start, Description: d.description, RecurringID: id})
	return true
}

func (s *Service) cancelRecurringLocked(id string) {
	d, ok := s.recur[id]
	if !ok {
		return
	}
	if s.worker != nil {
		s.worker.Cancel(d.handle)
	}
	delete(s.recur, id)
}

// Remove deletes the stored task at when and cancels its timer.
func (s *Service) Remove(when time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	desc, err := s.store.Remove(when)
	if err != nil {
		s.log.Info("task not found", logx.String("at", store.FormatTime(when)))
		return "", err
	}
	key := when.UnixNano()
	if ot, ok := s.once[key]; ok {
		if s.worker != nil {
			s.worker.Cancel(ot.handle)
		}
		delete(s.once, key)
	}
	delete(s.onceAction, key)
	delete(s.owner, key)
	s.log.Info("task removed", logx.String("task", store.FormatEntry(store.Entry{When: when, Description: desc})))
	s.publish(eventbus.TaskRemoved, eventbus.TaskData{When: when, Description: desc})
	return desc, nil
}

// Armed reports whether a one-shot timer is pending for when.
func (s *Service) Armed(when time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.once[when.UnixNano()]
	return ok
}

// runAction runs a with the fire timeout and converts panics to errors so a
// failing task never takes the worker down.
func (s *Service) runAction(ctx context.Context, a Action, description string, firedAt time.Time) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.cfg.FireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.FireTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			s.reportActionError(description, err)
		}
	}()
	return a(ctx, description, firedAt)
}

// inLocation evaluates a cron schedule in a fixed timezone.
type inLocation struct {
	base cron.Schedule
	loc  *time.Location
}

func (s inLocation) Next(t time.Time) time.Time {
	return s.base.Next(t.In(s.loc))
}
