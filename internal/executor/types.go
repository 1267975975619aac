package executor

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"tasktimer/internal/eventbus"
	"tasktimer/internal/timerq"
	logx "tasktimer/pkg/logx"
)

var (
	ErrNotStarted    = errors.New("executor not started")
	ErrInvalidPeriod = errors.New("recurring period must be > 0")
)

// Config controls the executor.
type Config struct {
	Timezone string // IANA TZ for cron schedules, e.g. "Asia/Jakarta"; empty means Local

	// FireTimeout bounds the context passed to each action. 0 disables it.
	FireTimeout time.Duration

	// FailureLogEvery throttles "action failed" warnings. 0 means 5s.
	FailureLogEvery time.Duration
}

// Action is invoked on the timer worker when a task fires. Errors and panics
// are logged and swallowed; they never stop the worker.
type Action func(ctx context.Context, description string, firedAt time.Time) error

// Clock reports the current instant.
type Clock func() time.Time

type Option func(*Service)

// WithClock overrides the instant used to compute delays and fire times.
func WithClock(now Clock) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(s *Service) {
		if !log.IsZero() {
			s.log = log
		}
	}
}

func WithBus(bus eventbus.Bus) Option {
	return func(s *Service) {
		if bus != nil {
			s.bus = bus
		}
	}
}

// WithAction sets the action used when none is given at schedule time,
// including for tasks re-armed after a reload.
func WithAction(a Action) Option {
	return func(s *Service) {
		if a != nil {
			s.action = a
		}
	}
}

// RecurringInfo describes an armed recurring task.
type RecurringInfo struct {
	ID          string
	Description string
	Spec        string
	Start       time.Time
	Next        time.Time
}

type onceTimer struct {
	gen         uint64
	handle      timerq.Handle
	description string
}

type recurringDef struct {
	id          string
	description string
	spec        string
	start       time.Time
	sched       cron.Schedule
	handle      timerq.Handle
	action      Action
}
