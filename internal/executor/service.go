package executor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
	"tasktimer/internal/eventbus"
	"tasktimer/internal/store"
	"tasktimer/internal/timerq"
	logx "tasktimer/pkg/logx"
)

const defaultFailureLogEvery = 5 * time.Second

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	bus    eventbus.Bus
	now    Clock
	action Action
	parser cron.Parser

	store *store.Store

	failLimiter *rate.Limiter

	// runtime state, rebuilt by Start
	worker *timerq.Worker
	runCtx context.Context
	cancel context.CancelFunc
	gen    uint64
	once   map[int64]onceTimer
	recur  map[string]*recurringDef

	// custom one-shot actions survive Stop/Start; keyed like once
	onceAction map[int64]Action

	// owner maps a stored instant to the generation of the timer armed for
	// it. A fire only removes the entry it still owns.
	owner map[int64]uint64
}

// New creates an executor over st. A nil st gets a fresh empty store.
// Nothing fires until Start.
func New(cfg Config, st *store.Store, opts ...Option) *Service {
	if st == nil {
		st = store.New()
	}
	s := &Service{
		cfg:   cfg,
		log:   logx.Nop(),
		bus:   eventbus.Nop(),
		now:   time.Now,
		store: st,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:     cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		once:       map[int64]onceTimer{},
		recur:      map[string]*recurringDef{},
		onceAction: map[int64]Action{},
		owner:      map[int64]uint64{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.action == nil {
		s.action = s.logAction
	}
	every := cfg.FailureLogEvery
	if every <= 0 {
		every = defaultFailureLogEvery
	}
	s.failLimiter = rate.NewLimiter(rate.Every(every), 1)
	return s
}

// Store returns the owned task store.
func (s *Service) Store() *store.Store { return s.store }

// Running reports whether Start has been called without a matching Stop.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worker != nil
}

// Start builds a fresh timer worker and re-arms every stored task that is still
// in the future. Past-due tasks are left in the store untouched.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worker != nil {
		return
	}

	s.loc = s.loadLocationLocked()
	s.worker = timerq.New(s.log.With(logx.String("comp", "timerq")))
	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.once = map[int64]onceTimer{}
	s.recur = map[string]*recurringDef{}

	armed, stale := s.rearmLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("rearmed", armed), logx.Int("stale", stale))
}

// Stop stops the worker and abandons every pending timer without firing it.
// Stored one-shot tasks remain so a later Start can re-arm them; recurring
// tasks are dropped.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	w := s.worker
	cancel := s.cancel
	pending := len(s.once)
	dropped := len(s.recur)
	s.worker = nil
	s.cancel = nil
	s.once = map[int64]onceTimer{}
	s.recur = map[string]*recurringDef{}
	s.mu.Unlock()

	if w == nil {
		return
	}
	w.Stop()
	if cancel != nil {
		cancel()
	}
	select {
	case <-w.Done():
	case <-ctx.Done():
		// best-effort
	}
	s.log.Info("service stopped",
		logx.Int("abandoned", pending),
		logx.Int("recurring_dropped", dropped),
		logx.Duration("took", time.Since(start)),
	)
}

// rearmLocked recreates one-shot timers from the stored tasks. Call with s.mu held.
func (s *Service) rearmLocked() (armed, stale int) {
	now := s.now()
	for _, e := range s.store.All() {
		if !e.When.After(now) {
			stale++
			s.log.Warn("stale task left in store", logx.String("task", store.FormatEntry(e)))
			continue
		}
		if err := s.armOnceLocked(e.When, e.Description); err != nil {
			s.log.Error("task rearm failed", logx.String("task", store.FormatEntry(e)), logx.Err(err))
			continue
		}
		armed++
	}
	return armed, stale
}

// PruneStale removes stored tasks whose instant has already passed.
func (s *Service) PruneStale() []store.Entry {
	pruned := s.store.PruneBefore(s.now())
	s.mu.Lock()
	for _, e := range pruned {
		delete(s.onceAction, e.When.UnixNano())
		delete(s.owner, e.When.UnixNano())
	}
	s.mu.Unlock()
	for _, e := range pruned {
		s.log.Info("stale task pruned", logx.String("task", store.FormatEntry(e)))
	}
	return pruned
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) logAction(_ context.Context, description string, firedAt time.Time) error {
	s.log.Info("task action", logx.String("task", description), logx.String("at", store.FormatTime(firedAt)))
	return nil
}

func (s *Service) publish(typ string, data eventbus.TaskData) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}
