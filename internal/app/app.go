// Package app wires configuration, logging, persistence and the executor
// into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"tasktimer/internal/config"
	"tasktimer/internal/eventbus"
	"tasktimer/internal/executor"
	"tasktimer/internal/persist"
	"tasktimer/internal/runtime/supervisor"
	"tasktimer/internal/store"
	logx "tasktimer/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager
	sup     *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	backend persist.Backend
	exec    *executor.Service
	now     executor.Clock

	saveOnStop atomic.Bool
}

type Option func(*options)

type options struct {
	action executor.Action
	clock  executor.Clock
}

// WithAction replaces the default "log the description" action for every task.
func WithAction(a executor.Action) Option { return func(o *options) { o.action = a } }

// WithClock overrides the executor clock.
func WithClock(c executor.Clock) Option { return func(o *options) { o.clock = c } }

// New loads the config, opens persistence and returns an app whose executor
// is already started with every future persisted task re-armed.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	ecfg, err := mapExecutorConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	bus := eventbus.New()
	eopts := []executor.Option{
		executor.WithLogger(log.With(logx.String("comp", "executor"))),
		executor.WithBus(bus),
	}
	if o.action != nil {
		eopts = append(eopts, executor.WithAction(o.action))
	}
	if o.clock != nil {
		eopts = append(eopts, executor.WithClock(o.clock))
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		now:     time.Now,
	}
	if o.clock != nil {
		a.now = o.clock
	}
	a.saveOnStop.Store(cfg.Persistence.SaveOnStop)

	pc, enabled, err := mapPersistConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	if !enabled {
		a.exec = executor.New(ecfg, store.New(), eopts...)
		a.exec.Start(ctx)
		log.Info("persistence disabled")
		return a, nil
	}

	backend, err := persist.Open(pc, log.With(logx.String("comp", "persist")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.backend = backend
	a.exec, err = persist.LoadExecutor(ctx, backend, ecfg, persist.RehydrateOptions{
		MissingOK:  true,
		PruneStale: cfg.Persistence.PruneStaleOnLoad,
	}, eopts...)
	if err != nil {
		_ = backend.Close()
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("persistence enabled",
		logx.String("driver", backend.Name()),
		logx.String("path", pc.Path),
		logx.Int("tasks", a.exec.Store().Len()),
	)
	return a, nil
}

func (a *App) Executor() *executor.Service { return a.exec }

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Now reads the app clock.
func (a *App) Now() time.Time { return a.now() }

// Location is the configured executor timezone, used to read wall-clock input.
func (a *App) Location() *time.Location {
	if tz := strings.TrimSpace(a.cfgm.Get().Executor.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.Local
}

// Done is closed when the supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start seeds the configured tasks and starts the background loops: config
// hot reload and the event log.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.seed(a.cfgm.Get().Tasks); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				logEvent(a.log, e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	})
	a.sup.GoRestart("config.watch", 250*time.Millisecond, 30*time.Second, a.cfgm.Watch)

	a.log.Info("app started", logx.Int("tasks", a.exec.Store().Len()))
	return nil
}

// seed schedules the configured tasks. A seed that collides with a stored
// task is skipped.
func (a *App) seed(tasks []config.TaskConfig) error {
	now, loc := a.now(), a.Location()
	for i, t := range tasks {
		every := strings.TrimSpace(t.Every)
		at := strings.TrimSpace(t.At)
		switch {
		case every != "" && at == "":
			if _, err := a.exec.ScheduleEvery(every, t.Description, nil); err != nil {
				return fmt.Errorf("tasks[%d]: %w", i, err)
			}
		case every != "":
			when, err := config.ParseInstant(at, now, loc)
			if err != nil {
				return fmt.Errorf("tasks[%d].at: %w", i, err)
			}
			period, err := time.ParseDuration(every)
			if err != nil {
				return fmt.Errorf("tasks[%d].every: with at set, every must be a duration: %w", i, err)
			}
			if _, err := a.exec.ScheduleRecurring(when, t.Description, period, nil); err != nil {
				return fmt.Errorf("tasks[%d]: %w", i, err)
			}
		default:
			when, err := config.ParseInstant(at, now, loc)
			if err != nil {
				return fmt.Errorf("tasks[%d].at: %w", i, err)
			}
			if err := a.exec.ScheduleOnce(when, t.Description, nil); err != nil {
				if errors.Is(err, store.ErrConflict) {
					a.log.Info("seed task skipped", logx.String("at", store.FormatTime(when)), logx.String("task", t.Description))
					continue
				}
				return fmt.Errorf("tasks[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// applyConfig applies the parts of a reloaded config that can change live.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(mapLogConfig(cfg))
	a.saveOnStop.Store(cfg.Persistence.SaveOnStop)
	a.log.Info("config reloaded", logx.String("level", cfg.Logging.Level))
	a.log.Debug("executor and persistence changes apply on restart")
}

// Save writes the stored tasks through the persistence backend.
func (a *App) Save(ctx context.Context) error {
	if a.backend == nil {
		return nil
	}
	return persist.SaveExecutor(ctx, a.backend, a.exec, a.log)
}

// Stop stops background loops and the executor, then saves (when configured)
// and releases the backend.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	if a.sup != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := a.sup.Stop(waitCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			errs = append(errs, err)
		}
		cancel()
	}

	a.exec.Stop(ctx)
	if a.saveOnStop.Load() {
		if err := a.Save(ctx); err != nil {
			a.log.Error("save on stop failed", logx.Err(err))
			errs = append(errs, err)
		}
	}
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases the backend and log sinks without stopping the executor.
func (a *App) Close() error {
	var errs []error
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			errs = append(errs, err)
		}
		a.backend = nil
	}
	a.log.Info("stopped")
	if a.logs != nil {
		if err := a.logs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
