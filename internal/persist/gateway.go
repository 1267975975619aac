package persist

import (
	"context"
	"errors"
	"io/fs"

	"tasktimer/internal/executor"
	"tasktimer/internal/store"
	logx "tasktimer/pkg/logx"
)

// Save writes st's current mapping through b.
func Save(ctx context.Context, b Backend, st *store.Store) error {
	return b.Save(ctx, st.Snapshot())
}

// Load rebuilds a store from b. On any failure it returns no store at all.
func Load(ctx context.Context, b Backend) (*store.Store, error) {
	snap, err := b.Load(ctx)
	if err != nil {
		return nil, err
	}
	st, err := store.FromSnapshot(snap)
	if err != nil {
		return nil, fail("load", "", err)
	}
	return st, nil
}

// RehydrateOptions controls LoadExecutor.
type RehydrateOptions struct {
	// MissingOK starts from an empty store when no snapshot exists yet.
	MissingOK bool
	// PruneStale drops tasks whose instant has already passed. When false they
	// stay in the store and never fire.
	PruneStale bool
}

// LoadExecutor loads a store from b and returns a started executor owning it.
// Starting builds a fresh timer worker and re-arms every task still in the
// future before the executor is handed to the caller.
func LoadExecutor(ctx context.Context, b Backend, cfg executor.Config, ro RehydrateOptions, opts ...executor.Option) (*executor.Service, error) {
	st, err := Load(ctx, b)
	if err != nil {
		if !ro.MissingOK || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		st = store.New()
	}

	svc := executor.New(cfg, st, opts...)
	if ro.PruneStale {
		svc.PruneStale()
	}
	svc.Start(ctx)
	return svc, nil
}

// SaveExecutor writes the executor's stored tasks. Timers are never written.
func SaveExecutor(ctx context.Context, b Backend, svc *executor.Service, log logx.Logger) error {
	if err := Save(ctx, b, svc.Store()); err != nil {
		return err
	}
	if !log.IsZero() {
		log.Info("task scheduler saved", logx.String("backend", b.Name()), logx.Int("tasks", svc.Store().Len()))
	}
	return nil
}
