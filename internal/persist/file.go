package persist

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"tasktimer/internal/store"
	logx "tasktimer/pkg/logx"
)

// fileBackend keeps one snapshot file per store.
//
// Save encodes fully in memory, writes <path>.tmp, syncs it and renames it over
// <path>, so a failed save leaves the previous file untouched.
type fileBackend struct {
	log   logx.Logger
	path  string
	codec Codec

	mu sync.Mutex
}

func newFileBackend(path string, codec Codec, log logx.Logger) (*fileBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fail("open", path, err)
		}
	}
	return &fileBackend{log: log, path: path, codec: codec}, nil
}

func (b *fileBackend) Name() string { return b.codec.Name() }

func (b *fileBackend) Save(ctx context.Context, snap store.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return fail("save", b.path, err)
	}
	data, err := b.codec.Encode(snap)
	if err != nil {
		return fail("save", b.path, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tmp := b.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fail("save", b.path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fail("save", b.path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fail("save", b.path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fail("save", b.path, err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		_ = os.Remove(tmp)
		return fail("save", b.path, err)
	}
	b.log.Debug("snapshot written", logx.String("path", b.path), logx.Int("tasks", snap.Len()), logx.Int("bytes", len(data)))
	return nil
}

func (b *fileBackend) Load(ctx context.Context) (store.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return store.Snapshot{}, fail("load", b.path, err)
	}
	b.mu.Lock()
	data, err := os.ReadFile(b.path)
	b.mu.Unlock()
	if err != nil {
		return store.Snapshot{}, fail("load", b.path, err)
	}
	snap, err := b.codec.Decode(data)
	if err != nil {
		return store.Snapshot{}, fail("load", b.path, err)
	}
	return snap, nil
}

func (b *fileBackend) Close() error { return nil }
