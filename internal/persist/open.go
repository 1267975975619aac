package persist

import (
	"context"
	"errors"
	"strings"
	"time"

	"tasktimer/internal/store"
	logx "tasktimer/pkg/logx"
)

// Backend stores one snapshot.
type Backend interface {
	Name() string
	Save(ctx context.Context, snap store.Snapshot) error
	Load(ctx context.Context) (store.Snapshot, error)
	Close() error
}

// Config configures persistence.
//
// Driver values:
//   - "json": JSON snapshot file (default when Path is set)
//   - "yaml": YAML snapshot file
//   - "sqlite": SQLite database file
//
// If Driver is "none", or both Driver and Path are empty, persistence is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured backend.
// It returns (nil, nil) if persistence is disabled.
func Open(cfg Config, log logx.Logger) (Backend, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	path := strings.TrimSpace(cfg.Path)
	if driver == "none" || (driver == "" && path == "") {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if driver == "" {
		driver = "json"
	}

	switch driver {
	case "json":
		return openFile(path, JSONCodec{}, log)
	case "yaml", "yml":
		return openFile(path, YAMLCodec{}, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fail("open", path, errors.New("unknown persistence driver: "+driver))
	}
}

func openFile(path string, codec Codec, log logx.Logger) (Backend, error) {
	if path == "" {
		return nil, fail("open", "", errors.New("persistence.path is required for "+codec.Name()+" driver"))
	}
	return newFileBackend(path, codec, log)
}
