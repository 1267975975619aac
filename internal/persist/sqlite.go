package persist

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tasktimer/internal/store"
	logx "tasktimer/pkg/logx"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tasks (
	when_ns     INTEGER PRIMARY KEY,
	when_text   TEXT    NOT NULL,
	description TEXT    NOT NULL
);`

type sqliteBackend struct {
	db   *sql.DB
	path string
	log  logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteBackend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fail("open", "", fmt.Errorf("sqlite path is required"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fail("open", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fail("open", path, err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fail("open", path, err)
	}
	return &sqliteBackend{db: db, path: path, log: log}, nil
}

func (b *sqliteBackend) Name() string { return "sqlite" }

// Save replaces the stored mapping in one transaction; on error the previous
// rows are kept.
func (b *sqliteBackend) Save(ctx context.Context, snap store.Snapshot) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fail("save", b.path, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fail("save", b.path, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tasks(when_ns, when_text, description) VALUES(?,?,?)`)
	if err != nil {
		return fail("save", b.path, err)
	}
	defer stmt.Close()
	for _, e := range snap.Entries {
		if _, err = stmt.ExecContext(ctx, e.When.UnixNano(), e.When.Format(time.RFC3339Nano), e.Description); err != nil {
			return fail("save", b.path, fmt.Errorf("task %s: %w", store.FormatTime(e.When), err))
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES('version', ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		fmt.Sprint(FormatVersion),
	); err != nil {
		return fail("save", b.path, err)
	}
	if err = tx.Commit(); err != nil {
		return fail("save", b.path, err)
	}
	b.log.Debug("snapshot written", logx.String("path", b.path), logx.Int("tasks", snap.Len()))
	return nil
}

func (b *sqliteBackend) Load(ctx context.Context) (store.Snapshot, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT when_text, description FROM tasks ORDER BY when_ns`)
	if err != nil {
		return store.Snapshot{}, fail("load", b.path, err)
	}
	defer rows.Close()

	entries := []store.Entry{}
	for rows.Next() {
		var whenText, desc string
		if err := rows.Scan(&whenText, &desc); err != nil {
			return store.Snapshot{}, fail("load", b.path, err)
		}
		when, err := time.Parse(time.RFC3339Nano, whenText)
		if err != nil {
			return store.Snapshot{}, fail("load", b.path, fmt.Errorf("invalid time %q: %w", whenText, err))
		}
		entries = append(entries, store.Entry{When: when, Description: desc})
	}
	if err := rows.Err(); err != nil {
		return store.Snapshot{}, fail("load", b.path, err)
	}
	return store.Snapshot{Entries: entries}, nil
}

func (b *sqliteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
