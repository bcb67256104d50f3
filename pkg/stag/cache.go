package stag

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tstromberg/stag/pkg/xmp"
)

// LabelCache remembers tagger output so unchanged photos are not classified twice.
type LabelCache interface {
	Get(ctx context.Context, path string) ([]string, bool, error)
	Put(ctx context.Context, path string, labels []string) error
}

// Cache is a LabelCache backed by SQLite, keyed by path, size and modification time.
type Cache struct {
	db    *sql.DB
	runID string
}

const cacheSchema = `CREATE TABLE IF NOT EXISTS labels (
	path       TEXT PRIMARY KEY,
	size       INTEGER NOT NULL,
	mod_time   INTEGER NOT NULL,
	labels     TEXT NOT NULL,
	run_id     TEXT NOT NULL,
	created_at TEXT NOT NULL
)`

// OpenCache opens or creates the cache database at path. runID is recorded with every stored entry.
func OpenCache(path string, runID string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(cacheSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Cache{db: db, runID: runID}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func cacheKey(path string) (string, os.FileInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return "", nil, err
	}
	return abs, st, nil
}

// Get returns the labels stored for path, if the file is unchanged since they were stored.
func (c *Cache) Get(ctx context.Context, path string) ([]string, bool, error) {
	key, st, err := cacheKey(path)
	if err != nil {
		return nil, false, fmt.Errorf("stat: %w", err)
	}

	var size, modTime int64
	var labels string
	err = c.db.QueryRowContext(ctx,
		`SELECT size, mod_time, labels FROM labels WHERE path = ?`, key,
	).Scan(&size, &modTime, &labels)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query: %w", err)
	}

	if size != st.Size() || modTime != st.ModTime().UnixNano() {
		return nil, false, nil
	}
	return ParseLabels(labels), true, nil
}

// Put stores labels for path.
func (c *Cache) Put(ctx context.Context, path string, labels []string) error {
	key, st, err := cacheKey(path)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO labels (path, size, mod_time, labels, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			mod_time = excluded.mod_time,
			labels = excluded.labels,
			run_id = excluded.run_id,
			created_at = excluded.created_at`,
		key,
		st.Size(),
		st.ModTime().UnixNano(),
		strings.Join(labels, xmp.Separator),
		c.runID,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}
