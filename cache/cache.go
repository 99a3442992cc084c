// Package cache stores compiled programs in SQLite, keyed by a hash of
// their source.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chazu/imp/compiler"
	"github.com/chazu/imp/vm"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("imp.cache")

// Cache is a SQLite-backed store of program images.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; the busy timeout below is per connection.
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		hash TEXT PRIMARY KEY,
		image BLOB NOT NULL,
		source_name TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened cache %s", path)
	return &Cache{db: db, path: path}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Key returns the cache key for source text: its hex SHA-256.
func Key(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// Get returns the program stored under key. The boolean is false when no
// entry exists.
func (c *Cache) Get(ctx context.Context, key string) (*vm.Program, bool, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx, "SELECT image FROM programs WHERE hash = ?", key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying program: %w", err)
	}

	img, err := vm.UnmarshalImage(data)
	if err != nil {
		return nil, false, fmt.Errorf("decoding cached program %s: %w", key, err)
	}
	return img.Program(), true, nil
}

// Put stores prog under key, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, key, sourceName string, prog *vm.Program) error {
	data, err := vm.MarshalImage(vm.NewImage(prog, sourceName, nil))
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO programs (hash, image, source_name, created_at) VALUES (?, ?, ?, ?)",
		key, data, sourceName, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving program: %w", err)
	}
	return nil
}

// Len returns the number of cached programs.
func (c *Cache) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM programs").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting programs: %w", err)
	}
	return n, nil
}

// Purge deletes every cached program and returns how many were removed.
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, "DELETE FROM programs")
	if err != nil {
		return 0, fmt.Errorf("purging programs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	log.Noticef("purged %d cached programs from %s", n, c.path)
	return n, nil
}

// CompileCached compiles source through the cache: a hit skips parsing and
// code generation entirely. c may be nil, in which case this is
// compiler.Compile.
func CompileCached(ctx context.Context, c *Cache, name string, source []byte) (*vm.Program, error) {
	if c == nil {
		return compiler.Compile(name, string(source))
	}

	key := Key(source)
	prog, ok, err := c.Get(ctx, key)
	if err != nil {
		log.Warningf("cache lookup failed, recompiling: %s", err)
	} else if ok {
		log.Debugf("cache hit for %s (%s)", name, key[:12])
		return prog, nil
	}

	prog, err = compiler.Compile(name, string(source))
	if err != nil {
		return nil, err
	}
	if err := c.Put(ctx, key, name, prog); err != nil {
		log.Warningf("cache store failed: %s", err)
	}
	return prog, nil
}
