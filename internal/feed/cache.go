package feed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// CacheFileName is the database file inside the feed cache directory.
const CacheFileName = "feeds.db"

// ErrCacheClosed is returned by every Cache method after Close.
var ErrCacheClosed = errors.New("feed cache is closed")

const createFeeds = `CREATE TABLE IF NOT EXISTS feeds (
    uri TEXT PRIMARY KEY,
    content BLOB NOT NULL,
    fetched_at TEXT NOT NULL
);`

// Entry is one cached feed document.
type Entry struct {
	URI       string
	Content   []byte
	FetchedAt time.Time
}

// Age returns how long ago the entry was fetched.
func (e Entry) Age(now time.Time) time.Duration { return now.Sub(e.FetchedAt) }

// Cache keeps raw feed documents in SQLite, keyed by interface URI.
type Cache struct {
	mu  sync.RWMutex
	db  *sql.DB
	now func() time.Time
}

// OpenCache opens (creating if needed) the feed cache in dir.
func OpenCache(dir string) (*Cache, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create feed cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, CacheFileName))
	if err != nil {
		return nil, fmt.Errorf("open feed cache: %w", err)
	}
	// One writer at a time; modernc serialises inside a connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createFeeds); err != nil {
		db.Close()
		return nil, fmt.Errorf("create feeds table: %w", err)
	}
	return &Cache{db: db, now: time.Now}, nil
}

// Get returns the cached entry for uri, or types.ErrFeedNotFound.
func (c *Cache) Get(ctx context.Context, uri string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return Entry{}, ErrCacheClosed
	}

	var (
		content []byte
		fetched string
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT content, fetched_at FROM feeds WHERE uri = ?`, uri).Scan(&content, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", types.ErrFeedNotFound, uri)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("read cached feed %s: %w", uri, err)
	}
	at, err := time.Parse(time.RFC3339Nano, fetched)
	if err != nil {
		return Entry{}, fmt.Errorf("cached feed %s: bad timestamp: %w", uri, err)
	}
	return Entry{URI: uri, Content: content, FetchedAt: at}, nil
}

// Put stores content for uri, replacing any previous copy, and stamps it
// with the current time.
func (c *Cache) Put(ctx context.Context, uri string, content []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return ErrCacheClosed
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO feeds (uri, content, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT(uri) DO UPDATE SET content = excluded.content, fetched_at = excluded.fetched_at`,
		uri, content, c.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store feed %s: %w", uri, err)
	}
	return nil
}

// Delete drops uri from the cache. Deleting an absent feed is not an error.
func (c *Cache) Delete(ctx context.Context, uri string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return ErrCacheClosed
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM feeds WHERE uri = ?`, uri); err != nil {
		return fmt.Errorf("delete feed %s: %w", uri, err)
	}
	return nil
}

// List returns the URIs of every cached feed in byte order.
func (c *Cache) List(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return nil, ErrCacheClosed
	}
	rows, err := c.db.QueryContext(ctx, `SELECT uri FROM feeds ORDER BY uri`)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	defer rows.Close()

	var uris []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("list feeds: %w", err)
		}
		uris = append(uris, uri)
	}
	return uris, rows.Err()
}

// Close releases the database. Close is idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
