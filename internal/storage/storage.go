// Package storage persists messages durably and idempotently.
//
// Two backends share one contract: SQLite (modernc.org/sqlite, the default)
// and PostgreSQL (pgx). Both enforce message_id uniqueness with a database
// UNIQUE constraint and INSERT ... ON CONFLICT DO NOTHING; the number of
// affected rows decides between Created and AlreadyExists.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/courier/internal/message"
)

// Store is the contract implemented by every backend.
type Store interface {
	Insert(ctx context.Context, m message.Message) (message.InsertResult, error)
	Query(ctx context.Context, f message.Filter, limit, offset int) (message.Page, error)
	Stats(ctx context.Context) (message.Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	ErrUnsupportedURL = errors.New("unsupported database url")
	ErrInvalidPage    = errors.New("invalid page bounds")
	ErrEmptyMessageID = errors.New("message_id is empty")
)

// Driver names returned by ParseDatabaseURL.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Target is a parsed DATABASE_URL.
type Target struct {
	Driver string
	// DSN is a filesystem path for SQLite and the original URL for PostgreSQL.
	DSN string
}

// Options tune backend connections.
type Options struct {
	MaxConns int
}

// ParseDatabaseURL recognises sqlite:///relative.db, sqlite:////abs.db,
// file:path.db, bare paths and postgres:// or postgresql:// URLs.
func ParseDatabaseURL(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("%w: empty", ErrUnsupportedURL)
	}

	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return Target{Driver: DriverPostgres, DSN: raw}, nil
	case strings.HasPrefix(raw, "sqlite:///"):
		path := strings.TrimPrefix(raw, "sqlite:///")
		if path == "" {
			return Target{}, fmt.Errorf("%w: sqlite url has no path", ErrUnsupportedURL)
		}
		return Target{Driver: DriverSQLite, DSN: path}, nil
	case strings.HasPrefix(raw, "file:"):
		path := strings.TrimPrefix(raw, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if path == "" {
			return Target{}, fmt.Errorf("%w: file url has no path", ErrUnsupportedURL)
		}
		return Target{Driver: DriverSQLite, DSN: path}, nil
	case strings.Contains(raw, "://"):
		scheme := raw[:strings.Index(raw, "://")]
		return Target{}, fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, scheme)
	default:
		return Target{Driver: DriverSQLite, DSN: raw}, nil
	}
}

// Open connects to the backend named by databaseURL, bootstraps the schema
// and returns a ready Store.
func Open(ctx context.Context, databaseURL string, opts Options) (Store, error) {
	target, err := ParseDatabaseURL(databaseURL)
	if err != nil {
		return nil, err
	}
	switch target.Driver {
	case DriverPostgres:
		return OpenPostgres(ctx, target.DSN, opts.MaxConns)
	default:
		return OpenSQLiteStore(ctx, target.DSN)
	}
}

func checkPage(limit, offset int) error {
	if limit < 1 || limit > message.MaxLimit {
		return fmt.Errorf("%w: limit %d outside [1,%d]", ErrInvalidPage, limit, message.MaxLimit)
	}
	if offset < 0 {
		return fmt.Errorf("%w: offset %d is negative", ErrInvalidPage, offset)
	}
	return nil
}

// storedTimeLayout is fixed width and always UTC, so lexical order on the
// stored text equals chronological order. Both backends keep ts and
// received_at in this form; PostgreSQL TIMESTAMPTZ would round to microseconds.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatStoredTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func parseStoredTime(s string) (time.Time, error) {
	t, err := time.Parse(storedTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

// monotonicClock hands out non-decreasing UTC instants. Callers hold the
// store write lock, so issue order equals insertion order.
type monotonicClock struct {
	now  func() time.Time
	last time.Time
}

func (c *monotonicClock) next() time.Time {
	t := c.now().UTC()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}
