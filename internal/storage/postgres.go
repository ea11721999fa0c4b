package storage

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mattjoyce/courier/internal/message"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
  seq                 BIGSERIAL PRIMARY KEY,
  message_id          TEXT NOT NULL UNIQUE,
  sender              TEXT NOT NULL,
  recipient           TEXT NOT NULL,
  ts                  TEXT COLLATE "C" NOT NULL,
  text                TEXT,
  received_at         TEXT COLLATE "C" NOT NULL,
  payload_fingerprint TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS messages_ts_idx ON messages(ts)`,
	`CREATE INDEX IF NOT EXISTS messages_sender_idx ON messages(sender)`,
	`CREATE INDEX IF NOT EXISTS messages_received_at_idx ON messages(received_at, seq)`,
}

// ConnectPostgres parses databaseURL, applies maxConns and verifies the pool
// with a ping.
func ConnectPostgres(ctx context.Context, databaseURL string, maxConns int) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	if maxConns > 0 && maxConns <= math.MaxInt32 {
		config.MaxConns = int32(maxConns) // #nosec G115 -- bounds checked above
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// PostgresStore is the Store backend for postgres:// URLs.
type PostgresStore struct {
	pool  *pgxpool.Pool
	mu    sync.Mutex
	clock monotonicClock
}

// OpenPostgres connects, bootstraps the schema and returns a ready store.
func OpenPostgres(ctx context.Context, databaseURL string, maxConns int) (*PostgresStore, error) {
	pool, err := ConnectPostgres(ctx, databaseURL, maxConns)
	if err != nil {
		return nil, err
	}
	s, err := NewPostgresStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore bootstraps the schema on an existing pool. The store takes
// ownership of the pool and closes it in Close.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("bootstrap postgres: %w", err)
		}
	}

	s := &PostgresStore{pool: pool, clock: monotonicClock{now: time.Now}}

	var last *string
	if err := pool.QueryRow(ctx, `SELECT MAX(received_at) FROM messages`).Scan(&last); err != nil {
		return nil, fmt.Errorf("read last received_at: %w", err)
	}
	if last != nil {
		t, err := parseStoredTime(*last)
		if err != nil {
			return nil, err
		}
		s.clock.last = t
	}
	return s, nil
}

func (s *PostgresStore) Insert(ctx context.Context, m message.Message) (message.InsertResult, error) {
	if m.ID == "" {
		return message.InsertResult{}, ErrEmptyMessageID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	receivedAt := s.clock.next()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO messages (message_id, sender, recipient, ts, text, received_at, payload_fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO NOTHING`,
		m.ID, m.Sender, m.Recipient, formatStoredTime(m.Timestamp), m.Text, formatStoredTime(receivedAt), m.Fingerprint,
	)
	if err != nil {
		return message.InsertResult{}, fmt.Errorf("insert message: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return message.InsertResult{Outcome: message.Created, ReceivedAt: receivedAt}, nil
	}

	var storedAt, storedFP string
	err = s.pool.QueryRow(ctx,
		`SELECT received_at, payload_fingerprint FROM messages WHERE message_id = $1`, m.ID,
	).Scan(&storedAt, &storedFP)
	if err != nil {
		return message.InsertResult{}, fmt.Errorf("load existing message: %w", err)
	}
	at, err := parseStoredTime(storedAt)
	if err != nil {
		return message.InsertResult{}, err
	}
	return message.InsertResult{
		Outcome:             message.AlreadyExists,
		ReceivedAt:          at,
		FingerprintMismatch: fingerprintsDiffer(storedFP, m.Fingerprint),
	}, nil
}

func (s *PostgresStore) Query(ctx context.Context, f message.Filter, limit, offset int) (message.Page, error) {
	if err := checkPage(limit, offset); err != nil {
		return message.Page{}, err
	}

	countSQL, selectSQL, countArgs, selectArgs := pageQuery(f, limit, offset, postgresDialect)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return message.Page{}, fmt.Errorf("begin query: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	page := message.Page{Limit: limit, Offset: offset, Messages: []message.Message{}}
	if err := tx.QueryRow(ctx, countSQL, countArgs...).Scan(&page.Total); err != nil {
		return message.Page{}, fmt.Errorf("count messages: %w", err)
	}

	rows, err := tx.Query(ctx, selectSQL, selectArgs...)
	if err != nil {
		return message.Page{}, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m            message.Message
			ts, received string
		)
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &ts, &m.Text, &received, &m.Fingerprint); err != nil {
			return message.Page{}, fmt.Errorf("scan message: %w", err)
		}
		if m.Timestamp, err = parseStoredTime(ts); err != nil {
			return message.Page{}, err
		}
		if m.ReceivedAt, err = parseStoredTime(received); err != nil {
			return message.Page{}, err
		}
		page.Messages = append(page.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return message.Page{}, fmt.Errorf("iterate messages: %w", err)
	}
	return page, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (message.Stats, error) {
	var (
		st          message.Stats
		first, last *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT sender), MIN(ts), MAX(ts) FROM messages`,
	).Scan(&st.TotalMessages, &st.SendersCount, &first, &last)
	if err != nil {
		return message.Stats{}, fmt.Errorf("aggregate messages: %w", err)
	}
	for _, pair := range []struct {
		src *string
		dst **time.Time
	}{{first, &st.FirstTS}, {last, &st.LastTS}} {
		if pair.src == nil {
			continue
		}
		t, err := parseStoredTime(*pair.src)
		if err != nil {
			return message.Stats{}, err
		}
		*pair.dst = &t
	}

	rows, err := s.pool.Query(ctx, `
		SELECT sender, COUNT(*) AS n FROM messages
		GROUP BY sender ORDER BY n DESC, sender ASC LIMIT $1`, message.TopSenders)
	if err != nil {
		return message.Stats{}, fmt.Errorf("count senders: %w", err)
	}
	defer rows.Close()

	st.TopSenders = []message.SenderCount{}
	for rows.Next() {
		var sc message.SenderCount
		if err := rows.Scan(&sc.Sender, &sc.Count); err != nil {
			return message.Stats{}, fmt.Errorf("scan sender count: %w", err)
		}
		st.TopSenders = append(st.TopSenders, sc)
	}
	if err := rows.Err(); err != nil {
		return message.Stats{}, fmt.Errorf("iterate sender counts: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
