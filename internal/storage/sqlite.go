package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattjoyce/courier/internal/message"
	_ "modernc.org/sqlite"
)

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=foreign_keys(1)"

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	db, err := sql.Open("sqlite", path+"?"+sqlitePragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates the messages table and its indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
  seq                 INTEGER PRIMARY KEY AUTOINCREMENT,
  message_id          TEXT NOT NULL UNIQUE,
  sender              TEXT NOT NULL,
  recipient           TEXT NOT NULL,
  ts                  TEXT NOT NULL,
  text                TEXT,
  received_at         TEXT NOT NULL,
  payload_fingerprint TEXT NOT NULL DEFAULT ''
);`,
		`CREATE INDEX IF NOT EXISTS messages_ts_idx ON messages(ts);`,
		`CREATE INDEX IF NOT EXISTS messages_sender_idx ON messages(sender);`,
		`CREATE INDEX IF NOT EXISTS messages_received_at_idx ON messages(received_at, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

// SQLiteStore is the default Store backend.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	lock  *writerLock
	mu    sync.Mutex // serializes writes and received_at assignment
	clock monotonicClock
}

// OpenSQLiteStore validates the filesystem, takes the writer lock and opens
// the database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := ValidateSQLiteFilesystem(path); err != nil {
		return nil, err
	}

	lock, err := acquireWriterLock(lockPathFor(path))
	if err != nil {
		return nil, err
	}

	db, err := OpenSQLite(ctx, path)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}

	s := &SQLiteStore{db: db, path: path, lock: lock, clock: monotonicClock{now: time.Now}}

	// Resume the clock from the newest row so received_at stays monotonic
	// across restarts even if the wall clock stepped back.
	var last sql.NullString
	if err := db.QueryRowContext(ctx, `SELECT MAX(received_at) FROM messages;`).Scan(&last); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("read last received_at: %w", err)
	}
	if last.Valid {
		t, err := parseStoredTime(last.String)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.clock.last = t
	}

	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Insert(ctx context.Context, m message.Message) (message.InsertResult, error) {
	if m.ID == "" {
		return message.InsertResult{}, ErrEmptyMessageID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	receivedAt := s.clock.next()
	var text any
	if m.Text != nil {
		text = *m.Text
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO messages(message_id, sender, recipient, ts, text, received_at, payload_fingerprint)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(message_id) DO NOTHING;
`, m.ID, m.Sender, m.Recipient, formatStoredTime(m.Timestamp), text, formatStoredTime(receivedAt), m.Fingerprint)
	if err != nil {
		return message.InsertResult{}, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return message.InsertResult{}, fmt.Errorf("insert message rows affected: %w", err)
	}
	if n == 1 {
		return message.InsertResult{Outcome: message.Created, ReceivedAt: receivedAt}, nil
	}

	var storedAt, storedFP string
	err = s.db.QueryRowContext(ctx,
		`SELECT received_at, payload_fingerprint FROM messages WHERE message_id = ?;`, m.ID,
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

func (s *SQLiteStore) Query(ctx context.Context, f message.Filter, limit, offset int) (message.Page, error) {
	if err := checkPage(limit, offset); err != nil {
		return message.Page{}, err
	}

	countSQL, selectSQL, countArgs, selectArgs := pageQuery(f, limit, offset, sqliteDialect)

	// One transaction so total and rows come from the same snapshot.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return message.Page{}, fmt.Errorf("begin query: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	page := message.Page{Limit: limit, Offset: offset, Messages: []message.Message{}}
	if err := tx.QueryRowContext(ctx, countSQL, countArgs...).Scan(&page.Total); err != nil {
		return message.Page{}, fmt.Errorf("count messages: %w", err)
	}

	rows, err := tx.QueryContext(ctx, selectSQL, selectArgs...)
	if err != nil {
		return message.Page{}, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m            message.Message
			ts, received string
			text         sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &ts, &text, &received, &m.Fingerprint); err != nil {
			return message.Page{}, fmt.Errorf("scan message: %w", err)
		}
		if m.Timestamp, err = parseStoredTime(ts); err != nil {
			return message.Page{}, err
		}
		if m.ReceivedAt, err = parseStoredTime(received); err != nil {
			return message.Page{}, err
		}
		if text.Valid {
			v := text.String
			m.Text = &v
		}
		page.Messages = append(page.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return message.Page{}, fmt.Errorf("iterate messages: %w", err)
	}
	return page, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (message.Stats, error) {
	var (
		st          message.Stats
		first, last sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT sender), MIN(ts), MAX(ts) FROM messages;`,
	).Scan(&st.TotalMessages, &st.SendersCount, &first, &last)
	if err != nil {
		return message.Stats{}, fmt.Errorf("aggregate messages: %w", err)
	}
	for _, pair := range []struct {
		src sql.NullString
		dst **time.Time
	}{{first, &st.FirstTS}, {last, &st.LastTS}} {
		if !pair.src.Valid {
			continue
		}
		t, err := parseStoredTime(pair.src.String)
		if err != nil {
			return message.Stats{}, err
		}
		*pair.dst = &t
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT sender, COUNT(*) AS n FROM messages
GROUP BY sender ORDER BY n DESC, sender ASC LIMIT ?;
`, message.TopSenders)
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

func (s *SQLiteStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM messages LIMIT 1;`).Scan(&one); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if lerr := s.lock.Release(); err == nil {
		err = lerr
	}
	return err
}

// fingerprintsDiffer reports a conflict only when both sides are known.
func fingerprintsDiffer(stored, incoming string) bool {
	return stored != "" && incoming != "" && stored != incoming
}
