package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/runasharp/telegram-hotel-bot/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS observations (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	at     INTEGER NOT NULL,
	owner  INTEGER NOT NULL,
	slot   INTEGER NOT NULL,
	url    TEXT    NOT NULL,
	price  TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_observations_owner_slot ON observations(owner, slot, at);

CREATE TABLE IF NOT EXISTS dedup (
	key     TEXT PRIMARY KEY,
	sent_at INTEGER NOT NULL
);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := cfg.Path
	if path == "" {
		path = "./data/hotelbot.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create dir %s: %w", dir, err)
		}
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, busy.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}

	return &sqliteStore{db: db, log: log.With(logx.String("svc", "storage.sqlite"))}, nil
}

func (s *sqliteStore) AppendObservation(ctx context.Context, obs Observation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO observations (at, owner, slot, url, price) VALUES (?, ?, ?, ?, ?)`,
		obs.At.UnixMilli(), obs.Owner, obs.Slot, obs.URL, obs.Price.String())
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, entry DedupEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup (key, sent_at) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET sent_at = excluded.sent_at`,
		entry.Key, entry.SentAt.UnixMilli())
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (DedupEntry, error) {
	var sentAt int64
	err := s.db.QueryRowContext(ctx, `SELECT sent_at FROM dedup WHERE key = ?`, key).Scan(&sentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DedupEntry{}, ErrNotFound
	}
	if err != nil {
		return DedupEntry{}, err
	}
	return DedupEntry{Key: key, SentAt: time.UnixMilli(sentAt)}, nil
}

func (s *sqliteStore) LoadDedup(ctx context.Context, since time.Time) ([]DedupEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, sent_at FROM dedup WHERE sent_at >= ?`, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DedupEntry
	for rows.Next() {
		var e DedupEntry
		var sentAt int64
		if err := rows.Scan(&e.Key, &sentAt); err != nil {
			return nil, err
		}
		e.SentAt = time.UnixMilli(sentAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error { return s.db.Close() }
