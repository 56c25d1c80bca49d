package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"horarios/internal/schedule"
)

const (
	KeySnapshot  = "scheduleData_cache"
	KeyTimestamp = "scheduleData_timestamp"
)

var (
	ErrNotFound = errors.New("cache: key not found")
	ErrCorrupt  = errors.New("cache: snapshot corrupt")
)

//go:embed schema.sql
var schemaSQL string

// Store is a flat key-value table in a local SQLite file.
type Store struct {
	conn    *sql.DB
	path    string
	writeMu sync.Mutex
}

// Open opens (creating if needed) the cache at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping cache: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure cache schema: %w", err)
	}
	return &Store{conn: conn, path: path}, nil
}

func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) Path() string { return s.path }

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys; missing keys are ignored.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, k := range keys {
		if _, err := s.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return nil
}

// Len counts stored keys.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count keys: %w", err)
	}
	return n, nil
}

// Snapshot is the last dataset written by a successful remote load.
type Snapshot struct {
	Dataset schedule.Dataset
	SavedAt time.Time
	Bytes   int
}

// SaveSnapshot writes the dataset and its timestamp in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, ds schedule.Dataset, at time.Time) error {
	raw, err := schedule.MarshalDataset(ds)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := tx.ExecContext(ctx, upsert, KeySnapshot, string(raw)); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, KeyTimestamp, at.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("write snapshot timestamp: %w", err)
	}
	return tx.Commit()
}

// LoadSnapshot reads the last snapshot. Lines that no longer validate are
// dropped; a snapshot that does not decode at all is ErrCorrupt.
func (s *Store) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	raw, err := s.Get(ctx, KeySnapshot)
	if err != nil {
		return Snapshot{}, err
	}
	ds, errs, err := schedule.UnmarshalDataset([]byte(raw))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	for _, e := range errs {
		log.Printf("warning: cached snapshot: %v", e)
	}

	snap := Snapshot{Dataset: ds, Bytes: len(raw)}
	ts, err := s.Get(ctx, KeyTimestamp)
	switch {
	case err == nil:
		if t, perr := time.Parse(time.RFC3339, ts); perr == nil {
			snap.SavedAt = t
		} else {
			log.Printf("warning: cached snapshot timestamp %q: %v", ts, perr)
		}
	case errors.Is(err, ErrNotFound):
	default:
		return Snapshot{}, err
	}
	return snap, nil
}

// Clear removes the snapshot and its timestamp.
func (s *Store) Clear(ctx context.Context) error {
	return s.Delete(ctx, KeySnapshot, KeyTimestamp)
}
