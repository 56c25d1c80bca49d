package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"horarios/internal/schedule"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed schema.sql
var schemaSQL string

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// EnsureSchema creates the lines collection if it does not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure lines schema: %w", err)
	}
	return nil
}

// LineStore reads line documents from the remote lines collection.
type LineStore struct {
	db *sql.DB
}

func NewLineStore(db *sql.DB) *LineStore {
	return &LineStore{db: db}
}

// FetchLines returns every document of the collection, undecoded. The caller
// bounds the call through ctx.
func (s *LineStore) FetchLines(ctx context.Context) ([]schedule.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc::text FROM lines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query lines: %w", err)
	}
	defer rows.Close()

	var docs []schedule.Document
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		docs = append(docs, schedule.Document{ID: id, Raw: []byte(body)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}
