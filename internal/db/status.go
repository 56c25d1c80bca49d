package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CollectionStatus summarizes the remote lines collection.
type CollectionStatus struct {
	Lines     int
	UpdatedAt time.Time // zero when the collection is empty
}

// LatestLineUpdate returns how many line documents exist and when the most
// recent one was written.
func LatestLineUpdate(ctx context.Context, db *sql.DB) (CollectionStatus, error) {
	q := `SELECT COUNT(*), MAX(updated_at) FROM lines`
	var (
		st      CollectionStatus
		updated sql.NullTime
	)
	if err := db.QueryRowContext(ctx, q).Scan(&st.Lines, &updated); err != nil {
		return CollectionStatus{}, fmt.Errorf("query lines status: %w", err)
	}
	if updated.Valid {
		st.UpdatedAt = updated.Time
	}
	return st, nil
}
