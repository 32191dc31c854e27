package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PostgresIdempotencyChecker is the cold tier of the two-tier dedup. The
// settler consults it only on an LRU miss, so a hit here means the event was
// settled longer ago than the warm window covers.
type PostgresIdempotencyChecker struct {
	db *sql.DB
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db}
}

// IsDuplicate reports whether the (event type, idempotency key) pair is
// already in the settlement event log. The lookup is bounded: a slow answer
// here would stall the whole settlement loop.
func (pic *PostgresIdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var one int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM settlement.events
		WHERE event_type = $1 AND idempotency_key = $2
		LIMIT 1
	`, eventType, idempotencyKey).Scan(&one)

	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// CreateIdempotencyIndex ensures the unique index the duplicate probe and
// the writer's ON CONFLICT clause both rely on.
func (pic *PostgresIdempotencyChecker) CreateIdempotencyIndex() error {
	_, err := pic.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_events_idem
		ON settlement.events (event_type, idempotency_key)
	`)
	return err
}
