package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	sqlInsertEvent = `INSERT INTO user_events (id, user_id, created_at, description)
		VALUES (?, ?, ?, ?)`

	sqlListEvents = `SELECT id, user_id, created_at, description
		FROM user_events WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`
)

// Event is one entry of a user's audit trail.
type Event struct {
	ID          string
	UserID      string
	Timestamp   time.Time
	Description string
}

// LogEvent appends an event to the user's log.
func (s *Store) LogEvent(ctx context.Context, userID, description string) error {
	_, err := s.db.ExecContext(ctx, sqlInsertEvent,
		uuid.New().String(), userID, s.nowFunc().UnixNano(), description)
	if err != nil {
		return fmt.Errorf("store: logging event for %s: %w", userID, err)
	}

	return nil
}

// Events returns the user's most recent events, newest first. A limit of
// zero or less returns all of them.
func (s *Store) Events(ctx context.Context, userID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, sqlListEvents, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: listing events for %s: %w", userID, err)
	}
	defer rows.Close()

	var events []Event

	for rows.Next() {
		var (
			e  Event
			ts int64
		)

		if err := rows.Scan(&e.ID, &e.UserID, &ts, &e.Description); err != nil {
			return nil, fmt.Errorf("store: scanning event row: %w", err)
		}

		e.Timestamp = time.Unix(0, ts).UTC()
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating event rows: %w", err)
	}

	return events, nil
}
