package storage

import (
	"context"
	"fmt"

	"github.com/assistiq-ai/assistiq/internal/model"
)

// AddEvent appends one entry to a ticket's timeline.
func (db *DB) AddEvent(ctx context.Context, ticketKey, eventType, message string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO ticket_events (ticket_key, event_type, message) VALUES ($1, $2, $3)`,
		ticketKey, eventType, message,
	)
	if err != nil {
		return fmt.Errorf("storage: add event %s/%s: %w", ticketKey, eventType, err)
	}
	return nil
}

// GetTimeline returns a ticket's events, newest first.
func (db *DB) GetTimeline(ctx context.Context, ticketKey string) ([]model.TicketEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, ticket_key, event_type, message, created_at
		 FROM ticket_events WHERE ticket_key = $1 ORDER BY created_at DESC, id DESC`, ticketKey)
	if err != nil {
		return nil, fmt.Errorf("storage: get timeline: %w", err)
	}
	defer rows.Close()

	var out []model.TicketEvent
	for rows.Next() {
		var e model.TicketEvent
		if err := rows.Scan(&e.ID, &e.TicketKey, &e.EventType, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan event row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
