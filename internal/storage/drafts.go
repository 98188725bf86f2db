package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/assistiq-ai/assistiq/internal/model"
)

// SaveDraft stores a human-authored draft and appends a draft_saved event.
func (db *DB) SaveDraft(ctx context.Context, ticketKey, draftText, author string) (model.Draft, error) {
	d := model.Draft{
		ID:        uuid.New(),
		TicketKey: ticketKey,
		DraftText: draftText,
		Author:    author,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Draft{}, fmt.Errorf("storage: begin draft save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO drafts (id, ticket_key, draft_text, author, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.TicketKey, d.DraftText, d.Author, d.CreatedAt, d.UpdatedAt,
	); err != nil {
		return model.Draft{}, fmt.Errorf("storage: save draft %s: %w", ticketKey, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO ticket_events (ticket_key, event_type, message) VALUES ($1, $2, $3)`,
		ticketKey, model.EventDraftSaved, "Draft saved",
	); err != nil {
		return model.Draft{}, fmt.Errorf("storage: append draft event %s: %w", ticketKey, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Draft{}, fmt.Errorf("storage: commit draft save: %w", err)
	}
	return d, nil
}

// ListDrafts returns drafts for a ticket, newest first.
func (db *DB) ListDrafts(ctx context.Context, ticketKey string) ([]model.Draft, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, ticket_key, draft_text, author, created_at, updated_at
		 FROM drafts WHERE ticket_key = $1 ORDER BY created_at DESC`, ticketKey)
	if err != nil {
		return nil, fmt.Errorf("storage: list drafts: %w", err)
	}
	defer rows.Close()

	var out []model.Draft
	for rows.Next() {
		var d model.Draft
		if err := rows.Scan(&d.ID, &d.TicketKey, &d.DraftText, &d.Author, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan draft row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
