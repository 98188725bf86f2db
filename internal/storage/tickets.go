package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/assistiq-ai/assistiq/internal/model"
)

// UpsertSolvedTickets writes retrieval-corpus entries keyed by ticket_key.
// Embeddings must align one-to-one with tickets; content changes overwrite
// the stored embedding.
func (db *DB) UpsertSolvedTickets(ctx context.Context, tickets []model.SolvedTicket, embeddings []pgvector.Vector) (int, error) {
	if len(tickets) != len(embeddings) {
		return 0, fmt.Errorf("storage: %d tickets but %d embeddings", len(tickets), len(embeddings))
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("storage: begin solved-ticket upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	upserted := 0
	for i, t := range tickets {
		if t.TicketKey == "" {
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO solved_tickets (ticket_key, summary, description, resolution, embedding)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (ticket_key) DO UPDATE SET
			   summary = EXCLUDED.summary,
			   description = EXCLUDED.description,
			   resolution = EXCLUDED.resolution,
			   embedding = EXCLUDED.embedding`,
			t.TicketKey, t.Summary, t.Description, t.Resolution, embeddings[i],
		); err != nil {
			return 0, fmt.Errorf("storage: upsert solved ticket %s: %w", t.TicketKey, err)
		}
		upserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("storage: commit solved-ticket upsert: %w", err)
	}
	return upserted, nil
}

// GetSolvedTicket returns one corpus entry, or (nil, nil) when absent.
func (db *DB) GetSolvedTicket(ctx context.Context, ticketKey string) (*model.SolvedTicket, error) {
	var t model.SolvedTicket
	err := db.pool.QueryRow(ctx,
		`SELECT ticket_key, summary, description, resolution
		 FROM solved_tickets WHERE ticket_key = $1`, ticketKey,
	).Scan(&t.TicketKey, &t.Summary, &t.Description, &t.Resolution)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get solved ticket %s: %w", ticketKey, err)
	}
	return &t, nil
}

// VectorNearest returns up to k solved tickets ordered by ascending L2
// distance to the query embedding. When maxDistance > 0, farther items are
// filtered out. Rows without an embedding never match.
func (db *DB) VectorNearest(ctx context.Context, query pgvector.Vector, k int, maxDistance float64) ([]model.SimilarTicket, error) {
	if k <= 0 {
		k = 8
	}
	rows, err := db.pool.Query(ctx,
		`SELECT ticket_key, summary, description, resolution, embedding,
		        embedding <-> $1 AS distance
		 FROM solved_tickets
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <-> $1
		 LIMIT $2`,
		query, k,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: vector nearest: %w", err)
	}
	defer rows.Close()

	var out []model.SimilarTicket
	for rows.Next() {
		var t model.SimilarTicket
		var emb pgvector.Vector
		if err := rows.Scan(&t.TicketKey, &t.Summary, &t.Description, &t.Resolution, &emb, &t.Distance); err != nil {
			return nil, fmt.Errorf("storage: scan nearest row: %w", err)
		}
		if maxDistance > 0 && t.Distance > maxDistance {
			continue
		}
		t.Embedding = emb.Slice()
		out = append(out, t)
	}
	return out, rows.Err()
}
