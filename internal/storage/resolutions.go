package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/assistiq-ai/assistiq/internal/model"
)

// engineerHoursPerDuplicate is the assumed triage time saved whenever a
// duplicate is short-circuited instead of investigated from scratch.
const engineerHoursPerDuplicate = 0.5

// LogResolution appends one posted solution. Insert only; history is never
// rewritten.
func (db *DB) LogResolution(ctx context.Context, rec model.ResolutionRecord) error {
	sources, err := json.Marshal(nonNil(rec.Sources))
	if err != nil {
		return fmt.Errorf("storage: marshal sources: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO resolutions (ticket_key, solution_posted, llm_provider_model, sources_json, reasoning_text, draft_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.TicketKey, rec.SolutionPosted, rec.LLMProviderModel, sources, rec.Reasoning, rec.DraftID,
	)
	if err != nil {
		return fmt.Errorf("storage: log resolution %s: %w", rec.TicketKey, err)
	}
	return nil
}

// GetResolutions returns posted solutions for a ticket, newest first.
func (db *DB) GetResolutions(ctx context.Context, ticketKey string) ([]model.ResolutionRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, ticket_key, solution_posted, llm_provider_model, sources_json, reasoning_text, draft_id, resolved_at
		 FROM resolutions WHERE ticket_key = $1 ORDER BY resolved_at DESC`, ticketKey)
	if err != nil {
		return nil, fmt.Errorf("storage: get resolutions: %w", err)
	}
	defer rows.Close()

	var out []model.ResolutionRecord
	for rows.Next() {
		var rec model.ResolutionRecord
		var sources []byte
		if err := rows.Scan(&rec.ID, &rec.TicketKey, &rec.SolutionPosted, &rec.LLMProviderModel,
			&sources, &rec.Reasoning, &rec.DraftID, &rec.ResolvedAt); err != nil {
			return nil, fmt.Errorf("storage: scan resolution row: %w", err)
		}
		if err := json.Unmarshal(sources, &rec.Sources); err != nil {
			rec.Sources = nil
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetImpactCounters aggregates the agent's measurable output.
func (db *DB) GetImpactCounters(ctx context.Context) (model.ImpactCounters, error) {
	var c model.ImpactCounters
	err := db.pool.QueryRow(ctx, `
		SELECT
		  (SELECT COUNT(*) FROM validations),
		  (SELECT COUNT(*) FROM validations WHERE duplicate_of IS NOT NULL),
		  (SELECT COUNT(*) FROM resolutions),
		  (SELECT COUNT(*) FROM drafts)`,
	).Scan(&c.TicketsTriaged, &c.DuplicatesAvoided, &c.SolutionsPosted, &c.DraftsCreated)
	if err != nil {
		return model.ImpactCounters{}, fmt.Errorf("storage: impact counters: %w", err)
	}
	c.EngineerHoursSaved = float64(c.DuplicatesAvoided) * engineerHoursPerDuplicate
	return c, nil
}
