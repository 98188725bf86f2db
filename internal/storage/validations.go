package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/assistiq-ai/assistiq/internal/model"
)

// escalateThreshold marks low-confidence verdicts for human attention.
const escalateThreshold = 0.2

// UpsertValidation writes the verdict for a ticket, keyed by ticket_key, and
// appends the matching timeline event in the same transaction. Re-validation
// refreshes the row in place with validated_at = now().
func (db *DB) UpsertValidation(ctx context.Context, ticketKey string, v model.Verdict) error {
	missing, err := json.Marshal(nonNil(v.MissingFields))
	if err != nil {
		return fmt.Errorf("storage: marshal missing fields: %w", err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin validation upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	priority := v.Priority
	if priority == "" {
		priority = model.PriorityP3
	}
	var duplicateOf *string
	if v.DuplicateOf != "" {
		duplicateOf = &v.DuplicateOf
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO validations
		   (ticket_key, module, status, missing_fields, confidence, llm_provider_model, priority, duplicate_of, validated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		 ON CONFLICT (ticket_key) DO UPDATE SET
		   module = EXCLUDED.module,
		   status = EXCLUDED.status,
		   missing_fields = EXCLUDED.missing_fields,
		   confidence = EXCLUDED.confidence,
		   llm_provider_model = EXCLUDED.llm_provider_model,
		   priority = EXCLUDED.priority,
		   duplicate_of = EXCLUDED.duplicate_of,
		   validated_at = now()`,
		ticketKey, v.Module, v.ValidationStatus, missing, v.Confidence,
		v.LLMProviderModel, priority, duplicateOf,
	); err != nil {
		return fmt.Errorf("storage: upsert validation %s: %w", ticketKey, err)
	}

	eventType, message := validationEvent(v)
	if _, err := tx.Exec(ctx,
		`INSERT INTO ticket_events (ticket_key, event_type, message) VALUES ($1, $2, $3)`,
		ticketKey, eventType, message,
	); err != nil {
		return fmt.Errorf("storage: append validation event %s: %w", ticketKey, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit validation upsert: %w", err)
	}
	return nil
}

func validationEvent(v model.Verdict) (eventType, message string) {
	switch v.ValidationStatus {
	case model.StatusComplete:
		return model.EventValidatedComplete,
			fmt.Sprintf("Validated complete for module %s (confidence %.2f)", v.Module, v.Confidence)
	case model.StatusIncomplete:
		return model.EventValidatedIncomplete,
			fmt.Sprintf("Validated incomplete for module %s; missing: %s", v.Module, strings.Join(v.MissingFields, ", "))
	default:
		return model.EventValidationError, "Validation failed: " + v.ErrorMessage
	}
}

// GetLastKnownStatuses returns the stored status for each requested key.
// Keys with no validation record are absent from the map.
func (db *DB) GetLastKnownStatuses(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT ticket_key, status FROM validations WHERE ticket_key = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("storage: get last known statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, status string
		if err := rows.Scan(&key, &status); err != nil {
			return nil, fmt.Errorf("storage: scan status row: %w", err)
		}
		out[key] = status
	}
	return out, rows.Err()
}

// GetLastValidationTimestamp returns when the ticket was last validated, or
// nil if it never was.
func (db *DB) GetLastValidationTimestamp(ctx context.Context, ticketKey string) (*time.Time, error) {
	var ts time.Time
	err := db.pool.QueryRow(ctx,
		`SELECT validated_at FROM validations WHERE ticket_key = $1`, ticketKey,
	).Scan(&ts)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get validation timestamp %s: %w", ticketKey, err)
	}
	return &ts, nil
}

// GetValidation returns the validation record for one ticket, or (nil, nil)
// when absent.
func (db *DB) GetValidation(ctx context.Context, ticketKey string) (*model.ValidationRecord, error) {
	recs, err := db.queryValidations(ctx,
		`SELECT ticket_key, module, status, missing_fields, confidence, llm_provider_model, priority, duplicate_of, validated_at
		 FROM validations WHERE ticket_key = $1`, ticketKey)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// GetCompleteTickets returns complete-status records, newest first.
func (db *DB) GetCompleteTickets(ctx context.Context) ([]model.ValidationRecord, error) {
	return db.queryValidations(ctx,
		`SELECT ticket_key, module, status, missing_fields, confidence, llm_provider_model, priority, duplicate_of, validated_at
		 FROM validations WHERE status = $1 ORDER BY validated_at DESC`, model.StatusComplete)
}

// GetIncompleteTickets returns incomplete-status records, newest first.
func (db *DB) GetIncompleteTickets(ctx context.Context) ([]model.ValidationRecord, error) {
	return db.queryValidations(ctx,
		`SELECT ticket_key, module, status, missing_fields, confidence, llm_provider_model, priority, duplicate_of, validated_at
		 FROM validations WHERE status = $1 ORDER BY validated_at DESC`, model.StatusIncomplete)
}

func (db *DB) queryValidations(ctx context.Context, sql string, args ...any) ([]model.ValidationRecord, error) {
	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query validations: %w", err)
	}
	defer rows.Close()

	var out []model.ValidationRecord
	for rows.Next() {
		var rec model.ValidationRecord
		var missing []byte
		var duplicateOf *string
		if err := rows.Scan(&rec.TicketKey, &rec.Module, &rec.Status, &missing,
			&rec.Confidence, &rec.LLMProviderModel, &rec.Priority, &duplicateOf, &rec.ValidatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan validation row: %w", err)
		}
		if err := json.Unmarshal(missing, &rec.MissingFields); err != nil {
			rec.MissingFields = nil
		}
		if duplicateOf != nil {
			rec.DuplicateOf = *duplicateOf
		}
		rec.Escalate = rec.Confidence < escalateThreshold
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountIncomplete returns the number of tickets currently in incomplete state.
func (db *DB) CountIncomplete(ctx context.Context) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM validations WHERE status = $1`, model.StatusIncomplete,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count incomplete: %w", err)
	}
	return n, nil
}

// ValidationStats returns validation record counts by status.
func (db *DB) ValidationStats(ctx context.Context) (model.ValidationStats, error) {
	rows, err := db.pool.Query(ctx, `SELECT status, COUNT(*) FROM validations GROUP BY status`)
	if err != nil {
		return model.ValidationStats{}, fmt.Errorf("storage: validation stats: %w", err)
	}
	defer rows.Close()

	var stats model.ValidationStats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return model.ValidationStats{}, fmt.Errorf("storage: scan stats row: %w", err)
		}
		switch status {
		case model.StatusComplete:
			stats.Complete = n
		case model.StatusIncomplete:
			stats.Incomplete = n
		case model.StatusError:
			stats.Error = n
		}
		stats.Total += n
	}
	return stats, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
