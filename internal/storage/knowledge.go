package storage

import (
	"context"
	"fmt"

	"github.com/assistiq-ai/assistiq/internal/model"
)

// UpsertModuleKnowledge inserts or refreshes (module, field) pairs from an
// admin upload. Rows missing either value are rejected into the errors list;
// a duplicate (module, field) pair is a no-op. The whole batch runs in one
// transaction so a database failure leaves the knowledge base untouched.
func (db *DB) UpsertModuleKnowledge(ctx context.Context, rows []model.KnowledgeRow) (model.UpsertStats, error) {
	stats := model.UpsertStats{RowsProcessed: len(rows), Errors: []string{}}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("storage: begin knowledge upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, row := range rows {
		if row.ModuleName == "" || row.FieldName == "" {
			stats.Errors = append(stats.Errors, fmt.Sprintf("row %d: module_name and field_name are required", i+2))
			continue
		}

		var moduleID int64
		err := tx.QueryRow(ctx,
			`INSERT INTO module_taxonomy (module_name, description)
			 VALUES ($1, $2)
			 ON CONFLICT (module_name) DO UPDATE SET module_name = EXCLUDED.module_name
			 RETURNING id`,
			row.ModuleName, row.ModuleName+" process",
		).Scan(&moduleID)
		if err != nil {
			return stats, fmt.Errorf("storage: upsert module %q: %w", row.ModuleName, err)
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO mandatory_fields (module_id, field_name)
			 VALUES ($1, $2)
			 ON CONFLICT (module_id, field_name) DO NOTHING`,
			moduleID, row.FieldName,
		)
		if err != nil {
			return stats, fmt.Errorf("storage: upsert field %q: %w", row.FieldName, err)
		}
		if tag.RowsAffected() > 0 {
			stats.RowsUpserted++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, fmt.Errorf("storage: commit knowledge upsert: %w", err)
	}
	return stats, nil
}

// GetKnowledgeBase returns every module with its description and mandatory
// fields, in field insertion order. An empty database yields an empty map.
func (db *DB) GetKnowledgeBase(ctx context.Context) (model.KnowledgeBase, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT m.module_name, m.description, f.field_name
		 FROM module_taxonomy m
		 LEFT JOIN mandatory_fields f ON f.module_id = m.id
		 ORDER BY m.module_name, f.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get knowledge base: %w", err)
	}
	defer rows.Close()

	kb := model.KnowledgeBase{}
	for rows.Next() {
		var moduleName, description string
		var fieldName *string
		if err := rows.Scan(&moduleName, &description, &fieldName); err != nil {
			return nil, fmt.Errorf("storage: scan knowledge row: %w", err)
		}
		info := kb[moduleName]
		info.Description = description
		if fieldName != nil {
			info.MandatoryFields = append(info.MandatoryFields, *fieldName)
		}
		kb[moduleName] = info
	}
	return kb, rows.Err()
}
