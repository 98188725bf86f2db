package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/assistiq-ai/assistiq/internal/model"
)

// UpsertExternalDoc caches an external document keyed by URL. When the stored
// content hash matches, the row (and its embedding) is left untouched and
// changed=false is returned; otherwise content, title, embedding and the TTL
// window are refreshed in place.
func (db *DB) UpsertExternalDoc(ctx context.Context, doc model.ExternalDoc, embedding pgvector.Vector) (changed bool, err error) {
	var existingHash string
	err = db.pool.QueryRow(ctx,
		`SELECT content_hash FROM external_docs WHERE url = $1`, doc.URL,
	).Scan(&existingHash)
	switch {
	case err == pgx.ErrNoRows:
		// fall through to insert
	case err != nil:
		return false, fmt.Errorf("storage: lookup external doc %s: %w", doc.URL, err)
	case existingHash == doc.ContentHash:
		return false, nil
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO external_docs (url, domain, title, content_text, content_hash, embedding, fetched_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (url) DO UPDATE SET
		   domain = EXCLUDED.domain,
		   title = EXCLUDED.title,
		   content_text = EXCLUDED.content_text,
		   content_hash = EXCLUDED.content_hash,
		   embedding = EXCLUDED.embedding,
		   fetched_at = EXCLUDED.fetched_at,
		   expires_at = EXCLUDED.expires_at`,
		doc.URL, doc.Domain, doc.Title, doc.ContentText, doc.ContentHash,
		embedding, doc.FetchedAt, doc.ExpiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("storage: upsert external doc %s: %w", doc.URL, err)
	}
	return true, nil
}

// GetExternalDoc returns a cached document by URL, or (nil, nil) when absent.
func (db *DB) GetExternalDoc(ctx context.Context, url string) (*model.ExternalDoc, error) {
	var d model.ExternalDoc
	err := db.pool.QueryRow(ctx,
		`SELECT url, domain, title, content_text, content_hash, fetched_at, expires_at
		 FROM external_docs WHERE url = $1`, url,
	).Scan(&d.URL, &d.Domain, &d.Title, &d.ContentText, &d.ContentHash, &d.FetchedAt, &d.ExpiresAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get external doc %s: %w", url, err)
	}
	return &d, nil
}

// PruneExpiredDocs removes cache entries past their TTL. Returns the number
// of rows removed.
func (db *DB) PruneExpiredDocs(ctx context.Context, now time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM external_docs WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("storage: prune expired docs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertSearchAudit records one external search call.
func (db *DB) InsertSearchAudit(ctx context.Context, a model.SearchAudit) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO external_search_audit (query_text, normalized_query_hash, provider_used, result_count)
		 VALUES ($1, $2, $3, $4)`,
		a.QueryText, a.NormalizedQueryHash, a.ProviderUsed, a.ResultCount,
	)
	if err != nil {
		return fmt.Errorf("storage: insert search audit: %w", err)
	}
	return nil
}
