// Package ingest caches external search results as embedded documents and
// normalizes them into citeable source records.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/url"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/assistiq-ai/assistiq/internal/embedding"
	"github.com/assistiq-ai/assistiq/internal/model"
	"github.com/assistiq-ai/assistiq/internal/storage"
)

// DefaultTTL is how long a cached external document stays valid.
const DefaultTTL = 7 * 24 * time.Hour

const resolutionTrim = 1500

// DocStore is the slice of the persistence layer the ingest path needs.
type DocStore interface {
	UpsertExternalDoc(ctx context.Context, doc model.ExternalDoc, embedding pgvector.Vector) (bool, error)
	PruneExpiredDocs(ctx context.Context, now time.Time) (int64, error)
}

var _ DocStore = (*storage.DB)(nil)

// Service upserts search results into the document cache.
type Service struct {
	db       DocStore
	provider embedding.Provider
	ttl      time.Duration
	logger   *slog.Logger
}

// NewService creates an ingest service. ttl <= 0 selects the default.
func NewService(db DocStore, provider embedding.Provider, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{db: db, provider: provider, ttl: ttl, logger: logger}
}

// IngestResults upserts each raw search result keyed by URL, re-embedding
// only when the content hash changed, and returns normalized external source
// records. Individual upsert failures are logged and skipped; search
// augmentation is best-effort by contract.
func (s *Service) IngestResults(ctx context.Context, results []model.SearchResult) []model.Source {
	now := time.Now().UTC()
	var out []model.Source
	for _, r := range results {
		content := r.Snippet
		if content == "" {
			content = r.Title
		}
		if content == "" {
			content = "No content."
		}
		title := r.Title
		if title == "" {
			title = "Untitled"
		}

		sum := sha256.Sum256([]byte(content))
		doc := model.ExternalDoc{
			URL:         r.URL,
			Domain:      hostOf(r.URL),
			Title:       title,
			ContentText: content,
			ContentHash: hex.EncodeToString(sum[:]),
			FetchedAt:   now,
			ExpiresAt:   now.Add(s.ttl),
		}

		vec, err := s.provider.Embed(ctx, content)
		if err != nil {
			s.logger.Warn("ingest: embed external doc failed", "url", r.URL, "error", err)
			vec = pgvector.NewVector(make([]float32, s.provider.Dimensions()))
		}
		if _, err := s.db.UpsertExternalDoc(ctx, doc, vec); err != nil {
			s.logger.Warn("ingest: upsert external doc failed", "url", r.URL, "error", err)
			continue
		}

		resolution := content
		if len(resolution) > resolutionTrim {
			resolution = resolution[:resolutionTrim]
		}
		summary := title
		if summary == "" {
			summary = r.URL
		}
		out = append(out, model.Source{
			SourceType: model.SourceExternal,
			URL:        r.URL,
			Title:      title,
			Summary:    summary,
			Resolution: resolution,
		})
	}
	return out
}

// PruneExpired removes documents past their TTL.
func (s *Service) PruneExpired(ctx context.Context) (int64, error) {
	return s.db.PruneExpiredDocs(ctx, time.Now().UTC())
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
