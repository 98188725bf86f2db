// Package rag implements semantic retrieval over the solved-ticket corpus:
// embedding, nearest-neighbor search, duplicate detection and greedy
// clustering of near-identical results.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/pgvector/pgvector-go"

	"github.com/assistiq-ai/assistiq/internal/embedding"
	"github.com/assistiq-ai/assistiq/internal/model"
	"github.com/assistiq-ai/assistiq/internal/storage"
)

const (
	// DefaultK is the result count for resolution queries.
	DefaultK = 8

	// DefaultMaxDistance drops far matches from resolution queries.
	DefaultMaxDistance = 1.0

	// DuplicateThreshold is the strict L2 bound under which the nearest
	// solved ticket counts as a duplicate.
	DuplicateThreshold = 0.35

	// ClusterSimThreshold is the cosine similarity at which two retrieved
	// items are considered the same underlying issue.
	ClusterSimThreshold = 0.90
)

// VectorStore is the slice of the persistence layer retrieval needs.
type VectorStore interface {
	VectorNearest(ctx context.Context, vec pgvector.Vector, k int, maxDistance float64) ([]model.SimilarTicket, error)
	UpsertSolvedTickets(ctx context.Context, tickets []model.SolvedTicket, embeddings []pgvector.Vector) (int, error)
}

var _ VectorStore = (*storage.DB)(nil)

// Service wires the embedding provider to the vector store.
type Service struct {
	db       VectorStore
	provider embedding.Provider
	logger   *slog.Logger
}

// NewService creates a retrieval service.
func NewService(db VectorStore, provider embedding.Provider, logger *slog.Logger) *Service {
	return &Service{db: db, provider: provider, logger: logger}
}

// FindSimilar embeds the query and returns solved tickets ordered by
// ascending L2 distance. Matches beyond maxDistance are filtered out when
// maxDistance > 0.
func (s *Service) FindSimilar(ctx context.Context, queryText string, k int, maxDistance float64) ([]model.SimilarTicket, error) {
	if k <= 0 {
		k = DefaultK
	}
	vec, err := s.provider.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	return s.db.VectorNearest(ctx, vec, k, maxDistance)
}

// FindPotentialDuplicate returns the nearest solved ticket when its distance
// is strictly below the duplicate threshold, or nil when there is no
// sufficiently close match.
func (s *Service) FindPotentialDuplicate(ctx context.Context, queryText string) (*model.SimilarTicket, error) {
	matches, err := s.FindSimilar(ctx, queryText, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 || matches[0].Distance >= DuplicateThreshold {
		return nil, nil
	}
	return &matches[0], nil
}

// UpsertSolvedTickets embeds and stores the retrieval corpus rows.
// Embeddings are regenerated on every upsert so content changes are always
// reflected. Returns the number of rows written.
func (s *Service) UpsertSolvedTickets(ctx context.Context, tickets []model.SolvedTicket) (int, error) {
	if len(tickets) == 0 {
		return 0, nil
	}
	texts := make([]string, len(tickets))
	for i, tk := range tickets {
		texts[i] = EmbeddingText(tk)
	}
	vecs, err := s.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("rag: embed corpus batch: %w", err)
	}
	return s.db.UpsertSolvedTickets(ctx, tickets, vecs)
}

// EmbeddingText is the canonical text form a solved ticket is embedded under.
func EmbeddingText(t model.SolvedTicket) string {
	return fmt.Sprintf("Ticket: %s\nSummary: %s\nDescription: %s\nResolution: %s",
		t.TicketKey, t.Summary, t.Description, t.Resolution)
}

// ClusterRepresentatives greedily clusters items by cosine similarity of
// their embeddings and returns the index of each cluster's representative,
// preserving input order. Each item joins the first cluster whose
// representative is at least simThreshold similar, otherwise it starts a new
// cluster.
func ClusterRepresentatives(embeddings [][]float32, simThreshold float64) []int {
	var reps []int
	for i := range embeddings {
		attached := false
		for _, r := range reps {
			if CosineSimilarity(embeddings[i], embeddings[r]) >= simThreshold {
				attached = true
				break
			}
		}
		if !attached {
			reps = append(reps, i)
		}
	}
	return reps
}

// CosineSimilarity computes cosine similarity with an epsilon guard so
// zero-norm vectors yield 0 instead of NaN.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	const eps = 1e-9
	denom := math.Sqrt(na)*math.Sqrt(nb) + eps
	return dot / denom
}
