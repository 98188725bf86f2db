// Package pipeline implements the two ticket-processing pipelines: validation
// (context extraction, verdict, persistence, reporter side-effects) and
// resolution (retrieval, augmentation, synthesis, guardrails, scoring,
// publishing). Collaborators are narrow interfaces so the pipelines run the
// same under the durable orchestrator, in-process fallback, and tests.
package pipeline

import (
	"context"

	"github.com/assistiq-ai/assistiq/internal/jira"
	"github.com/assistiq-ai/assistiq/internal/model"
)

// TicketPlatform is the slice of the ticket system the pipelines use.
type TicketPlatform interface {
	GetTicketDetails(ctx context.Context, ticketKey string) (jira.TicketDetails, error)
	DownloadAttachment(ctx context.Context, url string) ([]byte, error)
	AddComment(ctx context.Context, ticketKey, comment string) error
	CommentAndReassign(ctx context.Context, ticketKey, comment, assigneeID string) error
}

// Store is the slice of the persistence layer the pipelines use.
type Store interface {
	GetKnowledgeBase(ctx context.Context) (model.KnowledgeBase, error)
	UpsertValidation(ctx context.Context, ticketKey string, v model.Verdict) error
	GetValidation(ctx context.Context, ticketKey string) (*model.ValidationRecord, error)
	GetSolvedTicket(ctx context.Context, ticketKey string) (*model.SolvedTicket, error)
	AddEvent(ctx context.Context, ticketKey, eventType, message string) error
	LogResolution(ctx context.Context, rec model.ResolutionRecord) error
}

// ModelService produces verdicts and solution drafts through the provider
// fallback chain.
type ModelService interface {
	Validate(ctx context.Context, textBundle string, kb model.KnowledgeBase, images [][]byte) model.Verdict
	SynthesizeAlternatives(ctx context.Context, ticketContext string, sources []model.Source, n int) []model.Alternative
}

// Retriever performs semantic search over the solved-ticket corpus.
type Retriever interface {
	FindSimilar(ctx context.Context, queryText string, k int, maxDistance float64) ([]model.SimilarTicket, error)
	FindPotentialDuplicate(ctx context.Context, queryText string) (*model.SimilarTicket, error)
}

// Searcher performs external web search.
type Searcher interface {
	Search(ctx context.Context, ticketText string, maxResults int) ([]model.SearchResult, error)
}

// Ingestor caches search results and normalizes them into source records.
type Ingestor interface {
	IngestResults(ctx context.Context, results []model.SearchResult) []model.Source
}
