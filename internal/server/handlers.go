package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/assistiq-ai/assistiq/internal/model"
	"github.com/assistiq-ai/assistiq/internal/orchestrator"
	"github.com/assistiq-ai/assistiq/internal/ratelimit"
)

// Store is the slice of the persistence layer the HTTP surface reads.
type Store interface {
	Ping(ctx context.Context) error
	GetCompleteTickets(ctx context.Context) ([]model.ValidationRecord, error)
	GetIncompleteTickets(ctx context.Context) ([]model.ValidationRecord, error)
	ValidationStats(ctx context.Context) (model.ValidationStats, error)
	GetTimeline(ctx context.Context, ticketKey string) ([]model.TicketEvent, error)
	GetResolutions(ctx context.Context, ticketKey string) ([]model.ResolutionRecord, error)
	GetImpactCounters(ctx context.Context) (model.ImpactCounters, error)
	SaveDraft(ctx context.Context, ticketKey, draftText, author string) (model.Draft, error)
	ListDrafts(ctx context.Context, ticketKey string) ([]model.Draft, error)
	UpsertModuleKnowledge(ctx context.Context, rows []model.KnowledgeRow) (model.UpsertStats, error)
}

// Dispatcher starts pipeline runs; the orchestrator satisfies it.
type Dispatcher interface {
	StartValidateTicket(ctx context.Context, ticketKey string) error
	GenerateResolution(ctx context.Context, ticketKey string) (model.ResolutionResult, error)
	PostResolution(ctx context.Context, args orchestrator.PostResolutionArgs) error
	Results() *orchestrator.ResultCache
	EngineReady() bool
}

// CorpusWriter embeds and stores solved tickets for retrieval.
type CorpusWriter interface {
	UpsertSolvedTickets(ctx context.Context, tickets []model.SolvedTicket) (int, error)
}

// EmbeddingStatus reports (and triggers) embedding model readiness.
type EmbeddingStatus interface {
	Warm(ctx context.Context) error
	Loaded() bool
}

// Handlers carries the HTTP handler dependencies.
type Handlers struct {
	store      Store
	dispatcher Dispatcher
	corpus     CorpusWriter
	embedding  EmbeddingStatus
	limiter    ratelimit.Limiter
	logger     *slog.Logger

	retrievalOnly       bool
	maxRequestBodyBytes int64
	maxUploadBytes      int64

	// inFlight guards solution generation: one run per ticket at a time.
	inFlightMu sync.Mutex
	inFlight   map[string]bool
}

// HandlersDeps bundles the dependencies for NewHandlers.
type HandlersDeps struct {
	Store               Store
	Dispatcher          Dispatcher
	Corpus              CorpusWriter
	Embedding           EmbeddingStatus
	Limiter             ratelimit.Limiter
	Logger              *slog.Logger
	RetrievalOnly       bool
	MaxRequestBodyBytes int64
	MaxUploadBytes      int64
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	return &Handlers{
		store:               deps.Store,
		dispatcher:          deps.Dispatcher,
		corpus:              deps.Corpus,
		embedding:           deps.Embedding,
		limiter:             limiter,
		logger:              deps.Logger,
		retrievalOnly:       deps.RetrievalOnly,
		maxRequestBodyBytes: deps.MaxRequestBodyBytes,
		maxUploadBytes:      deps.MaxUploadBytes,
		inFlight:            make(map[string]bool),
	}
}

// HandleWebhook accepts platform webhooks. It always answers 200 so the
// platform never retries or disables the hook; bad payloads are logged and
// dropped.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		WebhookEvent string `json:"webhookEvent"`
		Issue        struct {
			Key string `json:"key"`
		} `json:"issue"`
	}
	if err := decodeJSON(r, &payload); err != nil || payload.Issue.Key == "" {
		h.logger.Warn("webhook: unparseable payload, acknowledged anyway", "error", err)
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := h.dispatcher.StartValidateTicket(r.Context(), payload.Issue.Key); err != nil {
		h.logger.Error("webhook: dispatch failed", "ticket", payload.Issue.Key, "error", err)
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "accepted_with_errors"})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "accepted", "ticket_key": payload.Issue.Key})
}

// HandleTriggerValidation starts validation for one ticket on demand.
func (h *Handlers) HandleTriggerValidation(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("ticket_key")
	if key == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "ticket key is required")
		return
	}
	if err := h.dispatcher.StartValidateTicket(r.Context(), key); err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not start validation")
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "queued", "ticket_key": key})
}

// HandleCompleteTickets lists validated-complete tickets.
func (h *Handlers) HandleCompleteTickets(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.GetCompleteTickets(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not list tickets")
		return
	}
	writeJSON(w, r, http.StatusOK, recs)
}

// HandleIncompleteTickets lists validated-incomplete tickets.
func (h *Handlers) HandleIncompleteTickets(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.GetIncompleteTickets(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not list tickets")
		return
	}
	writeJSON(w, r, http.StatusOK, recs)
}

// HandleGenerateSolutions runs the resolution pipeline for a ticket. It is
// rate limited per ticket, and concurrent requests for the same ticket are
// rejected rather than queued: the first caller gets the result, the rest
// should read the cache.
func (h *Handlers) HandleGenerateSolutions(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("ticket_key")
	if key == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "ticket key is required")
		return
	}

	allowed, retryAfter, err := h.limiter.Allow(r.Context(), "generate:"+key)
	if err != nil {
		h.logger.Warn("generate: limiter failed open", "ticket", key, "error", err)
	} else if !allowed {
		w.Header().Set("Retry-After", itoa(retryAfter))
		writeError(w, r, http.StatusTooManyRequests, model.ErrCodeRateLimited,
			"solution generation for this ticket was requested too recently")
		return
	}

	if !h.acquire(key) {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict,
			"solution generation for this ticket is already in progress")
		return
	}
	defer h.release(key)

	res, err := h.dispatcher.GenerateResolution(r.Context(), key)
	if err != nil {
		h.logger.Error("generate: resolution failed", "ticket", key, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "solution generation failed")
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleSolutionsCache returns the last generated result for a ticket.
func (h *Handlers) HandleSolutionsCache(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("ticket_key")
	cached, ok := h.dispatcher.Results().Get(key)
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no cached solutions for ticket")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"result":    cached.Result,
		"cached_at": cached.CachedAt,
	})
}

// HandleSaveDraft stores a human-authored draft for a ticket.
func (h *Handlers) HandleSaveDraft(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("ticket_key")
	var req struct {
		DraftText string `json:"draft_text"`
		Author    string `json:"author"`
	}
	if err := decodeJSON(r, &req); err != nil || req.DraftText == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "draft_text is required")
		return
	}
	draft, err := h.store.SaveDraft(r.Context(), key, req.DraftText, req.Author)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not save draft")
		return
	}
	writeJSON(w, r, http.StatusCreated, draft)
}

// HandleListDrafts returns a ticket's drafts, newest first.
func (h *Handlers) HandleListDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := h.store.ListDrafts(r.Context(), r.PathValue("ticket_key"))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not list drafts")
		return
	}
	writeJSON(w, r, http.StatusOK, drafts)
}

// HandlePostSolution publishes an approved solution to the ticket.
func (h *Handlers) HandlePostSolution(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("ticket_key")
	var req struct {
		SolutionText     string     `json:"solution_text"`
		LLMProviderModel string     `json:"llm_provider_model"`
		Sources          []string   `json:"sources"`
		Reasoning        string     `json:"reasoning"`
		DraftID          *uuid.UUID `json:"draft_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.SolutionText == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "solution_text is required")
		return
	}

	err := h.dispatcher.PostResolution(r.Context(), orchestrator.PostResolutionArgs{
		TicketKey:        key,
		SolutionText:     req.SolutionText,
		LLMProviderModel: req.LLMProviderModel,
		Sources:          req.Sources,
		Reasoning:        req.Reasoning,
		DraftID:          req.DraftID,
	})
	if err != nil {
		h.logger.Error("post-solution failed", "ticket", key, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not post solution")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "posted", "ticket_key": key})
}

// HandleTimeline returns a ticket's event timeline plus posted resolutions.
func (h *Handlers) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("ticket_key")
	events, err := h.store.GetTimeline(r.Context(), key)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not load timeline")
		return
	}
	resolutions, err := h.store.GetResolutions(r.Context(), key)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not load resolutions")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"ticket_key":  key,
		"events":      events,
		"resolutions": resolutions,
	})
}

// HandleImpactCounters returns the agent's aggregate impact numbers.
func (h *Handlers) HandleImpactCounters(w http.ResponseWriter, r *http.Request) {
	counters, err := h.store.GetImpactCounters(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not load counters")
		return
	}
	writeJSON(w, r, http.StatusOK, counters)
}

// HandleValidationStats returns validation record counts by status.
func (h *Handlers) HandleValidationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.ValidationStats(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not load stats")
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// HandleHealth reports component readiness. ?warm=true additionally triggers
// an embedding model warmup before reporting.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("warm") == "true" && h.embedding != nil {
		if err := h.embedding.Warm(r.Context()); err != nil {
			h.logger.Warn("health: embedding warmup failed", "error", err)
		}
	}

	status := model.HealthStatus{
		DBOK:              h.store.Ping(r.Context()) == nil,
		EngineOK:          h.dispatcher.EngineReady(),
		RetrievalOnlyMode: h.retrievalOnly,
	}
	if h.embedding != nil {
		status.EmbeddingModelLoaded = h.embedding.Loaded()
	}

	code := http.StatusOK
	if !status.DBOK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

func (h *Handlers) acquire(key string) bool {
	h.inFlightMu.Lock()
	defer h.inFlightMu.Unlock()
	if h.inFlight[key] {
		return false
	}
	h.inFlight[key] = true
	return true
}

func (h *Handlers) release(key string) {
	h.inFlightMu.Lock()
	defer h.inFlightMu.Unlock()
	delete(h.inFlight, key)
}

func itoa(n int) string {
	if n < 1 {
		n = 1
	}
	return strconv.Itoa(n)
}
