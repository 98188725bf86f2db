package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/assistiq-ai/assistiq/internal/ratelimit"
)

// Server is the AssistIQ HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying handler set.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Limiter and Embedding are optional (nil = disabled).
type ServerConfig struct {
	Store      Store
	Dispatcher Dispatcher
	Corpus     CorpusWriter
	Embedding  EmbeddingStatus
	Limiter    ratelimit.Limiter
	Logger     *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	RetrievalOnly       bool
	MaxRequestBodyBytes int64
	MaxUploadBytes      int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		Dispatcher:          cfg.Dispatcher,
		Corpus:              cfg.Corpus,
		Embedding:           cfg.Embedding,
		Limiter:             cfg.Limiter,
		Logger:              cfg.Logger,
		RetrievalOnly:       cfg.RetrievalOnly,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxUploadBytes:      cfg.MaxUploadBytes,
	})

	mux := http.NewServeMux()

	// Inbound triggers.
	mux.HandleFunc("POST /api/jira-webhook", h.HandleWebhook)
	mux.HandleFunc("POST /api/trigger-validation/{ticket_key}", h.HandleTriggerValidation)

	// Admin uploads.
	mux.HandleFunc("POST /api/upload-knowledge", h.HandleUploadKnowledge)
	mux.HandleFunc("POST /api/upload-solved-tickets", h.HandleUploadSolvedTickets)

	// Triage views.
	mux.HandleFunc("GET /api/complete-tickets", h.HandleCompleteTickets)
	mux.HandleFunc("GET /api/incomplete-tickets", h.HandleIncompleteTickets)
	mux.HandleFunc("GET /api/validation-stats", h.HandleValidationStats)
	mux.HandleFunc("GET /api/timeline/{ticket_key}", h.HandleTimeline)
	mux.HandleFunc("GET /api/impact-counters", h.HandleImpactCounters)

	// Resolution flow.
	mux.HandleFunc("POST /api/generate-solutions/{ticket_key}", h.HandleGenerateSolutions)
	mux.HandleFunc("GET /api/solutions-cache/{ticket_key}", h.HandleSolutionsCache)
	mux.HandleFunc("POST /api/save-draft/{ticket_key}", h.HandleSaveDraft)
	mux.HandleFunc("GET /api/drafts/{ticket_key}", h.HandleListDrafts)
	mux.HandleFunc("POST /api/post-solution/{ticket_key}", h.HandlePostSolution)

	// Health.
	mux.HandleFunc("GET /api/health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → body limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	if cfg.MaxRequestBodyBytes > 0 {
		handler = bodyLimitMiddleware(cfg.MaxRequestBodyBytes, cfg.MaxUploadBytes, handler)
	}
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// bodyLimitMiddleware caps request body sizes. Upload routes get the larger
// upload limit; everything else the JSON body limit.
func bodyLimitMiddleware(bodyLimit, uploadLimit int64, next http.Handler) http.Handler {
	if uploadLimit <= 0 {
		uploadLimit = bodyLimit
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := bodyLimit
		switch r.URL.Path {
		case "/api/upload-knowledge", "/api/upload-solved-tickets":
			limit = uploadLimit
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
