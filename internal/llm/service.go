// Package llm calls language model providers through an ordered fallback
// chain, with per-provider retry and backoff. Provider identity is inferred
// from the model name, so the chain can mix Gemini and GPT family models.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/assistiq-ai/assistiq/internal/model"
)

const (
	// AllFailed marks a verdict produced after the whole chain was exhausted.
	AllFailed = "all_failed"

	maxAttempts    = 3
	defaultBackoff = 2 * time.Second
)

// Service runs prompts through the configured fallback chain.
type Service struct {
	chain     []string
	geminiKey string
	openaiKey string

	geminiBaseURL string
	openaiBaseURL string

	httpClient  *http.Client
	backoffBase time.Duration
	logger      *slog.Logger
}

// NewService creates a model service over the given fallback chain.
func NewService(chain []string, geminiKey, openaiKey string, logger *slog.Logger) *Service {
	return &Service{
		chain:         chain,
		geminiKey:     geminiKey,
		openaiKey:     openaiKey,
		geminiBaseURL: "https://generativelanguage.googleapis.com",
		openaiBaseURL: "https://api.openai.com",
		httpClient:    &http.Client{Timeout: 90 * time.Second},
		backoffBase:   defaultBackoff,
		logger:        logger,
	}
}

// Validate asks the chain for a structured completeness verdict over the
// ticket text and knowledge base. Vision-capable calls receive raw image
// bytes. On a JSON parse failure the same provider is retried once before
// the chain advances. When every provider fails, a sentinel error verdict is
// returned instead of an error.
func (s *Service) Validate(ctx context.Context, textBundle string, kb model.KnowledgeBase, images [][]byte) model.Verdict {
	prompt := buildValidationPrompt(textBundle, kb)

	var lastErr error
	for _, modelName := range s.chain {
		raw, err := s.callWithRetry(ctx, modelName, prompt, images)
		if err != nil {
			lastErr = err
			s.logger.Warn("llm: validation call failed", "model", modelName, "error", err)
			continue
		}

		verdict, err := parseVerdict(raw)
		if err != nil {
			// One re-ask with the same provider before falling over.
			raw, retryErr := s.callWithRetry(ctx, modelName, prompt, images)
			if retryErr == nil {
				if verdict, err = parseVerdict(raw); err == nil {
					verdict.LLMProviderModel = modelName
					return verdict
				}
			}
			lastErr = fmt.Errorf("llm: model %s returned unparseable verdict: %w", modelName, err)
			s.logger.Warn("llm: verdict parse failed", "model", modelName, "error", err)
			continue
		}

		verdict.LLMProviderModel = modelName
		return verdict
	}

	return model.Verdict{
		Module:           "Unknown",
		ValidationStatus: model.StatusError,
		MissingFields:    []string{},
		Confidence:       0,
		LLMProviderModel: AllFailed,
		ErrorMessage:     fmt.Sprintf("All LLM providers failed. Last error: %v", lastErr),
	}
}

// SynthesizeAlternatives generates n candidate solutions over the same
// evidence set, one per approach directive. Confidence is left at zero; the
// resolution pipeline scores it from retrieval evidence. Alternatives whose
// chain exhausted entirely carry the all_failed provider and empty text.
func (s *Service) SynthesizeAlternatives(ctx context.Context, ticketContext string, sources []model.Source, n int) []model.Alternative {
	if n <= 0 || n > len(approachDirectives) {
		n = len(approachDirectives)
	}
	tokens := CitationTokens(sources)

	out := make([]model.Alternative, 0, n)
	for i := 0; i < n; i++ {
		directive := approachDirectives[i]
		prompt := buildSynthesisPrompt(ticketContext, sources, directive)

		var text, usedModel string
		var lastErr error
		for _, modelName := range s.chain {
			raw, err := s.callWithRetry(ctx, modelName, prompt, nil)
			if err != nil {
				lastErr = err
				s.logger.Warn("llm: synthesis call failed", "model", modelName, "error", err)
				continue
			}
			text, usedModel = strings.TrimSpace(raw), modelName
			break
		}
		if usedModel == "" {
			usedModel = AllFailed
			s.logger.Error("llm: synthesis chain exhausted", "directive", i, "error", lastErr)
		}

		out = append(out, model.Alternative{
			SolutionText:     text,
			LLMProviderModel: usedModel,
			Sources:          tokens,
			Reasoning:        directive,
		})
	}
	return out
}

// callWithRetry applies the per-provider retry policy: rate limits retry up
// to maxAttempts with exponential backoff, auth failures skip to the next
// provider immediately, unclassified errors retry once.
func (s *Service) callWithRetry(ctx context.Context, modelName, prompt string, images [][]byte) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, attempt-1); err != nil {
				return "", err
			}
		}

		raw, err := s.callModel(ctx, modelName, prompt, images)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		var ae *apiError
		if errors.As(err, &ae) {
			if ae.authFailure() {
				return "", err
			}
			if ae.rateLimited() {
				continue
			}
		}
		// Unclassified: one retry, then give up on this provider.
		if attempt >= 1 {
			return "", lastErr
		}
	}
	return "", lastErr
}

func (s *Service) sleep(ctx context.Context, attempt int) error {
	d := s.backoffBase*(1<<attempt) + time.Duration(rand.Float64()*float64(time.Second))
	if s.backoffBase == 0 {
		d = 0
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

type rawVerdict struct {
	Module           string   `json:"module"`
	ValidationStatus string   `json:"validation_status"`
	MissingFields    []string `json:"missing_fields"`
	Confidence       float64  `json:"confidence"`
}

func parseVerdict(raw string) (model.Verdict, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	var rv rawVerdict
	if err := json.Unmarshal([]byte(cleaned), &rv); err != nil {
		return model.Verdict{}, err
	}
	if rv.ValidationStatus != model.StatusComplete && rv.ValidationStatus != model.StatusIncomplete {
		return model.Verdict{}, fmt.Errorf("unexpected validation_status %q", rv.ValidationStatus)
	}
	mf := rv.MissingFields
	if mf == nil {
		mf = []string{}
	}
	return model.Verdict{
		Module:           rv.Module,
		ValidationStatus: rv.ValidationStatus,
		MissingFields:    mf,
		Confidence:       rv.Confidence,
	}, nil
}
