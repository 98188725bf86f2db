package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/assistiq-ai/assistiq/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func geminiOK(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
			},
		})
	}
}

func openAIOK(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": text}},
			},
		})
	}
}

func newTestService(t *testing.T, chain []string, gemini, openai http.Handler) *Service {
	t.Helper()
	s := NewService(chain, "gk", "ok", testLogger())
	s.backoffBase = 0
	if gemini != nil {
		srv := httptest.NewServer(gemini)
		t.Cleanup(srv.Close)
		s.geminiBaseURL = srv.URL
	}
	if openai != nil {
		srv := httptest.NewServer(openai)
		t.Cleanup(srv.Close)
		s.openaiBaseURL = srv.URL
	}
	return s
}

func TestValidateParsesFencedJSON(t *testing.T) {
	verdictJSON := "```json\n{\"module\":\"AP.Invoice\",\"validation_status\":\"incomplete\",\"missing_fields\":[\"invoice_number\"],\"confidence\":0.9}\n```"
	s := newTestService(t, []string{"gemini-1.5-flash"}, geminiOK(verdictJSON), nil)

	v := s.Validate(context.Background(), "text", model.KnowledgeBase{}, nil)
	require.Equal(t, "AP.Invoice", v.Module)
	require.Equal(t, model.StatusIncomplete, v.ValidationStatus)
	require.Equal(t, []string{"invoice_number"}, v.MissingFields)
	require.Equal(t, "gemini-1.5-flash", v.LLMProviderModel)
}

func TestValidateFallsOverToNextProvider(t *testing.T) {
	gemini := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "key revoked"}})
	})
	openai := openAIOK(`{"module":"GL","validation_status":"complete","missing_fields":[],"confidence":0.8}`)

	s := newTestService(t, []string{"gemini-1.5-flash", "gpt-4o-mini"}, gemini, openai)
	v := s.Validate(context.Background(), "text", model.KnowledgeBase{}, nil)
	require.Equal(t, model.StatusComplete, v.ValidationStatus)
	require.Equal(t, "gpt-4o-mini", v.LLMProviderModel)
}

func TestValidateAllFailedSentinel(t *testing.T) {
	fail := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	s := newTestService(t, []string{"gemini-1.5-flash", "gpt-4o-mini"}, fail, fail)

	v := s.Validate(context.Background(), "text", model.KnowledgeBase{}, nil)
	require.Equal(t, "Unknown", v.Module)
	require.Equal(t, model.StatusError, v.ValidationStatus)
	require.Equal(t, AllFailed, v.LLMProviderModel)
	require.NotEmpty(t, v.ErrorMessage)
	require.Empty(t, v.MissingFields)
}

func TestValidateRetriesParseFailureOnce(t *testing.T) {
	var calls atomic.Int32
	gemini := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			geminiOK("this is not json")(w, r)
			return
		}
		geminiOK(`{"module":"AR","validation_status":"complete","missing_fields":[],"confidence":0.7}`)(w, r)
	})
	s := newTestService(t, []string{"gemini-1.5-flash"}, gemini, nil)

	v := s.Validate(context.Background(), "text", model.KnowledgeBase{}, nil)
	require.Equal(t, model.StatusComplete, v.ValidationStatus)
	require.EqualValues(t, 2, calls.Load())
}

func TestCallWithRetryRateLimit(t *testing.T) {
	var calls atomic.Int32
	gemini := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		geminiOK("ok")(w, r)
	})
	s := newTestService(t, []string{"gemini-1.5-flash"}, gemini, nil)

	raw, err := s.callWithRetry(context.Background(), "gemini-1.5-flash", "p", nil)
	require.NoError(t, err)
	require.Equal(t, "ok", raw)
	require.EqualValues(t, 3, calls.Load())
}

func TestCallWithRetryAuthSkipsImmediately(t *testing.T) {
	var calls atomic.Int32
	gemini := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	s := newTestService(t, []string{"gemini-1.5-flash"}, gemini, nil)

	_, err := s.callWithRetry(context.Background(), "gemini-1.5-flash", "p", nil)
	require.Error(t, err)
	require.EqualValues(t, 1, calls.Load())
}

func TestSynthesizeAlternativesThreeDirectives(t *testing.T) {
	s := newTestService(t, []string{"gemini-1.5-flash"}, geminiOK("Do X [INT:ERP-1]"), nil)

	sources := []model.Source{
		{SourceType: model.SourceInternal, TicketKey: "ERP-1", Summary: "s", Resolution: "r"},
		{SourceType: model.SourceExternal, URL: "https://d.example.com", Title: "t", Resolution: "c"},
	}
	alts := s.SynthesizeAlternatives(context.Background(), "ticket ctx", sources, 3)
	require.Len(t, alts, 3)
	for _, a := range alts {
		require.Equal(t, "Do X [INT:ERP-1]", a.SolutionText)
		require.Equal(t, "gemini-1.5-flash", a.LLMProviderModel)
		require.Equal(t, []string{"INT:ERP-1", "WEB:1"}, a.Sources)
		require.Zero(t, a.Confidence)
	}
	// Each alternative was generated under a distinct directive.
	require.NotEqual(t, alts[0].Reasoning, alts[1].Reasoning)
	require.NotEqual(t, alts[1].Reasoning, alts[2].Reasoning)
}

func TestCitationTokens(t *testing.T) {
	sources := []model.Source{
		{SourceType: model.SourceInternal, TicketKey: "A-1"},
		{SourceType: model.SourceExternal, URL: "u1"},
		{SourceType: model.SourceInternal, TicketKey: "A-2"},
		{SourceType: model.SourceExternal, URL: "u2"},
	}
	require.Equal(t, []string{"INT:A-1", "WEB:1", "INT:A-2", "WEB:2"}, CitationTokens(sources))
}
