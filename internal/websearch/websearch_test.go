package websearch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/assistiq-ai/assistiq/internal/model"
)

type recordingAuditor struct {
	rows []model.SearchAudit
}

func (r *recordingAuditor) InsertSearchAudit(_ context.Context, a model.SearchAudit) error {
	r.rows = append(r.rows, a)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalizeQuery(t *testing.T) {
	got := NormalizeQuery("  Invoice   POSTING\n\tfails ")
	require.Equal(t, "invoice posting fails", got)
}

func TestSearchDisabled(t *testing.T) {
	s := NewService("", false, nil, discardLogger())
	results, err := s.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestHeuristicFallbackDeterministic(t *testing.T) {
	audit := &recordingAuditor{}
	s := NewService("", true, audit, discardLogger())

	text := "short\nthis is the longest line in the whole ticket body\nmedium length line"
	first, err := s.Search(context.Background(), text, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	// Longest line ranks first and the faux URL is stable.
	require.Equal(t, "Heuristic Context 1", first[0].Title)
	require.True(t, strings.HasPrefix(first[0].URL, "https://assistiq.local/faux/"))
	require.Contains(t, first[0].Snippet, "longest line")

	second, err := s.Search(context.Background(), text, 2)
	require.NoError(t, err)
	require.Equal(t, first, second)

	require.Len(t, audit.rows, 2)
	require.Equal(t, "heuristic", audit.rows[0].ProviderUsed)
	require.Equal(t, 2, audit.rows[0].ResultCount)
	require.Equal(t, audit.rows[0].NormalizedQueryHash, audit.rows[1].NormalizedQueryHash)
}

func TestTavilyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tavilyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "key-123", req.APIKey)
		require.Equal(t, "advanced", req.SearchDepth)

		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"url": "https://docs.example.com/gl", "title": "GL periods", "content": "how to reopen a period"},
				{"url": "https://docs.example.com/x", "title": "", "content": "untitled doc"},
			},
		})
	}))
	defer srv.Close()

	audit := &recordingAuditor{}
	s := NewService("key-123", true, audit, discardLogger())
	s.baseURL = srv.URL

	results, err := s.Search(context.Background(), "GL posting fails", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "GL periods", results[0].Title)
	require.Equal(t, "Untitled", results[1].Title)

	require.Len(t, audit.rows, 1)
	require.Equal(t, "tavily", audit.rows[0].ProviderUsed)
}

func TestTavilyFailureFallsBackToHeuristic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	audit := &recordingAuditor{}
	s := NewService("key-123", true, audit, discardLogger())
	s.baseURL = srv.URL

	results, err := s.Search(context.Background(), "GL posting fails with error", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "heuristic", audit.rows[0].ProviderUsed)
}
