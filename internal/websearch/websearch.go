// Package websearch abstracts external web search with a deterministic
// heuristic fallback, so the resolution pipeline never depends on a search
// credential being present.
package websearch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/assistiq-ai/assistiq/internal/model"
)

const (
	// DefaultMaxResults bounds result lists from either provider.
	DefaultMaxResults = 5

	tavilyEndpoint = "https://api.tavily.com/search"
	queryLimit     = 8000
	snippetLimit   = 600
)

// Auditor records one row per external search call.
type Auditor interface {
	InsertSearchAudit(ctx context.Context, a model.SearchAudit) error
}

// Service performs external searches with transparent fallback. When no
// Tavily key is configured, or the API call fails or returns nothing, a
// deterministic heuristic produces synthetic results from the query text.
type Service struct {
	apiKey     string
	enabled    bool
	baseURL    string
	httpClient *http.Client
	audit      Auditor
	logger     *slog.Logger
}

// NewService creates a search service. An empty apiKey selects the heuristic
// provider; enabled=false disables search entirely.
func NewService(apiKey string, enabled bool, audit Auditor, logger *slog.Logger) *Service {
	return &Service{
		apiKey:     apiKey,
		enabled:    enabled,
		baseURL:    tavilyEndpoint,
		httpClient: &http.Client{Timeout: 25 * time.Second},
		audit:      audit,
		logger:     logger,
	}
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeQuery lower-cases, collapses whitespace and truncates the query
// for audit hashing.
func NormalizeQuery(text string) string {
	norm := whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
	if len(norm) > 500 {
		norm = norm[:500]
	}
	return norm
}

// Search returns up to maxResults results for the ticket text. Every call,
// whichever provider served it, writes one audit row keyed by the hash of
// the normalized query.
func (s *Service) Search(ctx context.Context, ticketText string, maxResults int) ([]model.SearchResult, error) {
	if !s.enabled {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	query := strings.TrimSpace(ticketText)
	if len(query) > queryLimit {
		query = query[:queryLimit]
	}
	sum := sha256.Sum256([]byte(NormalizeQuery(query)))
	normHash := hex.EncodeToString(sum[:])

	if s.apiKey != "" {
		results, err := s.tavilySearch(ctx, query, maxResults)
		if err != nil {
			s.logger.Warn("websearch: tavily failed, falling back to heuristic", "error", err)
		} else if len(results) > 0 {
			s.recordAudit(ctx, query, normHash, "tavily", len(results))
			return results, nil
		}
	}

	results := heuristicResults(ticketText, maxResults)
	s.recordAudit(ctx, query, normHash, "heuristic", len(results))
	return results, nil
}

func (s *Service) recordAudit(ctx context.Context, query, normHash, provider string, count int) {
	if s.audit == nil {
		return
	}
	err := s.audit.InsertSearchAudit(ctx, model.SearchAudit{
		QueryText:           query,
		NormalizedQueryHash: normHash,
		ProviderUsed:        provider,
		ResultCount:         count,
	})
	if err != nil {
		s.logger.Warn("websearch: audit insert failed", "error", err)
	}
}

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilyResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s *Service) tavilySearch(ctx context.Context, query string, maxResults int) ([]model.SearchResult, error) {
	reqBody, err := json.Marshal(tavilyRequest{
		APIKey:      s.apiKey,
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: "advanced",
	})
	if err != nil {
		return nil, fmt.Errorf("websearch: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("websearch: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("websearch: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("websearch: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result tavilyResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("websearch: unmarshal response: %w", err)
	}

	var out []model.SearchResult
	for _, r := range result.Results {
		if len(out) == maxResults {
			break
		}
		title := r.Title
		if title == "" {
			title = "Untitled"
		}
		snippet := r.Content
		if len(snippet) > snippetLimit {
			snippet = snippet[:snippetLimit]
		}
		out = append(out, model.SearchResult{URL: r.URL, Title: title, Snippet: snippet})
	}
	return out, nil
}

// heuristicResults derives deterministic pseudo-results from the longest
// non-empty lines of the query text. The same ticket text always produces
// the same faux URLs, which keeps the document cache stable across runs.
func heuristicResults(ticketText string, maxResults int) []model.SearchResult {
	var lines []string
	for _, l := range strings.Split(ticketText, "\n") {
		if t := strings.TrimSpace(l); t != "" {
			lines = append(lines, t)
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return len(lines[i]) > len(lines[j]) })
	if len(lines) > maxResults {
		lines = lines[:maxResults]
	}

	out := make([]model.SearchResult, 0, len(lines))
	for i, line := range lines {
		h := sha256.Sum256([]byte(line))
		snippet := line
		if len(snippet) > 180 {
			snippet = snippet[:180]
		}
		out = append(out, model.SearchResult{
			URL:     fmt.Sprintf("https://assistiq.local/faux/%s", hex.EncodeToString(h[:])[:10]),
			Title:   fmt.Sprintf("Heuristic Context %d", i+1),
			Snippet: snippet,
		})
	}
	return out
}
