package model

import "time"

// SearchResult is one raw hit from the web-search provider (or the heuristic
// fallback) before ingestion.
type SearchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// ExternalDoc is a cached external document, keyed by URL. Rows are refreshed
// in place when the content hash changes; expires_at = fetched_at + TTL.
type ExternalDoc struct {
	URL         string    `json:"url"`
	Domain      string    `json:"domain,omitempty"`
	Title       string    `json:"title"`
	ContentText string    `json:"content_text"`
	ContentHash string    `json:"content_hash"`
	FetchedAt   time.Time `json:"fetched_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SearchAudit records one external search call for reproducibility.
type SearchAudit struct {
	QueryText           string    `json:"query_text"`
	NormalizedQueryHash string    `json:"normalized_query_hash"`
	ProviderUsed        string    `json:"provider_used"`
	ResultCount         int       `json:"result_count"`
	CreatedAt           time.Time `json:"created_at"`
}

// ValidationStats is the count of validation records by status.
type ValidationStats struct {
	Complete   int `json:"complete"`
	Incomplete int `json:"incomplete"`
	Error      int `json:"error"`
	Total      int `json:"total"`
}
