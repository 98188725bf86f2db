// Package compliance redacts sensitive tokens from text before it is sent
// to any model provider.
package compliance

import "regexp"

// RedactionToken replaces every match, regardless of which pattern hit.
const RedactionToken = "[REDACTED]"

// Patterns are applied in order; a broad pattern running first can mask a
// narrower one, so the order is part of the contract.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),         // emails
	regexp.MustCompile(`(?i)\b(?:sk|api|key)[_-][A-Za-z0-9]{8,}\b`),              // API-key-shaped tokens
	regexp.MustCompile(`(?i)\b[a-f0-9]{32,}\b`),                                  // long hex runs
	regexp.MustCompile(`\b[A-Za-z0-9+/]{40,}={0,2}\b`),                           // base64-like blobs
	regexp.MustCompile(`\b[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\b`),  // JWT-shaped triples
}

// Scrub returns the redacted text and the number of redactions applied.
func Scrub(text string) (string, int) {
	count := 0
	for _, pat := range patterns {
		text = pat.ReplaceAllStringFunc(text, func(string) string {
			count++
			return RedactionToken
		})
	}
	return text, count
}
