// Package guardrail validates LLM-drafted solutions before anything reaches
// a ticket: citation coverage, source whitelisting and unsafe command
// stripping.
package guardrail

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/assistiq-ai/assistiq/internal/model"
)

// Command patterns that must never appear in a posted solution. Matching is
// case-insensitive; the whole paragraph is dropped on a hit.
var unsafePatterns = []string{
	"DROP TABLE", "DELETE FROM", "TRUNCATE ", "SHUTDOWN IMMEDIATE", "rm -rf /",
	"format c:", "ALTER SYSTEM", "GRANT ALL",
}

var citationRe = regexp.MustCompile(`\[(INT:[^\]]+|WEB:[^\]]+)\]`)

// ValidateSolution checks a drafted solution against the allowed citation
// sets. Each line is treated as a paragraph. Returns the cleaned text (unsafe
// paragraphs removed), the issue list, and is_valid, which is false iff any
// issue has severity error.
func ValidateSolution(solutionText string, allowedInternalKeys []string, allowedExternalIndices []int) (string, []model.GuardrailIssue, bool) {
	allowedInternal := make(map[string]bool, len(allowedInternalKeys))
	for _, k := range allowedInternalKeys {
		allowedInternal["INT:"+k] = true
	}
	allowedExternal := make(map[string]bool, len(allowedExternalIndices))
	for _, idx := range allowedExternalIndices {
		allowedExternal[fmt.Sprintf("WEB:%d", idx)] = true
	}

	var issues []model.GuardrailIssue
	var cleaned []string
	for i, para := range strings.Split(solutionText, "\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			cleaned = append(cleaned, para)
			continue
		}

		citations := citationRe.FindAllStringSubmatch(para, -1)
		if len(citations) == 0 && len(strings.Fields(para)) > 4 {
			issues = append(issues, model.GuardrailIssue{
				Severity:       model.SeverityWarning,
				Message:        "Paragraph lacks citations",
				ParagraphIndex: i,
			})
		}
		for _, c := range citations {
			token := c[1]
			switch {
			case strings.HasPrefix(token, "INT:") && !allowedInternal[token]:
				issues = append(issues, model.GuardrailIssue{
					Severity:       model.SeverityError,
					Message:        fmt.Sprintf("Unknown internal citation %s", token),
					ParagraphIndex: i,
				})
			case strings.HasPrefix(token, "WEB:") && !allowedExternal[token]:
				issues = append(issues, model.GuardrailIssue{
					Severity:       model.SeverityError,
					Message:        fmt.Sprintf("Unknown external citation %s", token),
					ParagraphIndex: i,
				})
			}
		}

		if hits := unsafeHits(para); len(hits) > 0 {
			issues = append(issues, model.GuardrailIssue{
				Severity:       model.SeverityError,
				Message:        fmt.Sprintf("Unsafe command pattern(s): %s", strings.Join(hits, ", ")),
				ParagraphIndex: i,
			})
			// Drop the paragraph entirely.
			continue
		}
		cleaned = append(cleaned, para)
	}

	isValid := true
	for _, iss := range issues {
		if iss.Severity == model.SeverityError {
			isValid = false
			break
		}
	}
	return strings.Join(cleaned, "\n"), issues, isValid
}

func unsafeHits(para string) []string {
	lower := strings.ToLower(para)
	var hits []string
	for _, pat := range unsafePatterns {
		if strings.Contains(lower, strings.ToLower(pat)) {
			hits = append(hits, pat)
		}
	}
	return hits
}
