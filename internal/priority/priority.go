// Package priority derives a ticket priority heuristically from its text.
package priority

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/assistiq-ai/assistiq/internal/model"
)

var p1Keywords = []string{"production down", "system down", "cannot login", "data loss", "critical", "outage"}

var p2Keywords = []string{"slow", "performance", "failed", "error", "timeout", "degraded"}

var errorCodeRe = regexp.MustCompile(`error\s+\d{3,}`)

// Classify tags a ticket P1, P2 or P3 from its summary and description.
// Matching is first-hit-wins in a fixed keyword order, so P1 always beats P2
// when both are present.
func Classify(summary, description string) (string, string) {
	text := strings.ToLower(summary + "\n" + description)
	for _, kw := range p1Keywords {
		if strings.Contains(text, kw) {
			return model.PriorityP1, fmt.Sprintf("Matched critical keyword %q", kw)
		}
	}
	for _, kw := range p2Keywords {
		if strings.Contains(text, kw) {
			return model.PriorityP2, fmt.Sprintf("Matched elevated keyword %q", kw)
		}
	}
	if errorCodeRe.MatchString(text) {
		return model.PriorityP2, "Found numeric error code"
	}
	return model.PriorityP3, "No priority keywords found"
}
