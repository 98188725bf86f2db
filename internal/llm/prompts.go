package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/assistiq-ai/assistiq/internal/model"
)

// Approach directives for multi-alternative synthesis. Each alternative is
// generated under one directive over the same evidence set.
var approachDirectives = []string{
	"Produce a step-by-step remediation guide the reporter can follow immediately.",
	"Identify the most likely root cause and explain how to confirm and fix it.",
	"Focus on prevention and optimization: how to keep this problem from recurring.",
}

func buildValidationPrompt(textBundle string, kb model.KnowledgeBase) string {
	knowledge, err := json.MarshalIndent(kb, "", "  ")
	if err != nil {
		knowledge = []byte("{}")
	}
	var b strings.Builder
	b.WriteString("**System Preamble**\n")
	b.WriteString("You are an expert AI agent for Oracle ERP systems. Your task is to analyze a JIRA ticket's text AND ANY ATTACHED IMAGES to determine if it contains all mandatory information for a business process.\n\n")
	b.WriteString("**Instructions**\n")
	b.WriteString("1. Analyze the 'JIRA Ticket Text Bundle' and any images provided.\n")
	b.WriteString("2. Determine which ERP module the ticket relates to from the 'Module Knowledge Base'.\n")
	b.WriteString("3. Check if all 'mandatory_fields' for that module are present.\n")
	b.WriteString("4. Provide your verdict in a single, clean JSON object. Do not add any explanatory text.\n\n")
	b.WriteString("**JSON Output Format**\n")
	b.WriteString("{\n")
	b.WriteString("  \"module\": \"The name of the module you identified (e.g., 'AP.Invoice')\",\n")
	b.WriteString("  \"validation_status\": \"Either 'complete' or 'incomplete'\",\n")
	b.WriteString("  \"missing_fields\": [\"A list of missing mandatory fields. Empty if complete.\"],\n")
	b.WriteString("  \"confidence\": 0.0\n")
	b.WriteString("}\n\n")
	b.WriteString("---\n**Module Knowledge Base**\n```json\n")
	b.Write(knowledge)
	b.WriteString("\n```\n---\n**JIRA Ticket Text Bundle**\n```text\n")
	b.WriteString(textBundle)
	b.WriteString("\n```\n---\n**Your Verdict (JSON only)**\n")
	return b.String()
}

func buildSynthesisPrompt(ticketContext string, sources []model.Source, directive string) string {
	var evidence strings.Builder
	for i, src := range sources {
		if i > 0 {
			evidence.WriteString("\n\n---\n\n")
		}
		if src.SourceType == model.SourceInternal {
			fmt.Fprintf(&evidence, "**Ticket:** %s (cite as [INT:%s])\n**Summary:** %s\n**Resolution:** %s",
				src.TicketKey, src.TicketKey, src.Summary, src.Resolution)
		} else {
			fmt.Fprintf(&evidence, "**Source:** %s (cite as [WEB:%d])\n**Title:** %s\n**Content:** %s",
				src.URL, externalIndex(sources, i), src.Title, src.Resolution)
		}
	}

	var b strings.Builder
	b.WriteString("**System Preamble**\n")
	b.WriteString("You are an expert AI agent for Oracle ERP systems, acting as a helpful senior support engineer. You will be given a new JIRA ticket and evidence from similar historical tickets and external documentation. Synthesize the evidence into an actionable recommendation for the new ticket.\n\n")
	b.WriteString("**Instructions**\n")
	b.WriteString("1. Carefully read the 'New JIRA Ticket'.\n")
	b.WriteString("2. Analyze the 'Evidence' provided.\n")
	b.WriteString("3. " + directive + "\n")
	b.WriteString("4. Do not just copy the old resolutions; combine the ideas. If the evidence points to a common root cause, state it.\n")
	b.WriteString("5. Cite every claim with the evidence tokens shown, e.g. [INT:ERP-101] or [WEB:1]. Each paragraph needs at least one citation.\n")
	b.WriteString("6. Keep your response concise and professional. Start with a polite opening.\n\n")
	b.WriteString("---\n**New JIRA Ticket**\n```text\n")
	b.WriteString(ticketContext)
	b.WriteString("\n```\n---\n**Evidence**\n```text\n")
	b.WriteString(evidence.String())
	b.WriteString("\n```\n---\n**Your Recommended Solution**\n")
	return b.String()
}

// externalIndex returns the 1-based index of sources[i] among the external
// sources, matching the [WEB:<n>] citation scheme.
func externalIndex(sources []model.Source, i int) int {
	n := 0
	for j := 0; j <= i; j++ {
		if sources[j].SourceType == model.SourceExternal {
			n++
		}
	}
	return n
}

// CitationTokens lists the citation tokens an alternative may use, internal
// keys first, then 1-based external indices.
func CitationTokens(sources []model.Source) []string {
	var out []string
	web := 0
	for _, src := range sources {
		if src.SourceType == model.SourceInternal {
			out = append(out, "INT:"+src.TicketKey)
		} else {
			web++
			out = append(out, fmt.Sprintf("WEB:%d", web))
		}
	}
	return out
}
