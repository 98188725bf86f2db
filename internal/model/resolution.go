package model

import (
	"time"

	"github.com/google/uuid"
)

// Resolution outcome statuses returned by the resolution pipeline.
const (
	ResolutionStatusOK            = "ok"
	ResolutionStatusDuplicate     = "duplicate"
	ResolutionStatusNeedsMoreInfo = "needs_more_info"
)

// Source is one evidence item fed to synthesis: either an internal solved
// ticket (SourceInternal, cited as [INT:<ticket_key>]) or an ingested external
// document (SourceExternal, cited as [WEB:<n>], 1-based).
type Source struct {
	SourceType string  `json:"source_type"`
	TicketKey  string  `json:"ticket_key,omitempty"`
	URL        string  `json:"url,omitempty"`
	Title      string  `json:"title,omitempty"`
	Summary    string  `json:"summary"`
	Resolution string  `json:"resolution"`
	Distance   float64 `json:"distance,omitempty"`
}

// Source types.
const (
	SourceInternal = "internal"
	SourceExternal = "external"
)

// Alternative is one candidate solution produced by synthesis, scored and
// guardrail-checked.
type Alternative struct {
	SolutionText     string           `json:"solution_text"`
	Confidence       float64          `json:"confidence"`
	LLMProviderModel string           `json:"llm_provider_model"`
	Sources          []string         `json:"sources"`
	Reasoning        string           `json:"reasoning"`
	Issues           []GuardrailIssue `json:"issues,omitempty"`
	IsValid          bool             `json:"is_valid"`
}

// GuardrailIssue is one problem the guardrail validator found in a solution.
type GuardrailIssue struct {
	Severity       string `json:"severity"` // warning | error
	Message        string `json:"message"`
	ParagraphIndex int    `json:"paragraph_index"`
}

// Guardrail issue severities.
const (
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// ResolutionResult is the payload returned to the UI by generate-solutions.
// Exactly one of the three statuses applies; Duplicate* and FollowUpQuestions
// are set only for their respective short-circuits.
type ResolutionResult struct {
	Status            string        `json:"status"`
	TicketKey         string        `json:"ticket_key"`
	TicketContext     string        `json:"ticket_context,omitempty"`
	Solutions         []Alternative `json:"solutions,omitempty"`
	Escalate          bool          `json:"escalate,omitempty"`
	ExternalUsed      bool          `json:"external_used,omitempty"`
	DuplicateOf       string        `json:"duplicate_of,omitempty"`
	ResolutionPreview string        `json:"resolution_preview,omitempty"`
	FollowUpQuestions []string      `json:"follow_up_questions,omitempty"`
	// Fallback reporting: set when the durable engine could not dispatch and
	// the pipeline ran in-process instead.
	Fallback    bool   `json:"fallback,omitempty"`
	EngineError string `json:"engine_error,omitempty"`
}

// ResolutionRecord is one posted solution. Append-only.
type ResolutionRecord struct {
	ID               int64      `json:"id"`
	TicketKey        string     `json:"ticket_key"`
	SolutionPosted   string     `json:"solution_posted"`
	LLMProviderModel string     `json:"llm_provider_model"`
	Sources          []string   `json:"sources"`
	Reasoning        string     `json:"reasoning,omitempty"`
	DraftID          *uuid.UUID `json:"draft_id,omitempty"`
	ResolvedAt       time.Time  `json:"resolved_at"`
}

// Draft is a human-authored draft solution for a ticket.
type Draft struct {
	ID        uuid.UUID `json:"id"`
	TicketKey string    `json:"ticket_key"`
	DraftText string    `json:"draft_text"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TicketEvent is one entry of a ticket's append-only timeline.
type TicketEvent struct {
	ID        int64     `json:"id"`
	TicketKey string    `json:"ticket_key"`
	EventType string    `json:"event_type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Timeline event types.
const (
	EventValidatedComplete     = "validated_complete"
	EventValidatedIncomplete   = "validated_incomplete"
	EventValidationError       = "validation_error"
	EventDuplicateShortCircuit = "duplicate_short_circuit"
	EventSolutionsGenerated    = "solutions_generated"
	EventSolutionPosted        = "solution_posted"
	EventDraftSaved            = "draft_saved"
)

// ImpactCounters aggregates the agent's measurable output for the UI.
type ImpactCounters struct {
	TicketsTriaged     int     `json:"tickets_triaged"`
	DuplicatesAvoided  int     `json:"duplicates_avoided"`
	SolutionsPosted    int     `json:"solutions_posted"`
	DraftsCreated      int     `json:"drafts_created"`
	EngineerHoursSaved float64 `json:"engineer_hours_saved"`
}
