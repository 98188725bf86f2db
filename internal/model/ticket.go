// Package model defines the typed records shared across the AssistIQ services:
// ticket contexts, validation verdicts, retrieval results, resolution
// alternatives, and the rows persisted by the storage layer.
package model

import "time"

// Validation statuses produced by the verdict activity.
const (
	StatusComplete   = "complete"
	StatusIncomplete = "incomplete"
	StatusError      = "error"
)

// Priority levels assigned by the heuristic classifier.
const (
	PriorityP1 = "P1"
	PriorityP2 = "P2"
	PriorityP3 = "P3"
)

// TicketContext is the bundled input to validation: the ticket's text fields
// and OCR'd attachments flattened into one string, plus raw image bytes for
// vision-capable models.
type TicketContext struct {
	TicketKey   string   `json:"ticket_key"`
	BundledText string   `json:"bundled_text"`
	ReporterID  string   `json:"reporter_id,omitempty"`
	Images      [][]byte `json:"images,omitempty"`
}

// Verdict is the structured outcome of validating one ticket.
type Verdict struct {
	Module           string   `json:"module"`
	ValidationStatus string   `json:"validation_status"`
	MissingFields    []string `json:"missing_fields"`
	Confidence       float64  `json:"confidence"`
	LLMProviderModel string   `json:"llm_provider_model"`
	Priority         string   `json:"priority"`
	PriorityReason   string   `json:"priority_reason,omitempty"`
	IsVague          bool     `json:"is_vague,omitempty"`
	DuplicateOf      string   `json:"duplicate_of,omitempty"`
	ErrorMessage     string   `json:"error_message,omitempty"`
}

// SolvedTicket is one entry of the retrieval corpus.
type SolvedTicket struct {
	TicketKey   string `json:"ticket_key"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Resolution  string `json:"resolution"`
}

// SimilarTicket is a SolvedTicket returned by nearest-neighbor search,
// annotated with its L2 distance to the query and its embedding so callers
// can cluster without re-embedding.
type SimilarTicket struct {
	SolvedTicket
	Distance  float64   `json:"distance"`
	Embedding []float32 `json:"-"`
}

// ValidationRecord is the persisted verdict for one ticket key. At most one
// row exists per key; re-validation refreshes it in place.
type ValidationRecord struct {
	TicketKey        string    `json:"ticket_key"`
	Module           string    `json:"module"`
	Status           string    `json:"status"`
	MissingFields    []string  `json:"missing_fields"`
	Confidence       float64   `json:"confidence"`
	LLMProviderModel string    `json:"llm_provider_model"`
	Priority         string    `json:"priority"`
	DuplicateOf      string    `json:"duplicate_of,omitempty"`
	ValidatedAt      time.Time `json:"validated_at"`
	// Escalate is derived on read: true when confidence < 0.2.
	Escalate bool `json:"escalate"`
}

// ModuleInfo describes one business-process module of the knowledge base.
type ModuleInfo struct {
	Description     string   `json:"description"`
	MandatoryFields []string `json:"mandatory_fields"`
}

// KnowledgeBase maps module name to its description and mandatory fields.
type KnowledgeBase map[string]ModuleInfo

// KnowledgeRow is one (module, field) pair from an admin upload.
type KnowledgeRow struct {
	ModuleName string `json:"module_name"`
	FieldName  string `json:"field_name"`
}

// UpsertStats reports the outcome of a bulk admin upload.
type UpsertStats struct {
	RowsProcessed int      `json:"rows_processed"`
	RowsUpserted  int      `json:"rows_upserted"`
	Errors        []string `json:"errors"`
}
