// Package orchestrator adapts the durable job engine to the triage
// pipelines: typed job arguments, workers, latest-wins dispatch per ticket,
// and an in-process fallback path when the engine cannot dispatch.
package orchestrator

import (
	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// QueueName is the task queue every triage job runs on.
const QueueName = "assistiq-task-queue"

// jobMaxAttempts bounds server-side retries per job.
const jobMaxAttempts = 3

// ValidateTicketArgs starts the validation pipeline for one ticket.
type ValidateTicketArgs struct {
	TicketKey string `json:"ticket_key"`
}

// Kind identifies validation jobs.
func (ValidateTicketArgs) Kind() string { return "validate_ticket" }

// InsertOpts makes validation jobs unique per ticket within the queue, so a
// re-trigger while one is pending dedupes instead of piling up.
func (ValidateTicketArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueName,
		MaxAttempts: jobMaxAttempts,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByQueue: true,
		},
	}
}

// FindResolutionArgs starts the resolution pipeline for one ticket.
type FindResolutionArgs struct {
	TicketKey string `json:"ticket_key"`
}

// Kind identifies resolution jobs.
func (FindResolutionArgs) Kind() string { return "find_resolution" }

// InsertOpts makes resolution jobs unique per ticket within the queue.
func (FindResolutionArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueName,
		MaxAttempts: jobMaxAttempts,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByQueue: true,
		},
	}
}

// PostResolutionArgs publishes an approved solution to the ticket platform.
type PostResolutionArgs struct {
	TicketKey        string     `json:"ticket_key"`
	SolutionText     string     `json:"solution_text"`
	LLMProviderModel string     `json:"llm_provider_model,omitempty"`
	Sources          []string   `json:"sources,omitempty"`
	Reasoning        string     `json:"reasoning,omitempty"`
	DraftID          *uuid.UUID `json:"draft_id,omitempty"`
}

// Kind identifies publish jobs.
func (PostResolutionArgs) Kind() string { return "post_resolution" }

// InsertOpts: publishing retries server-side but is unique per payload, so
// an accidental double-click cannot post the same comment twice while the
// first job is still pending.
func (PostResolutionArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueName,
		MaxAttempts: jobMaxAttempts,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByQueue: true,
		},
	}
}
