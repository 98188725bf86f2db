package orchestrator

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"
)

// RegisterWorkers registers all triage workers on the given set.
func RegisterWorkers(workers *river.Workers, validator ValidationRunner, resolver ResolutionRunner, results *ResultCache, logger *slog.Logger) {
	river.AddWorker(workers, &ValidateTicketWorker{validator: validator, logger: logger})
	river.AddWorker(workers, &FindResolutionWorker{resolver: resolver, results: results, logger: logger})
	river.AddWorker(workers, &PostResolutionWorker{resolver: resolver, results: results, logger: logger})
}

// ValidateTicketWorker runs the validation pipeline for one ticket.
type ValidateTicketWorker struct {
	river.WorkerDefaults[ValidateTicketArgs]
	validator ValidationRunner
	logger    *slog.Logger
}

// Work executes the validation pipeline. Errors are retryable: the pipeline
// records its own verdict-level failures, so anything surfacing here is
// transport or storage trouble worth another attempt.
func (w *ValidateTicketWorker) Work(ctx context.Context, job *river.Job[ValidateTicketArgs]) error {
	verdict, err := w.validator.Run(ctx, job.Args.TicketKey)
	if err != nil {
		return err
	}
	w.logger.Info("worker: ticket validated",
		"ticket", job.Args.TicketKey,
		"status", verdict.ValidationStatus,
		"module", verdict.Module,
		"priority", verdict.Priority,
	)
	return nil
}

// FindResolutionWorker runs the resolution pipeline and caches its result for
// the HTTP layer.
type FindResolutionWorker struct {
	river.WorkerDefaults[FindResolutionArgs]
	resolver ResolutionRunner
	results  *ResultCache
	logger   *slog.Logger
}

func (w *FindResolutionWorker) Work(ctx context.Context, job *river.Job[FindResolutionArgs]) error {
	res, err := w.resolver.GenerateSolutions(ctx, job.Args.TicketKey)
	if err != nil {
		return err
	}
	w.results.Put(job.Args.TicketKey, res)
	w.logger.Info("worker: resolution generated",
		"ticket", job.Args.TicketKey,
		"status", res.Status,
		"alternatives", len(res.Solutions),
		"external_used", res.ExternalUsed,
	)
	return nil
}

// PostResolutionWorker publishes an approved solution to the ticket platform.
type PostResolutionWorker struct {
	river.WorkerDefaults[PostResolutionArgs]
	resolver ResolutionRunner
	results  *ResultCache
	logger   *slog.Logger
}

func (w *PostResolutionWorker) Work(ctx context.Context, job *river.Job[PostResolutionArgs]) error {
	a := job.Args
	if err := w.resolver.PostSolution(ctx, a.TicketKey, a.SolutionText, a.LLMProviderModel, a.Sources, a.Reasoning, a.DraftID); err != nil {
		return err
	}
	// The cached alternatives are stale once one of them is posted.
	w.results.Delete(a.TicketKey)
	w.logger.Info("worker: solution posted", "ticket", a.TicketKey, "provider", a.LLMProviderModel)
	return nil
}
