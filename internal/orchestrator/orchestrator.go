package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/assistiq-ai/assistiq/internal/model"
)

const (
	// resolutionWait bounds how long the HTTP layer waits for an
	// engine-dispatched resolution job before giving up.
	resolutionWait = 4 * time.Minute

	// jobPollInterval is how often an awaited job's state is re-checked.
	jobPollInterval = 250 * time.Millisecond

	// supersedeScanLimit bounds how many queued jobs are scanned when
	// cancelling an in-flight run for the same ticket.
	supersedeScanLimit = 200
)

// ErrEngineUnavailable marks dispatch failures that trigger the in-process
// fallback path.
var ErrEngineUnavailable = errors.New("orchestrator: durable engine unavailable")

// ValidationRunner is the validation pipeline as the orchestrator sees it.
type ValidationRunner interface {
	Run(ctx context.Context, ticketKey string) (model.Verdict, error)
}

// ResolutionRunner is the resolution pipeline as the orchestrator sees it.
type ResolutionRunner interface {
	GenerateSolutions(ctx context.Context, ticketKey string) (model.ResolutionResult, error)
	PostSolution(ctx context.Context, ticketKey, solutionText, providerModel string, sources []string, reasoning string, draftID *uuid.UUID) error
}

// Orchestrator dispatches pipeline runs to the durable job engine, with
// latest-wins semantics per ticket and an in-process fallback when the engine
// cannot accept work.
type Orchestrator struct {
	client    *river.Client[pgx.Tx]
	validator ValidationRunner
	resolver  ResolutionRunner
	results   *ResultCache
	logger    *slog.Logger
}

// New wires the orchestrator. client may be nil (engine disabled); every
// dispatch then runs in-process.
func New(client *river.Client[pgx.Tx], validator ValidationRunner, resolver ResolutionRunner, results *ResultCache, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		client:    client,
		validator: validator,
		resolver:  resolver,
		results:   results,
		logger:    logger,
	}
}

// Results exposes the shared resolution result cache.
func (o *Orchestrator) Results() *ResultCache { return o.results }

// EngineReady reports whether the durable engine is wired; false means every
// dispatch runs in-process.
func (o *Orchestrator) EngineReady() bool { return o.client != nil }

// StartValidateTicket enqueues a validation run for the ticket, cancelling
// any run already in flight so the newest trigger wins. When the engine is
// unavailable the pipeline runs in-process instead; the caller still gets an
// immediate return, with the run detached from the request context.
func (o *Orchestrator) StartValidateTicket(ctx context.Context, ticketKey string) error {
	if o.client != nil {
		if err := o.dispatch(ctx, ValidateTicketArgs{TicketKey: ticketKey}, ticketKey); err == nil {
			return nil
		} else if !errors.Is(err, ErrEngineUnavailable) {
			return err
		}
	}

	o.logger.Warn("orchestrator: validate falling back in-process", "ticket", ticketKey)
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolutionWait)
		defer cancel()
		if _, err := o.validator.Run(ctx, ticketKey); err != nil {
			o.logger.Error("orchestrator: in-process validation failed", "ticket", ticketKey, "error", err)
		}
	}()
	return nil
}

// GenerateResolution runs the resolution pipeline for the ticket and returns
// its result. Dispatch goes through the durable engine when available; the
// completed result is read back from the shared cache. On engine failure the
// pipeline runs in-process and the result is tagged as a fallback, carrying
// the engine error for the UI.
func (o *Orchestrator) GenerateResolution(ctx context.Context, ticketKey string) (model.ResolutionResult, error) {
	var engineErr error
	if o.client != nil {
		res, err := o.generateViaEngine(ctx, ticketKey)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrEngineUnavailable) {
			return model.ResolutionResult{}, err
		}
		engineErr = err
	} else {
		engineErr = ErrEngineUnavailable
	}

	o.logger.Warn("orchestrator: resolution falling back in-process", "ticket", ticketKey, "error", engineErr)
	res, err := o.resolver.GenerateSolutions(ctx, ticketKey)
	if err != nil {
		return model.ResolutionResult{}, err
	}
	res.Fallback = true
	res.EngineError = engineErr.Error()
	o.results.Put(ticketKey, res)
	return res, nil
}

// PostResolution enqueues publishing an approved solution; on engine failure
// it posts in-process so the approval is never silently dropped.
func (o *Orchestrator) PostResolution(ctx context.Context, args PostResolutionArgs) error {
	if o.client != nil {
		_, err := o.client.Insert(ctx, args, nil)
		if err == nil {
			return nil
		}
		o.logger.Warn("orchestrator: post falling back in-process", "ticket", args.TicketKey, "error", err)
	}
	if err := o.resolver.PostSolution(ctx, args.TicketKey, args.SolutionText, args.LLMProviderModel, args.Sources, args.Reasoning, args.DraftID); err != nil {
		return err
	}
	o.results.Delete(args.TicketKey)
	return nil
}

func (o *Orchestrator) generateViaEngine(ctx context.Context, ticketKey string) (model.ResolutionResult, error) {
	started := time.Now()
	args := FindResolutionArgs{TicketKey: ticketKey}
	if err := o.dispatch(ctx, args, ticketKey); err != nil {
		return model.ResolutionResult{}, err
	}
	return o.awaitResolution(ctx, ticketKey, started)
}

// dispatch cancels any in-flight job of the same kind for the same ticket,
// then inserts a fresh one. A duplicate insert that dedupes onto an existing
// queued job is fine: the queued job carries identical arguments.
func (o *Orchestrator) dispatch(ctx context.Context, args river.JobArgs, ticketKey string) error {
	if err := o.cancelInFlight(ctx, args.Kind(), ticketKey); err != nil {
		o.logger.Warn("orchestrator: supersede scan failed", "kind", args.Kind(), "ticket", ticketKey, "error", err)
	}
	if _, err := o.client.Insert(ctx, args, nil); err != nil {
		return fmt.Errorf("%w: insert %s: %v", ErrEngineUnavailable, args.Kind(), err)
	}
	return nil
}

// cancelInFlight cancels running jobs of the given kind whose arguments name
// the same ticket, so a re-trigger supersedes rather than races the old run.
func (o *Orchestrator) cancelInFlight(ctx context.Context, kind, ticketKey string) error {
	params := river.NewJobListParams().
		Kinds(kind).
		Queues(QueueName).
		States(rivertype.JobStateRunning).
		First(supersedeScanLimit)
	listed, err := o.client.JobList(ctx, params)
	if err != nil {
		return err
	}

	for _, job := range listed.Jobs {
		var probe struct {
			TicketKey string `json:"ticket_key"`
		}
		if err := json.Unmarshal(job.EncodedArgs, &probe); err != nil || probe.TicketKey != ticketKey {
			continue
		}
		if _, err := o.client.JobCancel(ctx, job.ID); err != nil {
			o.logger.Warn("orchestrator: cancel superseded job failed", "job_id", job.ID, "ticket", ticketKey, "error", err)
			continue
		}
		o.logger.Info("orchestrator: superseded in-flight job", "kind", kind, "job_id", job.ID, "ticket", ticketKey)
	}
	return nil
}

// awaitResolution watches the newest resolution job for the ticket until it
// reaches a terminal state, then returns the result the worker cached.
// started is the dispatch time; older cache entries are ignored.
func (o *Orchestrator) awaitResolution(ctx context.Context, ticketKey string, started time.Time) (model.ResolutionResult, error) {
	deadline := time.NewTimer(resolutionWait)
	defer deadline.Stop()
	tick := time.NewTicker(jobPollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return model.ResolutionResult{}, ctx.Err()
		case <-deadline.C:
			return model.ResolutionResult{}, fmt.Errorf("orchestrator: resolution for %s timed out after %s", ticketKey, resolutionWait)
		case <-tick.C:
		}

		cr, ok := o.results.Get(ticketKey)
		if ok && !cr.CachedAt.Before(started) {
			return cr.Result, nil
		}

		done, state, err := o.resolutionSettled(ctx, ticketKey)
		if err != nil {
			return model.ResolutionResult{}, err
		}
		if done {
			// Terminal without a cached result means the job was cancelled
			// or discarded before producing one.
			if cr, ok := o.results.Get(ticketKey); ok {
				return cr.Result, nil
			}
			return model.ResolutionResult{}, fmt.Errorf("orchestrator: resolution for %s ended in state %s without a result", ticketKey, state)
		}
	}
}

// resolutionSettled reports whether no resolution job for the ticket is still
// pending, along with the last terminal state seen.
func (o *Orchestrator) resolutionSettled(ctx context.Context, ticketKey string) (bool, rivertype.JobState, error) {
	params := river.NewJobListParams().
		Kinds(FindResolutionArgs{}.Kind()).
		Queues(QueueName).
		States(
			rivertype.JobStateAvailable,
			rivertype.JobStatePending,
			rivertype.JobStateRunning,
			rivertype.JobStateRetryable,
			rivertype.JobStateScheduled,
		).
		First(supersedeScanLimit)
	listed, err := o.client.JobList(ctx, params)
	if err != nil {
		return false, "", fmt.Errorf("orchestrator: poll resolution jobs: %w", err)
	}
	for _, job := range listed.Jobs {
		var probe struct {
			TicketKey string `json:"ticket_key"`
		}
		if json.Unmarshal(job.EncodedArgs, &probe) == nil && probe.TicketKey == ticketKey {
			return false, job.State, nil
		}
	}
	return true, rivertype.JobStateCompleted, nil
}
