// Package polling drives proactive triage: it periodically scans the
// configured project for new and stale tickets and dispatches validation runs,
// adapting its cadence to the backlog it finds.
package polling

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/assistiq-ai/assistiq/internal/jira"
	"github.com/assistiq-ai/assistiq/internal/model"
)

const (
	// minInterval floors every adaptive interval.
	minInterval = 60 * time.Second

	// maxInterval caps the interval regardless of configuration.
	maxInterval = 600 * time.Second

	// connectionRetryDelay is the sleep after a connection-class scan failure.
	connectionRetryDelay = 60 * time.Second
)

// ProjectSearcher lists the most recently updated issues of a project.
type ProjectSearcher interface {
	SearchProject(ctx context.Context, project string, maxResults int) ([]jira.IssueRef, error)
}

// StatusStore reads back validation state for staleness checks and the
// incomplete backlog driving the adaptive interval.
type StatusStore interface {
	GetLastKnownStatuses(ctx context.Context, keys []string) (map[string]string, error)
	GetLastValidationTimestamp(ctx context.Context, ticketKey string) (*time.Time, error)
	CountIncomplete(ctx context.Context) (int, error)
}

// Dispatcher starts a validation run for one ticket.
type Dispatcher interface {
	StartValidateTicket(ctx context.Context, ticketKey string) error
}

// Poller scans one project on an adaptive interval.
type Poller struct {
	searcher     ProjectSearcher
	store        StatusStore
	dispatcher   Dispatcher
	project      string
	baseInterval time.Duration
	maxTickets   int
	logger       *slog.Logger
}

// New builds a poller for the given project.
func New(searcher ProjectSearcher, store StatusStore, dispatcher Dispatcher, project string, baseInterval time.Duration, maxTickets int, logger *slog.Logger) *Poller {
	return &Poller{
		searcher:     searcher,
		store:        store,
		dispatcher:   dispatcher,
		project:      project,
		baseInterval: baseInterval,
		maxTickets:   maxTickets,
		logger:       logger,
	}
}

// Run polls until the context is cancelled. Each cycle scans the project,
// dispatches what needs (re)validation and sleeps for an interval derived
// from the stored incomplete backlog.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("polling: started", "project", p.project, "base_interval", p.baseInterval)
	for {
		dispatched, err := p.Scan(ctx)
		var wait time.Duration
		switch {
		case err != nil && isConnectionError(err):
			p.logger.Warn("polling: scan hit connection error, backing off", "error", err)
			wait = connectionRetryDelay
		case err != nil:
			p.logger.Error("polling: scan failed", "error", err)
			wait = p.backlogInterval(ctx)
		default:
			if dispatched > 0 {
				p.logger.Info("polling: cycle complete", "dispatched", dispatched)
			}
			wait = p.backlogInterval(ctx)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("polling: stopped")
			return
		case <-time.After(wait):
		}
	}
}

// Scan runs one polling cycle and returns how many tickets were dispatched.
func (p *Poller) Scan(ctx context.Context) (int, error) {
	issues, err := p.searcher.SearchProject(ctx, p.project, p.maxTickets)
	if err != nil {
		return 0, err
	}
	if len(issues) == 0 {
		return 0, nil
	}

	keys := make([]string, len(issues))
	for i, issue := range issues {
		keys[i] = issue.Key
	}
	statuses, err := p.store.GetLastKnownStatuses(ctx, keys)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, issue := range issues {
		todo, reason := p.classify(ctx, issue, statuses)
		if !todo {
			continue
		}
		if err := p.dispatcher.StartValidateTicket(ctx, issue.Key); err != nil {
			p.logger.Warn("polling: dispatch failed", "ticket", issue.Key, "error", err)
			continue
		}
		p.logger.Info("polling: dispatched validation", "ticket", issue.Key, "reason", reason)
		dispatched++
	}
	return dispatched, nil
}

// classify decides whether one issue needs a validation run: never-seen
// tickets always do; incomplete tickets do once the issue was updated after
// the last validation; complete and errored tickets are left alone.
func (p *Poller) classify(ctx context.Context, issue jira.IssueRef, statuses map[string]string) (bool, string) {
	status, seen := statuses[issue.Key]
	if !seen {
		return true, "new"
	}
	if status != model.StatusIncomplete {
		return false, ""
	}

	validatedAt, err := p.store.GetLastValidationTimestamp(ctx, issue.Key)
	if err != nil {
		p.logger.Warn("polling: staleness check failed", "ticket", issue.Key, "error", err)
		return false, ""
	}
	if validatedAt != nil && issue.Updated.After(*validatedAt) {
		return true, "updated_since_validation"
	}
	return false, ""
}

// backlogInterval reads the current incomplete backlog and derives the next
// sleep from it. A failed count falls back to the base interval.
func (p *Poller) backlogInterval(ctx context.Context) time.Duration {
	backlog, err := p.store.CountIncomplete(ctx)
	if err != nil {
		p.logger.Warn("polling: backlog count failed", "error", err)
		return p.Interval(0)
	}
	return p.Interval(backlog)
}

// Interval derives the next sleep from the incomplete backlog: an empty
// backlog polls at the base interval, a growing one tightens toward the floor.
func (p *Poller) Interval(backlog int) time.Duration {
	base := p.baseInterval
	var next time.Duration
	switch {
	case backlog >= 15:
		next = minInterval
	case backlog >= 5:
		next = maxDuration(time.Duration(float64(base)*0.4), minInterval)
	case backlog > 0:
		next = maxDuration(time.Duration(float64(base)*0.6), minInterval)
	default:
		next = base
	}
	if next > maxInterval {
		next = maxInterval
	}
	if next < minInterval {
		next = minInterval
	}
	return next
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// isConnectionError reports whether the scan failed to reach the ticket
// platform at all, as opposed to an application-level rejection.
func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "EOF")
}
