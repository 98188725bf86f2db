package polling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/assistiq-ai/assistiq/internal/jira"
)

type fakeSearcher struct {
	issues []jira.IssueRef
	err    error
}

func (f *fakeSearcher) SearchProject(context.Context, string, int) ([]jira.IssueRef, error) {
	return f.issues, f.err
}

type fakeStatusStore struct {
	statuses    map[string]string
	validatedAt map[string]time.Time
	incomplete  int
	countErr    error
}

func (f *fakeStatusStore) GetLastKnownStatuses(_ context.Context, keys []string) (map[string]string, error) {
	out := map[string]string{}
	for _, k := range keys {
		if s, ok := f.statuses[k]; ok {
			out[k] = s
		}
	}
	return out, nil
}

func (f *fakeStatusStore) GetLastValidationTimestamp(_ context.Context, key string) (*time.Time, error) {
	if ts, ok := f.validatedAt[key]; ok {
		return &ts, nil
	}
	return nil, nil
}

func (f *fakeStatusStore) CountIncomplete(context.Context) (int, error) {
	return f.incomplete, f.countErr
}

type fakeDispatcher struct {
	started []string
}

func (f *fakeDispatcher) StartValidateTicket(_ context.Context, key string) error {
	f.started = append(f.started, key)
	return nil
}

func newTestPoller(s *fakeSearcher, st *fakeStatusStore, d *fakeDispatcher) *Poller {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(s, st, d, "LENS", 5*time.Minute, 50, logger)
}

func TestScanDispatchesNewAndStaleOnly(t *testing.T) {
	now := time.Now()
	searcher := &fakeSearcher{issues: []jira.IssueRef{
		{Key: "LENS-1", Updated: now},                      // never seen: dispatch
		{Key: "LENS-2", Updated: now},                      // complete: skip
		{Key: "LENS-3", Updated: now},                      // incomplete, updated after validation: dispatch
		{Key: "LENS-4", Updated: now.Add(-2 * time.Hour)},  // incomplete, unchanged: skip
		{Key: "LENS-5", Updated: now},                      // error status: skip
	}}
	store := &fakeStatusStore{
		statuses: map[string]string{
			"LENS-2": "complete",
			"LENS-3": "incomplete",
			"LENS-4": "incomplete",
			"LENS-5": "error",
		},
		validatedAt: map[string]time.Time{
			"LENS-3": now.Add(-time.Hour),
			"LENS-4": now.Add(-time.Hour),
		},
	}
	dispatcher := &fakeDispatcher{}

	dispatched, err := newTestPoller(searcher, store, dispatcher).Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, dispatched)
	require.Equal(t, []string{"LENS-1", "LENS-3"}, dispatcher.started)
}

func TestScanPropagatesSearchError(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("connection refused")}
	_, err := newTestPoller(searcher, &fakeStatusStore{}, &fakeDispatcher{}).Scan(context.Background())
	require.Error(t, err)
	require.True(t, isConnectionError(err))
}

func TestIntervalAdaptsToBacklog(t *testing.T) {
	p := newTestPoller(&fakeSearcher{}, &fakeStatusStore{}, &fakeDispatcher{})

	require.Equal(t, 5*time.Minute, p.Interval(0))
	require.Equal(t, 3*time.Minute, p.Interval(1))  // 0.6 * base
	require.Equal(t, 3*time.Minute, p.Interval(4))
	require.Equal(t, 2*time.Minute, p.Interval(5))  // 0.4 * base
	require.Equal(t, 2*time.Minute, p.Interval(14))
	require.Equal(t, time.Minute, p.Interval(15))
	require.Equal(t, time.Minute, p.Interval(100))
}

func TestBacklogIntervalUsesStoredIncompleteCount(t *testing.T) {
	ctx := context.Background()
	store := &fakeStatusStore{incomplete: 20}
	p := newTestPoller(&fakeSearcher{}, store, &fakeDispatcher{})

	// A large stored backlog tightens to the floor even when a cycle
	// dispatched nothing.
	require.Equal(t, time.Minute, p.backlogInterval(ctx))

	// An empty backlog relaxes to the base interval regardless of churn.
	store.incomplete = 0
	require.Equal(t, 5*time.Minute, p.backlogInterval(ctx))

	// A failed count falls back to the base interval.
	store.countErr = errors.New("db down")
	require.Equal(t, 5*time.Minute, p.backlogInterval(ctx))
}

func TestIntervalRespectsBounds(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// A tiny base interval never drops below the floor.
	short := New(&fakeSearcher{}, &fakeStatusStore{}, &fakeDispatcher{}, "LENS", 90*time.Second, 50, logger)
	require.Equal(t, time.Minute, short.Interval(5)) // 0.4*90s = 36s -> floor

	// A huge base interval is capped.
	long := New(&fakeSearcher{}, &fakeStatusStore{}, &fakeDispatcher{}, "LENS", time.Hour, 50, logger)
	require.Equal(t, 10*time.Minute, long.Interval(0))
}

func TestIsConnectionError(t *testing.T) {
	require.True(t, isConnectionError(errors.New("dial tcp 10.0.0.1:443: connection refused")))
	require.True(t, isConnectionError(errors.New("lookup jira.internal: no such host")))
	require.False(t, isConnectionError(errors.New("jira: search project LENS: status 400")))
}
