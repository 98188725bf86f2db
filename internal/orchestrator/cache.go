package orchestrator

import (
	"sync"
	"time"

	"github.com/assistiq-ai/assistiq/internal/model"
)

// CachedResult is one resolution result held for the UI, stamped with when
// the pipeline produced it.
type CachedResult struct {
	Result   model.ResolutionResult
	CachedAt time.Time
}

// ResultCache holds the latest resolution result per ticket. Workers write
// into it when a resolution job completes; the HTTP layer reads it back for
// the solutions-cache endpoint and for awaiting engine-dispatched runs.
type ResultCache struct {
	mu      sync.RWMutex
	results map[string]CachedResult
	now     func() time.Time
}

// NewResultCache returns an empty cache.
func NewResultCache() *ResultCache {
	return &ResultCache{
		results: make(map[string]CachedResult),
		now:     time.Now,
	}
}

// Put stores the latest result for a ticket, replacing any previous one.
func (c *ResultCache) Put(ticketKey string, res model.ResolutionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[ticketKey] = CachedResult{Result: res, CachedAt: c.now()}
}

// Get returns the cached result for a ticket, if any.
func (c *ResultCache) Get(ticketKey string) (CachedResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cr, ok := c.results[ticketKey]
	return cr, ok
}

// Delete drops a ticket's cached result. Used after a solution is posted so
// stale alternatives do not linger in the UI.
func (c *ResultCache) Delete(ticketKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.results, ticketKey)
}
