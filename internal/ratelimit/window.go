package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// WindowLimiter allows at most one request per key per fixed window.
//
// A background goroutine evicts stale entries to bound memory; call Close to
// stop it. The zero value is not usable, construct with NewWindowLimiter.
type WindowLimiter struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// NewWindowLimiter creates a fixed-window limiter: one allowed request per
// key per window.
func NewWindowLimiter(window time.Duration) *WindowLimiter {
	w := &WindowLimiter{
		window: window,
		now:    time.Now,
		last:   make(map[string]time.Time),
		done:   make(chan struct{}),
	}
	go w.cleanup()
	return w
}

// Allow consumes the window for key if it is open. When the key was used
// within the current window, it returns false along with how many whole
// seconds remain until the window reopens (minimum 1).
func (w *WindowLimiter) Allow(_ context.Context, key string) (bool, int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if last, ok := w.last[key]; ok {
		if elapsed := now.Sub(last); elapsed < w.window {
			retry := int(math.Ceil((w.window - elapsed).Seconds()))
			if retry < 1 {
				retry = 1
			}
			return false, retry, nil
		}
	}
	w.last[key] = now
	return true, 0, nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (w *WindowLimiter) Close() error {
	w.stopOnce.Do(func() { close(w.done) })
	return nil
}

const staleThreshold = 10 * time.Minute

func (w *WindowLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.evictStale()
		}
	}
}

func (w *WindowLimiter) evictStale() {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-staleThreshold)
	for key, last := range w.last {
		if last.Before(cutoff) {
			delete(w.last, key)
		}
	}
}
