package embedding

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pgvector/pgvector-go"
)

// Lazy defers backend warmup until the first embedding is requested. Health
// reporting can ask Loaded() without forcing a model load.
type Lazy struct {
	inner  Provider
	warm   sync.Once
	loaded atomic.Bool
	err    error
}

// NewLazy wraps a provider with deferred warmup.
func NewLazy(inner Provider) *Lazy {
	return &Lazy{inner: inner}
}

// Warm probes the backend once. Safe to call from a background goroutine at
// startup; subsequent calls are no-ops.
func (l *Lazy) Warm(ctx context.Context) error {
	l.warm.Do(func() {
		_, l.err = l.inner.Embed(ctx, "warmup")
		if l.err == nil {
			l.loaded.Store(true)
		}
	})
	return l.err
}

// Loaded reports whether the backend answered the warmup probe.
func (l *Lazy) Loaded() bool {
	return l.loaded.Load()
}

// Dimensions returns the embedding vector size.
func (l *Lazy) Dimensions() int {
	return l.inner.Dimensions()
}

// Embed generates a single embedding, warming the backend first if needed.
func (l *Lazy) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	v, err := l.inner.Embed(ctx, text)
	if err == nil {
		l.loaded.Store(true)
	}
	return v, err
}

// EmbedBatch generates embeddings for multiple texts.
func (l *Lazy) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs, err := l.inner.EmbedBatch(ctx, texts)
	if err == nil && len(vecs) > 0 {
		l.loaded.Store(true)
	}
	return vecs, err
}
