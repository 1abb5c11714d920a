package embed

import (
	"context"
	"fmt"
	"sync"
)

// Lazy defers provider construction (e.g. loading a model, probing an
// endpoint) until the first embedding request. A failed initialization is
// reported as ErrProviderUnavailable and retried on the next call, so the
// provider can recover without a process restart.
type Lazy struct {
	mu        sync.Mutex
	factory   func() (Embedder, error)
	inner     Embedder
	provider  string
	dimension int
}

// NewLazy wraps factory. provider and dimension describe the embedder that
// factory will eventually produce; they must match, since the dimension is
// part of the store's schema contract.
func NewLazy(provider string, dimension int, factory func() (Embedder, error)) *Lazy {
	return &Lazy{
		factory:   factory,
		provider:  provider,
		dimension: dimension,
	}
}

func (l *Lazy) get() (Embedder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inner != nil {
		return l.inner, nil
	}
	inner, err := l.factory()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if inner.Dimension() != l.dimension {
		return nil, fmt.Errorf("%w: declared %d, provider produces %d",
			ErrDimensionMismatch, l.dimension, inner.Dimension())
	}
	l.inner = inner
	return inner, nil
}

func (l *Lazy) EmbedText(ctx context.Context, text string) ([]float32, error) {
	inner, err := l.get()
	if err != nil {
		return nil, err
	}
	return inner.EmbedText(ctx, text)
}

func (l *Lazy) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	inner, err := l.get()
	if err != nil {
		return nil, err
	}
	return inner.EmbedTexts(ctx, texts)
}

func (l *Lazy) Dimension() int {
	return l.dimension
}

func (l *Lazy) Provider() string {
	return l.provider
}
