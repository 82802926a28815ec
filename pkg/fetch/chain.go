// Package fetch implements an ordered fallback chain over data sources.
// Sources are tried in priority order and the chain short-circuits on the
// first non-empty, successful result, so adding or reordering tiers is a
// data change rather than a code change.
package fetch

import (
	"context"
	"log"
)

// Source is one tier of a fallback chain for a data domain.
type Source[T any] interface {
	// Name identifies the tier in logs and metrics.
	Name() string
	// Fetch returns the tier's items. An empty result with a nil error is
	// a valid answer; the chain decides whether to fall through.
	Fetch(ctx context.Context) ([]T, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc[T any] struct {
	SourceName string
	Fn         func(ctx context.Context) ([]T, error)
}

func (s SourceFunc[T]) Name() string { return s.SourceName }

func (s SourceFunc[T]) Fetch(ctx context.Context) ([]T, error) { return s.Fn(ctx) }

// Attempt records the outcome of one tier for observers.
type Attempt struct {
	Source string
	Count  int
	Err    error
}

// Chain tries sources in order until one yields a non-empty result.
type Chain[T any] struct {
	domain    string
	sources   []Source[T]
	onAttempt func(Attempt)
}

// NewChain creates a chain for the named data domain.
func NewChain[T any](domain string, sources ...Source[T]) *Chain[T] {
	return &Chain[T]{domain: domain, sources: sources}
}

// OnAttempt sets an observer invoked after every tier attempt. Used to feed
// metrics without coupling the chain to a metrics type.
func (c *Chain[T]) OnAttempt(fn func(Attempt)) {
	c.onAttempt = fn
}

// Fetch walks the tiers in order and returns the first non-empty successful
// result along with the name of the tier that produced it. An error or an
// empty result falls through to the next tier; empty-but-successful is
// treated as "no data yet", not as a hard failure. Fetch never returns an
// error: total exhaustion yields an empty slice and the empty source name.
func (c *Chain[T]) Fetch(ctx context.Context) ([]T, string) {
	for _, src := range c.sources {
		items, err := src.Fetch(ctx)
		if c.onAttempt != nil {
			c.onAttempt(Attempt{Source: src.Name(), Count: len(items), Err: err})
		}
		if err != nil {
			log.Printf("[FETCH] %s: %s failed: %v", c.domain, src.Name(), err)
			continue
		}
		if len(items) == 0 {
			continue
		}
		return items, src.Name()
	}

	log.Printf("[FETCH] %s: all %d sources exhausted", c.domain, len(c.sources))
	return []T{}, ""
}
