// Package identity resolves the opaque numeric customer id needed to query
// the private billing endpoints. The id is nowhere documented; it is
// scraped from the authenticated billing page through an ordered chain of
// strategies of decreasing reliability.
package identity

import (
	"context"
	"log"
	"sync"

	"github.com/janekbaraniewski/reqwatch/internal/core"
)

// PageSurface is the slice of the browsing context the strategies need.
// browser.Context satisfies it.
type PageSurface interface {
	Location(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, expr string, out any) error
}

// Strategy is one way of extracting the customer id. Each strategy owns
// its failures: any error means "fall through to the next one".
type Strategy interface {
	Name() string
	Resolve(ctx context.Context) (int64, error)
}

// Resolver runs strategies in priority order, short-circuits on the first
// success and memoizes the result for the session's lifetime.
type Resolver struct {
	mu         sync.Mutex
	cached     int64
	hasCached  bool
	strategies []Strategy
}

func NewResolver(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

func (r *Resolver) Resolve(ctx context.Context) (int64, error) {
	r.mu.Lock()
	if r.hasCached {
		id := r.cached
		r.mu.Unlock()
		return id, nil
	}
	strategies := append([]Strategy{}, r.strategies...)
	r.mu.Unlock()

	for _, s := range strategies {
		id, err := s.Resolve(ctx)
		if err != nil {
			log.Printf("identity level=info event=strategy_miss strategy=%s error=%v", s.Name(), err)
			continue
		}
		if id <= 0 {
			continue
		}
		r.mu.Lock()
		r.cached = id
		r.hasCached = true
		r.mu.Unlock()
		log.Printf("identity level=info event=resolved strategy=%s", s.Name())
		return id, nil
	}

	return 0, core.NewError(core.KindIdentityNotFound, "customer id not found by any strategy")
}

// Reset clears the memoized id. Called on logout and session destruction.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.cached = 0
	r.hasCached = false
	r.mu.Unlock()
}
