package provider

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/resilience"
)

// Guarded paces calls to a provider and routes them through a circuit
// breaker. Both are shared by every document in the process.
type Guarded struct {
	next    Provider
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewGuarded wraps next. requestsPerMinute <= 0 disables pacing; a nil
// breaker disables circuit breaking.
func NewGuarded(next Provider, requestsPerMinute int, breaker *resilience.CircuitBreaker) *Guarded {
	g := &Guarded{next: next, breaker: breaker}
	if requestsPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), 1)
	}
	return g
}

// Name implements Provider.
func (g *Guarded) Name() string { return g.next.Name() }

// Complete implements Provider.
func (g *Guarded) Complete(ctx context.Context, req model.Request) (*model.RawResponse, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "provider: rate limit wait"), 0)
		}
	}
	if g.breaker == nil {
		return g.next.Complete(ctx, req)
	}
	return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (*model.RawResponse, error) {
		return g.next.Complete(ctx, req)
	})
}
