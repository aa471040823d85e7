package providers

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/pospay/internal/domain/errors"
	"github.com/sony/gobreaker/v2"
)

// guardedTerminal routes start calls through the provider breaker. Polls,
// cancellations and queue clears bypass it: they must still reach the
// provider while a station is trying to release a terminal.
type guardedTerminal struct {
	Terminal
	breaker *gobreaker.CircuitBreaker[*ProviderResult]
}

func (g *guardedTerminal) StartPix(ctx context.Context, req ChargeRequest) (*ProviderResult, error) {
	return g.execute(func() (*ProviderResult, error) { return g.Terminal.StartPix(ctx, req) })
}

func (g *guardedTerminal) StartCard(ctx context.Context, req ChargeRequest) (*ProviderResult, error) {
	return g.execute(func() (*ProviderResult, error) { return g.Terminal.StartCard(ctx, req) })
}

func (g *guardedTerminal) execute(fn func() (*ProviderResult, error)) (*ProviderResult, error) {
	result, err := g.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w: %v", g.Name(), domainErrors.ErrProviderUnavailable, err)
	}
	return result, err
}
