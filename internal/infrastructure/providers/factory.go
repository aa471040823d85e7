package providers

import (
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/pospay/internal/domain/errors"
	"github.com/cassiomorais/pospay/internal/infrastructure/observability"
	"github.com/sony/gobreaker/v2"
)

// BreakerSettings tunes the per-provider circuit breaker.
type BreakerSettings struct {
	Threshold uint32
	Timeout   time.Duration
	// Metrics, when set, receives breaker state changes.
	Metrics *observability.Metrics
}

// Factory creates and caches provider instances with circuit breakers.
type Factory struct {
	providers       map[string]Terminal
	circuitBreakers map[string]*gobreaker.CircuitBreaker[*ProviderResult]
	breaker         BreakerSettings
}

// NewFactory creates a new provider factory with the given providers.
// If no providers are given, a mock terminal is registered.
func NewFactory(providersList ...Terminal) *Factory {
	return NewFactoryWithBreaker(BreakerSettings{Threshold: 10, Timeout: 30 * time.Second}, providersList...)
}

// NewFactoryWithBreaker is NewFactory with explicit breaker settings.
func NewFactoryWithBreaker(settings BreakerSettings, providersList ...Terminal) *Factory {
	f := &Factory{
		providers:       make(map[string]Terminal),
		circuitBreakers: make(map[string]*gobreaker.CircuitBreaker[*ProviderResult]),
		breaker:         settings,
	}

	if len(providersList) == 0 {
		f.Register(NewMockTerminal("mock", WithLatency(200*time.Millisecond)))
	} else {
		for _, p := range providersList {
			f.Register(p)
		}
	}

	return f
}

// Register registers a provider and creates a circuit breaker for it.
func (f *Factory) Register(p Terminal) {
	threshold := f.breaker.Threshold
	if threshold == 0 {
		threshold = 10
	}
	f.providers[p.Name()] = p
	if m := f.breaker.Metrics; m != nil {
		m.CircuitBreakerState.WithLabelValues(p.Name()).Set(0)
	}
	f.circuitBreakers[p.Name()] = gobreaker.NewCircuitBreaker[*ProviderResult](gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     f.breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Busy terminals and rejected charges come from a healthy provider.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domainErrors.ErrTerminalBusy) ||
				errors.Is(err, domainErrors.ErrProviderRejected)
		},
		OnStateChange: func(name string, _ gobreaker.State, to gobreaker.State) {
			if m := f.breaker.Metrics; m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			}
		},
	})
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

// Get returns the provider and its circuit breaker for the given name.
func (f *Factory) Get(name string) (Terminal, *gobreaker.CircuitBreaker[*ProviderResult], error) {
	p, ok := f.providers[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown provider %q: %w", name, domainErrors.ErrProviderNotFound)
	}
	return p, f.circuitBreakers[name], nil
}

// Names lists registered providers.
func (f *Factory) Names() []string {
	names := make([]string, 0, len(f.providers))
	for n := range f.providers {
		names = append(names, n)
	}
	return names
}

// Guarded wraps the provider's start calls with its breaker.
func (f *Factory) Guarded(name string) (Terminal, error) {
	p, breaker, err := f.Get(name)
	if err != nil {
		return nil, err
	}
	return &guardedTerminal{Terminal: p, breaker: breaker}, nil
}
