package checkout

import (
	"context"
	"errors"

	domainErrors "github.com/cassiomorais/pospay/internal/domain/errors"
	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/cassiomorais/pospay/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// CancelOutcome reports what an operator cancel did.
type CancelOutcome struct {
	// Released is set when a pending remote charge was confirmed released.
	Released bool
	// Blocked is set when the release failed and the station lock was engaged.
	Blocked   bool
	Reference string
	Session   payment.AuthorizationSession
}

// SaleGate decides when a sale may consume its payment and handles operator
// cancels.
type SaleGate struct {
	orchestrator *Orchestrator
	locks        *LockManager
	hooks        []FinalizeHook
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

// NewSaleGate creates a sale gate. metrics may be nil.
func NewSaleGate(o *Orchestrator, locks *LockManager, metrics *observability.Metrics, logger zerolog.Logger, hooks ...FinalizeHook) *SaleGate {
	return &SaleGate{
		orchestrator: o,
		locks:        locks,
		hooks:        hooks,
		metrics:      metrics,
		logger:       logger.With().Str("component", "sale_gate").Logger(),
	}
}

// CanFinalize reports whether s is approved and the station is not locked.
func (g *SaleGate) CanFinalize(ctx context.Context, s payment.AuthorizationSession) bool {
	if s.Status != payment.StatusApproved {
		return false
	}
	return g.locks.Check(ctx) == nil
}

// Finalize consumes the approved payment for a sale totalling cartTotal. The
// session returns to Idle and the finalize hooks run afterwards; a failing
// hook is logged and never undoes the finalization.
func (g *SaleGate) Finalize(ctx context.Context, cartTotal payment.Amount) (payment.PaymentEvidence, error) {
	if err := g.locks.Check(ctx); err != nil {
		return payment.PaymentEvidence{}, err
	}
	ev, err := g.orchestrator.consumeApproved(ctx, cartTotal)
	if err != nil {
		return payment.PaymentEvidence{}, err
	}

	if g.metrics != nil {
		g.metrics.Finalized.WithLabelValues(string(ev.Channel)).Inc()
	}
	g.logger.Info().
		Str("session_id", ev.SessionID.String()).
		Str("method_id", ev.MethodID).
		Str("amount", ev.Amount.String()).
		Str("reference", ev.ProviderReference).
		Msg("payment finalized")

	for _, h := range g.hooks {
		if err := h.OnFinalized(ctx, ev); err != nil {
			g.logger.Error().Err(err).Str("hook", h.Name()).Str("session_id", ev.SessionID.String()).Msg("finalize hook failed")
		}
	}
	return ev, nil
}

// Cancel handles an operator cancel of the current attempt. A session bound
// to a remote charge that is not approved is released first; if the release
// cannot be confirmed the station lock is engaged and the outcome is Blocked.
func (g *SaleGate) Cancel(ctx context.Context) (CancelOutcome, error) {
	// Stop the attempt before touching the remote side so no late result lands.
	s, err := g.orchestrator.resetAndSnapshot(ctx)
	if err != nil {
		return CancelOutcome{}, err
	}
	ref := s.ProviderReference

	out := CancelOutcome{Reference: ref}
	if ref != "" && s.Status != payment.StatusApproved {
		released, err := g.locks.TryRelease(ctx, ref)
		if err != nil && !errors.Is(err, domainErrors.ErrProviderNotConfigured) {
			g.logger.Warn().Err(err).Str("reference", ref).Msg("release attempt failed")
		}
		if !released {
			if err := g.locks.Engage(ctx, ref); err != nil {
				g.logger.Error().Err(err).Str("reference", ref).Msg("failed to persist station lock")
			}
			out.Blocked = true
		}
		out.Released = released
	}

	out.Session = g.orchestrator.Session()
	g.logger.Info().
		Str("previous_status", string(s.Status)).
		Str("reference", ref).
		Bool("released", out.Released).
		Bool("blocked", out.Blocked).
		Msg("authorization cancelled by operator")
	return out, nil
}

// Release retries freeing the terminal that holds the station lock.
func (g *SaleGate) Release(ctx context.Context) (bool, error) {
	return g.locks.TryRelease(ctx, "")
}
