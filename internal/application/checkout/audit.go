package checkout

import (
	"context"
	"time"

	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/rs/zerolog"
)

const auditWriteTimeout = 3 * time.Second

var (
	_ Observer     = (*AuditTrail)(nil)
	_ FinalizeHook = (*AuditTrail)(nil)
)

// AuditTrail records session transitions, lock changes and finalizations in
// an event repository. It is both an Observer and a FinalizeHook.
type AuditTrail struct {
	stationID string
	repo      payment.EventRepository
	logger    zerolog.Logger
}

// NewAuditTrail creates an audit trail for one station.
func NewAuditTrail(stationID string, repo payment.EventRepository, logger zerolog.Logger) *AuditTrail {
	return &AuditTrail{
		stationID: stationID,
		repo:      repo,
		logger:    logger.With().Str("component", "audit").Logger(),
	}
}

func (a *AuditTrail) SessionChanged(s payment.AuthorizationSession) {
	a.record(payment.NewSessionEvent(a.stationID, s))
}

func (a *AuditTrail) StationLocked(reference string) {
	a.record(payment.NewStationEvent(a.stationID, payment.EventStationLocked, reference))
}

func (a *AuditTrail) StationUnlocked() {
	a.record(payment.NewStationEvent(a.stationID, payment.EventStationUnlocked, ""))
}

func (a *AuditTrail) Name() string { return "audit" }

func (a *AuditTrail) OnFinalized(ctx context.Context, ev payment.PaymentEvidence) error {
	return a.repo.AddEvent(ctx, payment.NewFinalizedEvent(a.stationID, ev))
}

// record writes an observer event. Observer calls carry no context, so each
// write gets its own deadline and failures are only logged.
func (a *AuditTrail) record(e *payment.SessionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()
	if err := a.repo.AddEvent(ctx, e); err != nil {
		a.logger.Error().Err(err).Str("event_type", e.EventType).Str("session_id", e.SessionID.String()).Msg("failed to record audit event")
	}
}
