package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	SessionStream   = "pospay:sessions"
	FinalizedStream = "pospay:finalized"

	publishTimeout = 3 * time.Second
)

// StreamPublisher mirrors checkout events onto Redis streams so back-office
// consumers can follow a station in real time. It satisfies the checkout
// Observer and FinalizeHook interfaces.
type StreamPublisher struct {
	client    redis.UniversalClient
	stationID string
	maxLen    int64
	logger    zerolog.Logger
}

func NewStreamPublisher(client redis.UniversalClient, stationID string, maxLen int64, logger zerolog.Logger) *StreamPublisher {
	return &StreamPublisher{
		client:    client,
		stationID: stationID,
		maxLen:    maxLen,
		logger:    logger.With().Str("component", "stream_publisher").Logger(),
	}
}

func (p *StreamPublisher) SessionChanged(s payment.AuthorizationSession) {
	p.record(SessionStream, payment.NewSessionEvent(p.stationID, s))
}

func (p *StreamPublisher) StationLocked(reference string) {
	p.record(SessionStream, payment.NewStationEvent(p.stationID, payment.EventStationLocked, reference))
}

func (p *StreamPublisher) StationUnlocked() {
	p.record(SessionStream, payment.NewStationEvent(p.stationID, payment.EventStationUnlocked, ""))
}

func (p *StreamPublisher) Name() string { return "stream" }

func (p *StreamPublisher) OnFinalized(ctx context.Context, ev payment.PaymentEvidence) error {
	return p.Publish(ctx, FinalizedStream, payment.NewFinalizedEvent(p.stationID, ev))
}

// Publish appends one event to a stream, trimming it to roughly maxLen entries.
func (p *StreamPublisher) Publish(ctx context.Context, stream string, e *payment.SessionEvent) error {
	payload, err := json.Marshal(e.EventData)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	session := ""
	if e.SessionID != uuid.Nil {
		session = e.SessionID.String()
	}

	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: p.maxLen > 0,
		Values: map[string]any{
			"event_id":   e.ID.String(),
			"station_id": e.StationID,
			"session_id": session,
			"event_type": e.EventType,
			"payload":    string(payload),
			"timestamp":  e.CreatedAt.Unix(),
		},
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", e.EventType, err)
	}
	return nil
}

// record is used by observer callbacks, which carry no context; failures
// are only logged.
func (p *StreamPublisher) record(stream string, e *payment.SessionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.Publish(ctx, stream, e); err != nil {
		p.logger.Error().Err(err).Str("event_type", e.EventType).Msg("failed to publish checkout event")
	}
}
