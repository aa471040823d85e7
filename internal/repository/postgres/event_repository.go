package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ payment.EventRepository = (*EventRepository)(nil)

// EventRepository implements payment.EventRepository using PostgreSQL.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

func (r *EventRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// AddEvent inserts an authorization event. Station events carry no session.
func (r *EventRepository) AddEvent(ctx context.Context, event *payment.SessionEvent) error {
	data, err := json.Marshal(event.EventData)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	var sessionID *uuid.UUID
	if event.SessionID != uuid.Nil {
		sessionID = &event.SessionID
	}

	var amount, currency *string
	if cents, ok := centsFromEventData(event.EventData, "amount_cents"); ok && cents > 0 {
		s := centsToNumericString(cents)
		amount = &s
		if c, ok := event.EventData["currency"].(string); ok && c != "" {
			currency = &c
		}
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO authorization_events (id, station_id, session_id, event_type, amount, currency, event_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.StationID, sessionID, event.EventType, amount, currency, data, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert authorization event: %w", err)
	}
	return nil
}

// GetEvents retrieves the events of one session in insertion order.
func (r *EventRepository) GetEvents(ctx context.Context, sessionID uuid.UUID) ([]*payment.SessionEvent, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, station_id, session_id, event_type, event_data, created_at
		 FROM authorization_events WHERE session_id = $1 ORDER BY created_at ASC, seq ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list authorization events: %w", err)
	}
	defer rows.Close()

	var events []*payment.SessionEvent
	for rows.Next() {
		e := &payment.SessionEvent{}
		var (
			session *uuid.UUID
			data    []byte
		)
		if err := rows.Scan(&e.ID, &e.StationID, &session, &e.EventType, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if session != nil {
			e.SessionID = *session
		}
		if err := json.Unmarshal(data, &e.EventData); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SumFinalized returns the total and count of sales finalized at a station.
func (r *EventRepository) SumFinalized(ctx context.Context, stationID string) (payment.Amount, int, error) {
	var (
		total string
		count int
	)
	err := r.db(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text, COUNT(*)
		 FROM authorization_events WHERE station_id = $1 AND event_type = $2`,
		stationID, payment.EventPaymentFinalized,
	).Scan(&total, &count)
	if err != nil {
		return payment.Amount{}, 0, fmt.Errorf("sum finalized payments: %w", err)
	}
	cents, err := numericStringToCents(total)
	if err != nil {
		return payment.Amount{}, 0, err
	}
	return payment.NewAmount(cents), count, nil
}
