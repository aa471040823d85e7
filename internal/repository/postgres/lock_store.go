package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ payment.LockStore = (*LockStore)(nil)

// LockStore persists station terminal locks. Every engage opens a row in
// terminal_lock_history that the matching release closes.
type LockStore struct {
	pool *pgxpool.Pool
	tx   *TxManager
}

// NewLockStore creates a new LockStore.
func NewLockStore(pool *pgxpool.Pool, tx *TxManager) *LockStore {
	return &LockStore{pool: pool, tx: tx}
}

func (s *LockStore) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, s.pool)
}

func (s *LockStore) Load(ctx context.Context, stationID string) (payment.TerminalLock, error) {
	var lock payment.TerminalLock
	err := s.db(ctx).QueryRow(ctx,
		`SELECT reference, engaged_at FROM station_terminal_locks WHERE station_id = $1`, stationID,
	).Scan(&lock.Reference, &lock.EngagedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payment.TerminalLock{}, nil
		}
		return payment.TerminalLock{}, fmt.Errorf("select terminal lock: %w", err)
	}
	lock.Active = true
	return lock, nil
}

func (s *LockStore) Save(ctx context.Context, stationID string, lock payment.TerminalLock) error {
	engaged := lock.EngagedAt
	if engaged.IsZero() {
		engaged = time.Now()
	}
	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		tag, err := s.db(ctx).Exec(ctx,
			`INSERT INTO station_terminal_locks (station_id, reference, engaged_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (station_id) DO UPDATE SET reference = EXCLUDED.reference
			 WHERE station_terminal_locks.reference IS DISTINCT FROM EXCLUDED.reference`,
			stationID, lock.Reference, engaged,
		)
		if err != nil {
			return fmt.Errorf("upsert terminal lock: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Same lock saved again.
			return nil
		}
		if _, err := s.db(ctx).Exec(ctx,
			`INSERT INTO terminal_lock_history (station_id, reference, engaged_at) VALUES ($1, $2, $3)`,
			stationID, lock.Reference, engaged,
		); err != nil {
			return fmt.Errorf("insert lock history: %w", err)
		}
		return nil
	})
}

func (s *LockStore) Clear(ctx context.Context, stationID string) error {
	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.db(ctx).Exec(ctx,
			`DELETE FROM station_terminal_locks WHERE station_id = $1`, stationID,
		); err != nil {
			return fmt.Errorf("delete terminal lock: %w", err)
		}
		if _, err := s.db(ctx).Exec(ctx,
			`UPDATE terminal_lock_history SET released_at = NOW()
			 WHERE station_id = $1 AND released_at IS NULL`, stationID,
		); err != nil {
			return fmt.Errorf("close lock history: %w", err)
		}
		return nil
	})
}
