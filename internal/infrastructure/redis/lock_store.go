package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/redis/go-redis/v9"
)

var _ payment.LockStore = (*LockStore)(nil)

// LockStore keeps the station terminal lock in a Redis hash with no expiry;
// the lock only goes away on a confirmed release.
type LockStore struct {
	client redis.UniversalClient
	prefix string
}

func NewLockStore(client redis.UniversalClient, prefix string) *LockStore {
	return &LockStore{client: client, prefix: prefix}
}

func (s *LockStore) key(stationID string) string {
	return stationKey(s.prefix, stationID, "terminal_lock")
}

func (s *LockStore) Load(ctx context.Context, stationID string) (payment.TerminalLock, error) {
	fields, err := s.client.HGetAll(ctx, s.key(stationID)).Result()
	if err != nil {
		return payment.TerminalLock{}, fmt.Errorf("failed to load terminal lock: %w", err)
	}
	if len(fields) == 0 {
		return payment.TerminalLock{}, nil
	}

	lock := payment.TerminalLock{Active: true, Reference: fields["reference"]}
	if v := fields["engaged_at"]; v != "" {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			lock.EngagedAt = ts
		}
	}
	return lock, nil
}

func (s *LockStore) Save(ctx context.Context, stationID string, lock payment.TerminalLock) error {
	engaged := lock.EngagedAt
	if engaged.IsZero() {
		engaged = time.Now()
	}
	err := s.client.HSet(ctx, s.key(stationID),
		"reference", lock.Reference,
		"engaged_at", engaged.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to save terminal lock: %w", err)
	}
	return nil
}

func (s *LockStore) Clear(ctx context.Context, stationID string) error {
	if err := s.client.Del(ctx, s.key(stationID)).Err(); err != nil {
		return fmt.Errorf("failed to clear terminal lock: %w", err)
	}
	return nil
}
