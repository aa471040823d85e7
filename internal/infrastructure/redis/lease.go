package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// Lua script for safe lease release (only owner can release)
	releaseLeaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	// Lua script for lease extension
	extendLeaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// ErrStationLeaseHeld is returned when another process already serves the station.
var ErrStationLeaseHeld = errors.New("station is served by another process")

// StationLease makes sure only one process drives a station's terminal at a
// time. The lease expires on its own if the holder dies.
type StationLease struct {
	client   redis.UniversalClient
	key      string
	owner    string
	ttl      time.Duration
	acquired bool
}

// NewStationLease creates a lease for one station.
func NewStationLease(client redis.UniversalClient, prefix, stationID string, ttl time.Duration) *StationLease {
	return &StationLease{
		client: client,
		key:    stationKey(prefix, stationID, "lease"),
		owner:  uuid.New().String(),
		ttl:    ttl,
	}
}

// Acquire attempts to take the lease.
func (l *StationLease) Acquire(ctx context.Context) (bool, error) {
	// SET NX PX takes the lease only when nobody holds it
	success, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire station lease: %w", err)
	}

	l.acquired = success
	return success, nil
}

// AcquireWithRetry attempts to take the lease, waiting between attempts.
func (l *StationLease) AcquireWithRetry(ctx context.Context, maxRetries int, retryDelay time.Duration) error {
	for i := 0; i < maxRetries; i++ {
		acquired, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
			continue
		}
	}

	return ErrStationLeaseHeld
}

// Extend pushes the lease expiry forward by ttl.
func (l *StationLease) Extend(ctx context.Context) error {
	if !l.acquired {
		return errors.New("station lease not acquired")
	}

	result, err := extendLeaseScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("failed to extend station lease: %w", err)
	}

	val, ok := result.(int64)
	if !ok || val == 0 {
		l.acquired = false
		return ErrStationLeaseHeld
	}

	return nil
}

// KeepAlive extends the lease every ttl/3 until ctx is done. It returns the
// error that made it lose the lease, or nil on cancellation.
func (l *StationLease) KeepAlive(ctx context.Context, logger zerolog.Logger) error {
	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.Extend(ctx); err != nil {
				if errors.Is(err, ErrStationLeaseHeld) {
					return err
				}
				// Transient errors are retried on the next tick while the lease lasts
				logger.Warn().Err(err).Str("key", l.key).Msg("station lease extension failed")
			}
		}
	}
}

// Release gives the lease up.
func (l *StationLease) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}

	result, err := releaseLeaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Result()
	if err != nil {
		return fmt.Errorf("failed to release station lease: %w", err)
	}

	l.acquired = false
	val, ok := result.(int64)
	if !ok || val == 0 {
		return errors.New("station lease not held or already released")
	}

	return nil
}

// IsAcquired returns whether the lease is held.
func (l *StationLease) IsAcquired() bool {
	return l.acquired
}

func stationKey(prefix, stationID, suffix string) string {
	if prefix == "" {
		prefix = "pospay"
	}
	return fmt.Sprintf("%s:station:%s:%s", prefix, stationID, suffix)
}
