package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/pospay/internal/domain/errors"
	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/cassiomorais/pospay/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// LockManager owns the station terminal lock. The lock is engaged when a
// remote charge could not be confirmed cancelled, and blocks the station
// until a release attempt succeeds.
type LockManager struct {
	stationID string
	releaser  TerminalReleaser
	store     payment.LockStore
	observer  Observer
	metrics   *observability.Metrics
	logger    zerolog.Logger

	// releaseMu serializes release attempts; mu guards the lock state.
	releaseMu    sync.Mutex
	mu           sync.Mutex
	lock         payment.TerminalLock
	loaded       bool
	lastReleased string
}

// NewLockManager creates a lock manager. observer and metrics may be nil.
func NewLockManager(
	stationID string,
	releaser TerminalReleaser,
	store payment.LockStore,
	observer Observer,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *LockManager {
	if observer == nil {
		observer = NopObserver{}
	}
	return &LockManager{
		stationID: stationID,
		releaser:  releaser,
		store:     store,
		observer:  observer,
		metrics:   metrics,
		logger:    logger.With().Str("component", "lock_manager").Logger(),
	}
}

// State returns the current lock, loading it from the store on first use.
func (m *LockManager) State(ctx context.Context) (payment.TerminalLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		l, err := m.store.Load(ctx, m.stationID)
		if err != nil {
			return payment.TerminalLock{}, fmt.Errorf("load terminal lock: %w", err)
		}
		m.lock = l
		m.loaded = true
		m.setGauge(l.Active)
	}
	return m.lock, nil
}

// Check returns ErrStationLocked while the lock is engaged.
func (m *LockManager) Check(ctx context.Context) error {
	l, err := m.State(ctx)
	if err != nil {
		return err
	}
	if l.Active {
		return domainErrors.NewDomainError(
			"station_locked",
			"terminal charge "+l.Reference+" was not confirmed released",
			domainErrors.ErrStationLocked,
		)
	}
	return nil
}

// Engage activates the lock for reference. Engaging the lock already held for
// the same reference is a no-op. The in-memory lock stays engaged even when
// persisting it fails.
func (m *LockManager) Engage(ctx context.Context, reference string) error {
	if _, err := m.State(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("engaging lock without stored state")
	}

	m.mu.Lock()
	if m.lock.Active && m.lock.Reference == reference {
		m.mu.Unlock()
		return nil
	}
	m.lock = payment.TerminalLock{Active: true, Reference: reference, EngagedAt: time.Now()}
	m.loaded = true
	if m.lastReleased == reference {
		m.lastReleased = ""
	}
	err := m.store.Save(ctx, m.stationID, m.lock)
	m.mu.Unlock()

	m.setGauge(true)
	m.logger.Warn().Str("reference", reference).Msg("station locked: terminal release not confirmed")
	m.observer.StationLocked(reference)

	if err != nil {
		return fmt.Errorf("persist terminal lock: %w", err)
	}
	return nil
}

// TryRelease tries to free the terminal holding reference: cancel by
// reference, then queue clear, then a status re-check where any non-processing
// status counts as released. On success an engaged lock for reference is
// cleared. An empty reference targets the engaged lock. Repeated calls for a
// released reference return true without contacting the provider.
func (m *LockManager) TryRelease(ctx context.Context, reference string) (bool, error) {
	m.releaseMu.Lock()
	defer m.releaseMu.Unlock()

	current, err := m.State(ctx)
	if err != nil {
		return false, err
	}
	if reference == "" {
		reference = current.Reference
	}
	if reference == "" {
		return true, nil
	}
	if current.Active && current.Reference != reference {
		return false, domainErrors.NewDomainError(
			"reference_mismatch",
			"station is locked by charge "+current.Reference,
			domainErrors.ErrStationLocked,
		)
	}

	m.mu.Lock()
	already := m.lastReleased == reference
	m.mu.Unlock()
	if already {
		return true, nil
	}

	if m.releaser == nil {
		return false, domainErrors.ErrProviderNotConfigured
	}

	log := m.logger.With().Str("reference", reference).Logger()
	if !m.release(ctx, reference, log) {
		log.Warn().Bool("locked", current.Active).Msg("terminal release not confirmed")
		return false, nil
	}

	m.mu.Lock()
	m.lastReleased = reference
	wasActive := m.lock.Active
	var storeErr error
	if wasActive {
		m.lock = payment.TerminalLock{}
		storeErr = m.store.Clear(ctx, m.stationID)
	}
	m.mu.Unlock()

	if wasActive {
		m.setGauge(false)
		log.Info().Msg("station unlocked")
		m.observer.StationUnlocked()
	}
	if storeErr != nil {
		log.Error().Err(storeErr).Msg("failed to clear stored terminal lock")
	}
	return true, nil
}

func (m *LockManager) release(ctx context.Context, reference string, log zerolog.Logger) bool {
	ok, err := m.releaser.Cancel(ctx, reference)
	if err == nil && ok {
		log.Info().Str("step", "cancel").Msg("terminal released")
		return true
	}
	log.Debug().Err(err).Bool("confirmed", ok).Msg("cancel by reference did not release terminal")

	ok, err = m.releaser.ClearQueue(ctx, reference)
	if err == nil && ok {
		log.Info().Str("step", "clear_queue").Msg("terminal released")
		return true
	}
	log.Debug().Err(err).Bool("confirmed", ok).Msg("queue clear did not release terminal")

	res, err := m.releaser.Query(ctx, reference)
	if err != nil {
		log.Debug().Err(err).Msg("status re-check failed")
		return false
	}
	if res != nil && res.Status != payment.RemoteProcessing {
		log.Info().Str("step", "status_check").Str("remote_status", string(res.Status)).Msg("terminal released")
		return true
	}
	return false
}

func (m *LockManager) setGauge(active bool) {
	if m.metrics == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.metrics.StationLocked.WithLabelValues(m.stationID).Set(v)
}
