package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/pospay/internal/domain/errors"
	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/cassiomorais/pospay/internal/infrastructure/observability"
	"github.com/cassiomorais/pospay/pkg/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// releaseTimeout bounds the cancel and queue-clear calls made after a timeout.
const releaseTimeout = 15 * time.Second

// Policy holds the timing rules of an authorization attempt.
type Policy struct {
	// Timeout is the poll budget, already clamped by payment.ClampTimeout.
	Timeout           time.Duration
	PollInterval      time.Duration
	BusyRetryAttempts uint
	BusyRetryDelay    time.Duration
}

// DefaultPolicy polls every 3s for 30s and retries a busy terminal 3 times 5s apart.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:           payment.DefaultAuthorizationTimeout,
		PollInterval:      3 * time.Second,
		BusyRetryAttempts: 3,
		BusyRetryDelay:    5 * time.Second,
	}
}

// NewPolicy returns the default policy with the station timeout in seconds.
func NewPolicy(timeoutSeconds int) Policy {
	p := DefaultPolicy()
	p.Timeout = payment.ClampTimeout(timeoutSeconds)
	return p
}

// MaxPolls is the number of status queries allowed before the attempt times out.
func (p Policy) MaxPolls() int {
	return int((p.Timeout + p.PollInterval - 1) / p.PollInterval)
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	if p.PollInterval <= 0 {
		p.PollInterval = d.PollInterval
	}
	if p.BusyRetryAttempts == 0 {
		p.BusyRetryAttempts = d.BusyRetryAttempts
	}
	if p.BusyRetryDelay < 0 {
		p.BusyRetryDelay = 0
	}
	return p
}

// Sleeper waits d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver sets the observer notified of session changes.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithMetrics enables authorization metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSleeper replaces the wait between poll ticks.
func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

// WithDescription sets the charge description sent to providers.
func WithDescription(desc string) Option {
	return func(o *Orchestrator) { o.description = desc }
}

// State is a consistent view of the orchestrator.
type State struct {
	Session payment.AuthorizationSession
	// Busy is set while an attempt holds the guard, including the start and
	// busy-retry phase during which the session is still idle.
	Busy      bool
	CartTotal payment.Amount
}

// Orchestrator runs the authorization attempts of one station. All session
// and guard state belongs to a single loop goroutine; callers and background
// tasks submit closures to it.
type Orchestrator struct {
	stationID   string
	channels    *Channels
	locks       *LockManager
	policy      Policy
	observer    Observer
	metrics     *observability.Metrics
	logger      zerolog.Logger
	tracer      trace.Tracer
	sleep       Sleeper
	description string

	cmds    chan func()
	events  chan payment.AuthorizationSession
	done    chan struct{}
	closing sync.Once
	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc

	// Owned by the loop goroutine.
	session       *payment.AuthorizationSession
	cartTotal     payment.Amount
	inFlight      bool
	attempt       uint64
	attemptAmount payment.Amount
	cancelRun     context.CancelFunc
	invalidatedBy error
}

// NewOrchestrator creates an orchestrator and starts its loop. Close stops it.
func NewOrchestrator(
	stationID string,
	channels *Channels,
	locks *LockManager,
	policy Policy,
	logger zerolog.Logger,
	opts ...Option,
) *Orchestrator {
	baseCtx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		stationID: stationID,
		channels:  channels,
		locks:     locks,
		policy:    policy.normalized(),
		observer:  NopObserver{},
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		tracer:    observability.Tracer(),
		sleep:     sleepContext,
		cmds:      make(chan func()),
		events:    make(chan payment.AuthorizationSession, 64),
		done:      make(chan struct{}),
		baseCtx:   baseCtx,
		stop:      stop,
		session:   payment.NewSession(),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.wg.Add(2)
	go o.loop()
	go o.notify()
	return o
}

// Close stops the loop, cancels running attempts and waits for background work.
func (o *Orchestrator) Close() {
	o.closing.Do(func() {
		o.stop()
		close(o.done)
	})
	o.wg.Wait()
}

// Policy returns the effective timing rules.
func (o *Orchestrator) Policy() Policy {
	return o.policy
}

// Authorize starts an authorization of amount with method. It returns once the
// start phase is over: the returned session is Approved or Declined for
// immediate outcomes and Processing while the attempt continues in the
// background. Errors are only returned for failed preconditions and failed starts.
func (o *Orchestrator) Authorize(ctx context.Context, method payment.PaymentMethod, amount payment.Amount) (payment.AuthorizationSession, error) {
	if amount.ValueCents <= 0 {
		return payment.AuthorizationSession{}, domainErrors.ErrEmptyCart
	}
	if err := o.locks.Check(ctx); err != nil {
		return payment.AuthorizationSession{}, err
	}

	kind := payment.ResolveChannelKind(method)
	ch, err := o.channels.For(kind)
	if err != nil {
		return payment.AuthorizationSession{}, err
	}

	var seq, gen uint64
	err = o.do(ctx, func() error {
		if o.inFlight || o.session.Status == payment.StatusProcessing {
			return domainErrors.ErrAuthorizationInProgress
		}
		if o.session.Status != payment.StatusIdle {
			o.session.Reset()
			o.emit()
		}
		o.attempt++
		seq = o.attempt
		o.inFlight = true
		o.attemptAmount = amount
		o.cartTotal = amount
		o.invalidatedBy = nil
		gen = o.session.Generation
		return nil
	})
	if err != nil {
		return payment.AuthorizationSession{}, err
	}

	attemptID := uuid.New()
	log := o.logger.With().
		Str("session_id", attemptID.String()).
		Str("channel", string(kind)).
		Str("provider", ch.Provider()).
		Logger()

	ctx, span := o.tracer.Start(ctx, "checkout.authorize", trace.WithAttributes(
		attribute.String("station_id", o.stationID),
		attribute.String("channel", string(kind)),
		attribute.Int64("amount_cents", amount.ValueCents),
	))
	defer span.End()

	startedAt := time.Now()
	outcome, attempts, startErr := o.start(ctx, ch, StartRequest{
		AttemptID:   attemptID,
		Amount:      amount,
		Kind:        kind,
		Description: o.description,
	}, log)

	var snap payment.AuthorizationSession
	err = o.do(context.Background(), func() error {
		if o.session.Generation != gen {
			if _, remote := ch.(RemoteChannel); remote && startErr == nil &&
				outcome.Kind == OutcomePending && outcome.Reference != "" {
				o.discard(outcome.Reference, log)
			}
			o.finish(seq)
			if o.invalidatedBy != nil {
				return o.invalidatedBy
			}
			return domainErrors.ErrSessionInvalidated
		}
		if startErr != nil {
			o.finish(seq)
			return startErr
		}
		if outcome.Kind == OutcomeFailed {
			o.finish(seq)
			return domainErrors.NewDomainError("provider_rejected", outcome.Reason, domainErrors.ErrProviderRejected)
		}

		if err := o.session.BeginAttempt(attemptID, method, kind, amount); err != nil {
			o.finish(seq)
			return err
		}
		o.session.StartAttempts = attempts
		o.session.StartedAt = startedAt

		switch outcome.Kind {
		case OutcomeImmediate:
			o.settle(outcome.Provider, outcome.Reference, outcome.Result)
			o.finish(seq)
		case OutcomePending:
			if err := o.session.MarkProcessing(outcome.Provider, outcome.Reference, outcome.Result); err != nil {
				o.finish(seq)
				return err
			}
			rc, remote := ch.(RemoteChannel)
			if outcome.Poll && remote {
				runCtx, cancel := context.WithCancel(o.baseCtx)
				o.cancelRun = cancel
				o.wg.Add(1)
				go o.poll(runCtx, gen, seq, rc, outcome.Reference, log)
			} else {
				// Nothing drives this attempt further; only a cancel or a
				// cart change leaves Processing.
				o.finish(seq)
			}
		}
		o.emit()
		snap = o.session.Snapshot()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.countStartError(kind, err)
		log.Warn().Err(err).Int("start_attempts", attempts).Msg("authorization not started")
		return payment.AuthorizationSession{}, err
	}

	log.Info().
		Str("status", string(snap.Status)).
		Str("reference", snap.ProviderReference).
		Int("start_attempts", attempts).
		Msg("authorization started")
	return snap, nil
}

// start runs the channel start with the busy-retry policy. Only card channels
// retry, and only on ErrTerminalBusy; the terminal queue is cleared before
// each retry.
func (o *Orchestrator) start(ctx context.Context, ch Channel, req StartRequest, log zerolog.Logger) (StartOutcome, int, error) {
	attempts := 0
	cfg := retry.FixedConfig(o.policy.BusyRetryAttempts, o.policy.BusyRetryDelay, func(err error) bool {
		return req.Kind.IsCard() && errors.Is(err, domainErrors.ErrTerminalBusy)
	})
	cfg.OnRetry = func(n uint, err error) {
		// The retry library reports the final attempt too; there is no retry after it.
		if n+1 >= o.policy.BusyRetryAttempts {
			return
		}
		if o.metrics != nil {
			o.metrics.BusyRetries.WithLabelValues(ch.Provider()).Inc()
		}
		rc, ok := ch.(RemoteChannel)
		if !ok {
			return
		}
		cleared, cerr := rc.ClearQueue(ctx, "")
		log.Warn().
			Err(cerr).
			Uint("attempt", n+1).
			Bool("queue_cleared", cleared).
			Dur("retry_in", o.policy.BusyRetryDelay).
			Msg("terminal busy")
	}

	outcome, err := retry.DoWithResult(ctx, cfg, func() (StartOutcome, error) {
		attempts++
		return ch.Start(ctx, req)
	})
	if err != nil && errors.Is(err, domainErrors.ErrTerminalBusy) {
		err = fmt.Errorf("terminal still busy after %d attempts: %w", attempts, err)
	}
	return outcome, attempts, err
}

// poll drives a pending attempt to a terminal status. It checks invalidation
// before every query and before applying any result.
func (o *Orchestrator) poll(ctx context.Context, gen, seq uint64, rc RemoteChannel, reference string, log zerolog.Logger) {
	defer o.wg.Done()
	defer func() { _ = o.do(context.Background(), func() error { o.finish(seq); return nil }) }()

	log = log.With().Str("reference", reference).Logger()
	maxPolls := o.policy.MaxPolls()

	for tick := 1; tick <= maxPolls; tick++ {
		if err := o.sleep(ctx, o.policy.PollInterval); err != nil {
			return
		}
		if !o.current(gen) {
			log.Debug().Int("tick", tick).Msg("attempt invalidated, poll stopped")
			return
		}

		res, qerr := rc.Query(ctx, reference)

		settled := false
		err := o.do(context.Background(), func() error {
			if o.session.Generation != gen || o.session.Status != payment.StatusProcessing {
				return domainErrors.ErrSessionInvalidated
			}
			o.session.PollCount++
			if qerr != nil || res == nil {
				return nil
			}
			if res.Status.IsTerminal() {
				o.settle("", "", res)
				o.emit()
				settled = true
				return nil
			}
			o.session.UpdateResult(res)
			return nil
		})
		o.countPoll(rc.Provider(), res, qerr)

		switch {
		case err != nil:
			log.Debug().Int("tick", tick).Msg("late poll result discarded")
			return
		case settled:
			log.Info().Int("tick", tick).Str("status", string(res.Status)).Msg("authorization settled")
			return
		case qerr != nil:
			log.Warn().Err(qerr).Int("tick", tick).Msg("status query failed, skipping tick")
		}
	}

	o.expire(ctx, gen, rc, reference, log)
}

// expire handles an exhausted poll budget: cancel by reference, then clear
// the queue, then mark the attempt as errored. An unconfirmed release engages
// the station lock.
func (o *Orchestrator) expire(ctx context.Context, gen uint64, rc RemoteChannel, reference string, log zerolog.Logger) {
	if !o.current(gen) {
		return
	}

	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	released := false
	if ok, err := rc.Cancel(relCtx, reference); err == nil && ok {
		released = true
	} else {
		log.Warn().Err(err).Msg("cancel after timeout not confirmed, clearing queue")
		if ok, err := rc.ClearQueue(relCtx, reference); err == nil && ok {
			released = true
		} else {
			log.Warn().Err(err).Msg("queue clear after timeout not confirmed")
		}
	}

	if !released {
		if err := o.locks.Engage(relCtx, reference); err != nil {
			log.Error().Err(err).Msg("failed to engage station lock")
		}
	}
	if o.metrics != nil {
		o.metrics.Timeouts.WithLabelValues(fmt.Sprint(released)).Inc()
	}

	_ = o.do(context.Background(), func() error {
		if o.session.Generation != gen || o.session.Status != payment.StatusProcessing {
			return nil
		}
		if err := o.session.MarkError("authorization timed out", released); err != nil {
			return err
		}
		o.observeOutcome()
		o.emit()
		return nil
	})
	log.Warn().Bool("released", released).Int("max_polls", o.policy.MaxPolls()).Msg("authorization timed out")
}

// discard releases a remote charge the session no longer tracks: a start
// result that arrived after its attempt was invalidated, or a pending charge
// whose cart total changed. It goes through the lock manager like the timeout
// path, so an unconfirmed release engages the station lock. Runs on the loop;
// the release itself runs in the background.
func (o *Orchestrator) discard(reference string, log zerolog.Logger) {
	log = log.With().Str("reference", reference).Logger()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()

		released, err := o.locks.TryRelease(ctx, reference)
		if released {
			log.Info().Msg("discarded charge released")
			return
		}
		if errors.Is(err, domainErrors.ErrStationLocked) {
			// The lock belongs to another charge, which has to be released first.
			log.Error().Err(err).Msg("discarded charge not released")
			return
		}
		log.Warn().Err(err).Msg("discarded charge not confirmed released")
		if err := o.locks.Engage(ctx, reference); err != nil {
			log.Error().Err(err).Msg("failed to engage station lock")
		}
	}()
}

// SetAmount records the current cart total. A change while an attempt is
// bound to a different total resets the session to Idle at once; a pending
// remote charge for the old total is released in the background.
func (o *Orchestrator) SetAmount(ctx context.Context, amount payment.Amount) (payment.AuthorizationSession, error) {
	var snap payment.AuthorizationSession
	err := o.do(ctx, func() error {
		changed := false
		switch {
		case o.session.Status != payment.StatusIdle:
			changed = !o.session.BoundAmount.Equal(amount)
		case o.inFlight:
			changed = !o.attemptAmount.Equal(amount)
		}
		o.cartTotal = amount
		if !changed {
			snap = o.session.Snapshot()
			return nil
		}
		prev, ref := o.session.Status, o.session.ProviderReference
		o.invalidate(domainErrors.ErrAmountChanged)
		if prev == payment.StatusProcessing && ref != "" {
			o.discard(ref, o.logger)
		}
		snap = o.session.Snapshot()
		return nil
	})
	return snap, err
}

// Reset returns the session to Idle and discards any in-flight attempt. The
// remote side is left to the caller.
func (o *Orchestrator) Reset(ctx context.Context) error {
	_, err := o.resetAndSnapshot(ctx)
	return err
}

// resetAndSnapshot resets the session and returns it as it was, in one turn
// of the loop, so no result can land between the read and the reset.
func (o *Orchestrator) resetAndSnapshot(ctx context.Context) (payment.AuthorizationSession, error) {
	var prev payment.AuthorizationSession
	err := o.do(ctx, func() error {
		prev = o.session.Snapshot()
		o.invalidate(domainErrors.ErrSessionInvalidated)
		return nil
	})
	return prev, err
}

// Session returns a snapshot of the current session.
func (o *Orchestrator) Session() payment.AuthorizationSession {
	st, err := o.State(context.Background())
	if err != nil {
		return *payment.NewSession()
	}
	return st.Session
}

// State returns the session, the guard and the cart total in one read.
func (o *Orchestrator) State(ctx context.Context) (State, error) {
	var st State
	err := o.do(ctx, func() error {
		st = State{Session: o.session.Snapshot(), Busy: o.inFlight, CartTotal: o.cartTotal}
		return nil
	})
	return st, err
}

// consumeApproved hands out the evidence of an approved session bound to
// cartTotal and resets the session. A mismatching total invalidates it.
func (o *Orchestrator) consumeApproved(ctx context.Context, cartTotal payment.Amount) (payment.PaymentEvidence, error) {
	var ev payment.PaymentEvidence
	err := o.do(ctx, func() error {
		if o.session.Status != payment.StatusApproved {
			return domainErrors.ErrPaymentNotApproved
		}
		if !o.session.BoundAmount.Equal(cartTotal) {
			o.invalidate(domainErrors.ErrAmountChanged)
			return domainErrors.ErrAmountChanged
		}
		var err error
		ev, err = payment.EvidenceFrom(o.session.Snapshot())
		if err != nil {
			return err
		}
		o.session.Reset()
		o.emit()
		return nil
	})
	return ev, err
}

// invalidate runs on the loop.
func (o *Orchestrator) invalidate(reason error) {
	prev := o.session.Status
	ref := o.session.ProviderReference
	o.session.Reset()
	o.invalidatedBy = reason
	o.inFlight = false
	if o.cancelRun != nil {
		o.cancelRun()
		o.cancelRun = nil
	}
	o.emit()
	o.logger.Info().
		Str("previous_status", string(prev)).
		Str("reference", ref).
		AnErr("reason", reason).
		Msg("authorization session reset")
}

// finish releases the guard if it still belongs to attempt seq. Runs on the loop.
func (o *Orchestrator) finish(seq uint64) {
	if o.attempt != seq {
		return
	}
	o.inFlight = false
	if o.cancelRun != nil && o.session.Status != payment.StatusProcessing {
		o.cancelRun()
		o.cancelRun = nil
	}
}

// settle applies a terminal remote result. Runs on the loop.
func (o *Orchestrator) settle(provider, reference string, r *payment.Result) {
	var err error
	if r != nil && r.Status == payment.RemoteDeclined {
		err = o.session.MarkDeclined(provider, reference, r)
	} else {
		err = o.session.MarkApproved(provider, reference, r)
	}
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to settle session")
		return
	}
	o.observeOutcome()
}

func (o *Orchestrator) current(gen uint64) bool {
	return o.do(context.Background(), func() error {
		if o.session.Generation != gen {
			return domainErrors.ErrSessionInvalidated
		}
		return nil
	}) == nil
}

func (o *Orchestrator) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case o.cmds <- func() { reply <- fn() }:
		return <-reply
	case <-o.done:
		return domainErrors.ErrOrchestratorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) loop() {
	defer o.wg.Done()
	defer close(o.events)
	for {
		select {
		case fn := <-o.cmds:
			fn()
		case <-o.done:
			if o.cancelRun != nil {
				o.cancelRun()
			}
			return
		}
	}
}

// emit queues a snapshot for the observer. Runs on the loop.
func (o *Orchestrator) emit() {
	o.events <- o.session.Snapshot()
}

func (o *Orchestrator) notify() {
	defer o.wg.Done()
	for s := range o.events {
		o.observer.SessionChanged(s)
	}
}

func (o *Orchestrator) observeOutcome() {
	if o.metrics == nil {
		return
	}
	channel, status := string(o.session.Channel), string(o.session.Status)
	o.metrics.AuthorizationsTotal.WithLabelValues(channel, status).Inc()
	if !o.session.StartedAt.IsZero() {
		o.metrics.AuthorizationDuration.WithLabelValues(channel, status).Observe(time.Since(o.session.StartedAt).Seconds())
	}
}

func (o *Orchestrator) countPoll(provider string, res *payment.Result, err error) {
	if o.metrics == nil {
		return
	}
	result := "error"
	if err == nil && res != nil {
		result = string(res.Status)
	}
	o.metrics.PollQueries.WithLabelValues(provider, result).Inc()
}

func (o *Orchestrator) countStartError(kind payment.ChannelKind, err error) {
	if o.metrics == nil {
		return
	}
	errType := "other"
	switch {
	case errors.Is(err, domainErrors.ErrAuthorizationInProgress):
		errType = "in_progress"
	case errors.Is(err, domainErrors.ErrTerminalBusy):
		errType = "terminal_busy"
	case errors.Is(err, domainErrors.ErrProviderRejected):
		errType = "rejected"
	case errors.Is(err, domainErrors.ErrProviderUnavailable):
		errType = "unavailable"
	case errors.Is(err, domainErrors.ErrAmountChanged), errors.Is(err, domainErrors.ErrSessionInvalidated):
		errType = "invalidated"
	}
	o.metrics.StartErrors.WithLabelValues(string(kind), errType).Inc()
}
