package checkout

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/pospay/internal/domain/errors"
	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/cassiomorais/pospay/internal/infrastructure/observability"
	"github.com/cassiomorais/pospay/internal/infrastructure/providers"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OutcomeKind classifies what a channel start produced.
type OutcomeKind int

const (
	// OutcomeImmediate carries a final approved or declined result.
	OutcomeImmediate OutcomeKind = iota + 1
	// OutcomePending means the charge is waiting on the remote side.
	OutcomePending
	// OutcomeFailed means the provider refused to start the charge.
	OutcomeFailed
)

// StartOutcome is the result of Channel.Start.
type StartOutcome struct {
	Kind      OutcomeKind
	Provider  string
	Reference string
	Result    *payment.Result
	// Poll is set on pending outcomes that the orchestrator must drive to a
	// terminal status by querying the provider.
	Poll   bool
	Reason string
}

// Immediate builds a final outcome.
func Immediate(provider, reference string, r *payment.Result) StartOutcome {
	return StartOutcome{Kind: OutcomeImmediate, Provider: provider, Reference: reference, Result: r}
}

// Pending builds a waiting outcome.
func Pending(provider, reference string, first *payment.Result, poll bool) StartOutcome {
	return StartOutcome{Kind: OutcomePending, Provider: provider, Reference: reference, Result: first, Poll: poll}
}

// Failed builds a refused outcome.
func Failed(provider, reason string) StartOutcome {
	return StartOutcome{Kind: OutcomeFailed, Provider: provider, Reason: reason}
}

// StartRequest describes one start attempt.
type StartRequest struct {
	AttemptID   uuid.UUID
	Amount      payment.Amount
	Kind        payment.ChannelKind
	Description string
}

// Channel is the processing path of a payment method.
type Channel interface {
	Provider() string
	Start(ctx context.Context, req StartRequest) (StartOutcome, error)
}

// RemoteChannel is a channel backed by an external terminal provider.
type RemoteChannel interface {
	Channel
	TerminalReleaser
}

// ManualChannel approves at once without contacting anything.
type ManualChannel struct{}

func (ManualChannel) Provider() string { return payment.ProviderManual }

func (ManualChannel) Start(_ context.Context, _ StartRequest) (StartOutcome, error) {
	return Immediate(payment.ProviderManual, "", &payment.Result{Status: payment.RemoteApproved}), nil
}

type remote struct {
	terminal     providers.Terminal
	terminalHint string
	tracer       trace.Tracer
}

func (r *remote) Provider() string { return r.terminal.Name() }

func (r *remote) Query(ctx context.Context, reference string) (*payment.Result, error) {
	ctx, span := r.span(ctx, "terminal.query_status", reference)
	defer span.End()

	res, err := r.terminal.QueryStatus(ctx, reference)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("remote.status", string(res.Status)))
	return res.ToResult(), nil
}

func (r *remote) Cancel(ctx context.Context, reference string) (bool, error) {
	ctx, span := r.span(ctx, "terminal.cancel", reference)
	defer span.End()

	ok, err := r.terminal.Cancel(ctx, reference)
	if err != nil {
		span.RecordError(err)
	}
	return ok, err
}

func (r *remote) ClearQueue(ctx context.Context, reference string) (bool, error) {
	ctx, span := r.span(ctx, "terminal.clear_queue", reference)
	defer span.End()

	ok, err := r.terminal.ClearQueue(ctx, reference, r.terminalHint)
	if err != nil {
		span.RecordError(err)
	}
	return ok, err
}

func (r *remote) span(ctx context.Context, name, reference string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("provider", r.terminal.Name()),
		attribute.String("provider.reference", reference),
	))
}

// outcome maps a provider start response to a start outcome.
func (r *remote) outcome(res *providers.ProviderResult, err error) (StartOutcome, error) {
	if err != nil {
		if errors.Is(err, domainErrors.ErrProviderRejected) {
			return Failed(r.Provider(), err.Error()), nil
		}
		return StartOutcome{}, err
	}
	if res == nil {
		return Failed(r.Provider(), "empty provider response"), nil
	}
	if res.Status.IsTerminal() {
		return Immediate(r.Provider(), res.Reference, res.ToResult()), nil
	}
	return Pending(r.Provider(), res.Reference, res.ToResult(), res.Reference != ""), nil
}

func (r *remote) charge(req StartRequest) providers.ChargeRequest {
	return providers.ChargeRequest{
		SessionID:      req.AttemptID.String(),
		Amount:         req.Amount,
		Kind:           req.Kind,
		TerminalHint:   r.terminalHint,
		Description:    req.Description,
		IdempotencyKey: uuid.NewString(),
	}
}

// PixChannel requests a scannable PIX code.
type PixChannel struct{ remote }

func (c *PixChannel) Start(ctx context.Context, req StartRequest) (StartOutcome, error) {
	ctx, span := c.tracer.Start(ctx, "channel.pix.start", trace.WithAttributes(
		attribute.String("provider", c.Provider()),
		attribute.Int64("amount_cents", req.Amount.ValueCents),
	))
	defer span.End()

	charge := c.charge(req)
	charge.Kind = payment.ChannelPix
	out, err := c.outcome(c.terminal.StartPix(ctx, charge))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

// CardChannel sends the charge to the station card terminal.
type CardChannel struct{ remote }

func (c *CardChannel) Start(ctx context.Context, req StartRequest) (StartOutcome, error) {
	ctx, span := c.tracer.Start(ctx, "channel.card.start", trace.WithAttributes(
		attribute.String("provider", c.Provider()),
		attribute.String("terminal", c.terminalHint),
		attribute.String("kind", string(req.Kind)),
		attribute.Int64("amount_cents", req.Amount.ValueCents),
	))
	defer span.End()

	out, err := c.outcome(c.terminal.StartCard(ctx, c.charge(req)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

// Channels selects the channel serving a channel kind.
type Channels struct {
	manual ManualChannel
	pix    *PixChannel
	card   *CardChannel
}

// NewChannels builds the channels of a station. A nil terminal leaves only
// the manual channel available.
func NewChannels(terminal providers.Terminal, terminalHint string) *Channels {
	c := &Channels{}
	if terminal != nil {
		r := remote{terminal: terminal, terminalHint: terminalHint, tracer: observability.Tracer()}
		c.pix = &PixChannel{remote: r}
		c.card = &CardChannel{remote: r}
	}
	return c
}

// For returns the channel for kind. Kinds that need no provider, including
// ChannelUnknown, are served by the manual channel.
func (c *Channels) For(kind payment.ChannelKind) (Channel, error) {
	switch {
	case kind == payment.ChannelPix:
		if c.pix == nil {
			return nil, fmt.Errorf("pix: %w", domainErrors.ErrProviderNotConfigured)
		}
		return c.pix, nil
	case kind.IsCard():
		if c.card == nil {
			return nil, fmt.Errorf("%s: %w", kind, domainErrors.ErrProviderNotConfigured)
		}
		return c.card, nil
	default:
		return c.manual, nil
	}
}

// Releaser returns what frees the station terminal, or nil without a provider.
func (c *Channels) Releaser() TerminalReleaser {
	if c.card == nil {
		return nil
	}
	return c.card
}
