package providers

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/pospay/internal/domain/errors"
	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/google/uuid"
)

// MockTerminal is a configurable in-memory terminal for local stations and tests.
// Charges stay processing for a number of polls, then approve or decline.
type MockTerminal struct {
	name         string
	latency      time.Duration
	failureRate  float64 // 0.0 to 1.0, start calls fail with a transport error
	declineRate  float64 // 0.0 to 1.0, settled charges decline
	approveAfter int     // polls before a charge settles
	cancelOK     bool

	mu      sync.Mutex
	charges map[string]*mockCharge
	queued  string // reference holding the terminal, card only
}

type mockCharge struct {
	kind   payment.ChannelKind
	polls  int
	status payment.RemoteStatus
}

// MockTerminalOption configures a MockTerminal.
type MockTerminalOption func(*MockTerminal)

// WithLatency sets the simulated round-trip latency.
func WithLatency(d time.Duration) MockTerminalOption {
	return func(p *MockTerminal) { p.latency = d }
}

// WithFailureRate sets the probability that a start call fails in transport.
func WithFailureRate(rate float64) MockTerminalOption {
	return func(p *MockTerminal) { p.failureRate = rate }
}

// WithDeclineRate sets the probability that a charge settles declined.
func WithDeclineRate(rate float64) MockTerminalOption {
	return func(p *MockTerminal) { p.declineRate = rate }
}

// WithApproveAfter sets how many polls a charge stays processing.
func WithApproveAfter(polls int) MockTerminalOption {
	return func(p *MockTerminal) { p.approveAfter = polls }
}

// WithCancelResult sets whether cancellations are confirmed.
func WithCancelResult(ok bool) MockTerminalOption {
	return func(p *MockTerminal) { p.cancelOK = ok }
}

// NewMockTerminal creates a new mock terminal.
func NewMockTerminal(name string, opts ...MockTerminalOption) *MockTerminal {
	p := &MockTerminal{
		name:         name,
		latency:      100 * time.Millisecond,
		approveAfter: 2,
		cancelOK:     true,
		charges:      make(map[string]*mockCharge),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *MockTerminal) Name() string { return p.name }

func (p *MockTerminal) StartPix(ctx context.Context, req ChargeRequest) (*ProviderResult, error) {
	if err := p.roundTrip(ctx); err != nil {
		return nil, err
	}
	if rand.Float64() < p.failureRate {
		return nil, fmt.Errorf("%s: simulated transport failure: %w", p.name, domainErrors.ErrProviderUnavailable)
	}

	ref := fmt.Sprintf("%s_pix_%s", p.name, uuid.New().String()[:8])
	expires := time.Now().Add(15 * time.Minute)

	p.mu.Lock()
	p.charges[ref] = &mockCharge{kind: payment.ChannelPix, status: payment.RemoteProcessing}
	p.mu.Unlock()

	return &ProviderResult{
		Status:    payment.RemoteProcessing,
		Reference: ref,
		QRPayload: "00020126580014br.gov.bcb.pix0136" + ref + "5204000053039865802BR",
		ExpiresAt: &expires,
		RawStatus: "pending",
	}, nil
}

func (p *MockTerminal) StartCard(ctx context.Context, req ChargeRequest) (*ProviderResult, error) {
	if err := p.roundTrip(ctx); err != nil {
		return nil, err
	}
	if rand.Float64() < p.failureRate {
		return nil, fmt.Errorf("%s: simulated transport failure: %w", p.name, domainErrors.ErrProviderUnavailable)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.queued != "" {
		return nil, fmt.Errorf("%s: terminal %s: %w", p.name, req.TerminalHint, domainErrors.ErrTerminalBusy)
	}
	ref := fmt.Sprintf("%s_card_%s", p.name, uuid.New().String()[:8])
	p.charges[ref] = &mockCharge{kind: req.Kind, status: payment.RemoteProcessing}
	p.queued = ref

	return &ProviderResult{
		Status:    payment.RemoteProcessing,
		Reference: ref,
		RawStatus: "at_terminal",
	}, nil
}

func (p *MockTerminal) QueryStatus(ctx context.Context, reference string) (*ProviderResult, error) {
	if err := p.roundTrip(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.charges[reference]
	if !ok {
		return nil, fmt.Errorf("%s: charge %s: %w", p.name, reference, domainErrors.ErrInvalidInput)
	}
	if c.status == payment.RemoteProcessing {
		c.polls++
		if c.polls >= p.approveAfter {
			c.status = payment.RemoteApproved
			if rand.Float64() < p.declineRate {
				c.status = payment.RemoteDeclined
			}
			p.release(reference)
		}
	}

	res := &ProviderResult{Status: c.status, Reference: reference, RawStatus: string(c.status)}
	if c.status == payment.RemoteApproved && c.kind.IsCard() {
		res.Brand = "visa"
		res.NSU = fmt.Sprintf("%06d", rand.Intn(1_000_000))
		res.AuthorizationCode = uuid.New().String()[:6]
	}
	return res, nil
}

func (p *MockTerminal) Cancel(ctx context.Context, reference string) (bool, error) {
	if err := p.roundTrip(ctx); err != nil {
		return false, err
	}
	if !p.cancelOK {
		return false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.charges[reference]; ok && c.status == payment.RemoteProcessing {
		c.status = payment.RemoteDeclined
	}
	p.release(reference)
	return true, nil
}

func (p *MockTerminal) ClearQueue(ctx context.Context, reference, terminalHint string) (bool, error) {
	if err := p.roundTrip(ctx); err != nil {
		return false, err
	}
	if !p.cancelOK {
		return false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.queued != "" {
		if c, ok := p.charges[p.queued]; ok && c.status == payment.RemoteProcessing {
			c.status = payment.RemoteDeclined
		}
		p.queued = ""
	}
	return true, nil
}

func (p *MockTerminal) release(reference string) {
	if p.queued == reference {
		p.queued = ""
	}
}

func (p *MockTerminal) roundTrip(ctx context.Context) error {
	select {
	case <-time.After(p.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
