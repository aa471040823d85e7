package providers

import (
	"context"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/pospay/internal/domain/errors"
	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cardRequest() ChargeRequest {
	return ChargeRequest{
		SessionID:    "sess-1",
		Amount:       payment.NewAmount(12000),
		Kind:         payment.ChannelCredit,
		TerminalHint: "PAX_A910__SMARTPOS123",
	}
}

func TestNewMockTerminal(t *testing.T) {
	p := NewMockTerminal("test")

	assert.Equal(t, "test", p.Name())
	assert.Equal(t, 2, p.approveAfter)
	assert.True(t, p.cancelOK)
}

func TestMockTerminal_CardApprovesAfterPolls(t *testing.T) {
	p := NewMockTerminal("test", WithLatency(0), WithApproveAfter(2))
	ctx := context.Background()

	started, err := p.StartCard(ctx, cardRequest())
	require.NoError(t, err)
	assert.Equal(t, payment.RemoteProcessing, started.Status)
	assert.Contains(t, started.Reference, "test_card_")

	first, err := p.QueryStatus(ctx, started.Reference)
	require.NoError(t, err)
	assert.Equal(t, payment.RemoteProcessing, first.Status)

	second, err := p.QueryStatus(ctx, started.Reference)
	require.NoError(t, err)
	assert.Equal(t, payment.RemoteApproved, second.Status)
	assert.NotEmpty(t, second.AuthorizationCode)
}

func TestMockTerminal_BusyUntilQueueCleared(t *testing.T) {
	p := NewMockTerminal("test", WithLatency(0))
	ctx := context.Background()

	_, err := p.StartCard(ctx, cardRequest())
	require.NoError(t, err)

	_, err = p.StartCard(ctx, cardRequest())
	assert.ErrorIs(t, err, domainErrors.ErrTerminalBusy)

	cleared, err := p.ClearQueue(ctx, "", "PAX_A910__SMARTPOS123")
	require.NoError(t, err)
	assert.True(t, cleared)

	_, err = p.StartCard(ctx, cardRequest())
	assert.NoError(t, err)
}

func TestMockTerminal_PixReturnsQRCode(t *testing.T) {
	p := NewMockTerminal("test", WithLatency(0))

	res, err := p.StartPix(context.Background(), ChargeRequest{Amount: payment.NewAmount(5000), Kind: payment.ChannelPix})
	require.NoError(t, err)
	assert.Equal(t, payment.RemoteProcessing, res.Status)
	assert.NotEmpty(t, res.QRPayload)
	require.NotNil(t, res.ExpiresAt)
	assert.True(t, res.ExpiresAt.After(time.Now()))
}

func TestMockTerminal_CancelRefused(t *testing.T) {
	p := NewMockTerminal("test", WithLatency(0), WithCancelResult(false))
	ctx := context.Background()

	started, err := p.StartCard(ctx, cardRequest())
	require.NoError(t, err)

	ok, err := p.Cancel(ctx, started.Reference)
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := p.QueryStatus(ctx, started.Reference)
	require.NoError(t, err)
	assert.Equal(t, payment.RemoteProcessing, status.Status)
}

func TestMockTerminal_FailureRate(t *testing.T) {
	p := NewMockTerminal("test", WithLatency(0), WithFailureRate(1.0))

	_, err := p.StartCard(context.Background(), cardRequest())
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
}

func TestMockTerminal_Latency(t *testing.T) {
	latency := 50 * time.Millisecond
	p := NewMockTerminal("test", WithLatency(latency))

	start := time.Now()
	_, err := p.StartPix(context.Background(), ChargeRequest{Amount: payment.NewAmount(100)})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), latency)
}

func TestMockTerminal_ContextCancelled(t *testing.T) {
	p := NewMockTerminal("test", WithLatency(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.QueryStatus(ctx, "any")
	assert.ErrorIs(t, err, context.Canceled)
}
