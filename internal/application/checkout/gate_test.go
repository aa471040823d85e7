package checkout_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/pospay/internal/domain/errors"
	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/cassiomorais/pospay/internal/infrastructure/providers"
	"github.com/cassiomorais/pospay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaleGate_FinalizeConsumesApproval(t *testing.T) {
	h := newHarness(t, testPolicy(30))
	ctx := context.Background()

	s, err := h.orch.Authorize(ctx, testutil.CashMethod, payment.NewAmount(5000))
	require.NoError(t, err)

	ev, err := h.gate.Finalize(ctx, payment.NewAmount(5000))
	require.NoError(t, err)
	assert.Equal(t, s.ID, ev.SessionID)
	assert.Equal(t, "cash", ev.MethodID)
	assert.Equal(t, "01", ev.NFCeCode)
	assert.Equal(t, payment.RemoteApproved, ev.Status)
	assert.Equal(t, payment.ProviderManual, ev.Provider)

	assert.Equal(t, payment.StatusIdle, h.orch.Session().Status)
	require.Len(t, h.hook.Received(), 1)
	assert.Equal(t, s.ID, h.hook.Received()[0].SessionID)

	_, err = h.gate.Finalize(ctx, payment.NewAmount(5000))
	assert.ErrorIs(t, err, domainErrors.ErrPaymentNotApproved)
}

func TestSaleGate_FinalizeCarriesCardEvidence(t *testing.T) {
	h := newHarness(t, testPolicy(30))
	ctx := context.Background()
	h.terminal.StartCardFunc = func(context.Context, providers.ChargeRequest) (*providers.ProviderResult, error) {
		return testutil.Processing("ORD-1"), nil
	}
	h.terminal.QueryStatusFunc = queryScript(testutil.Approved("ORD-1"))

	_, err := h.orch.Authorize(ctx, testutil.CreditMethod, payment.NewAmount(12000))
	require.NoError(t, err)
	h.waitStatus(t, payment.StatusApproved)

	ev, err := h.gate.Finalize(ctx, payment.NewAmount(12000))
	require.NoError(t, err)
	assert.Equal(t, "mock", ev.Provider)
	assert.Equal(t, "ORD-1", ev.ProviderReference)
	assert.Equal(t, "000123", ev.NSU)
	assert.Equal(t, "visa", ev.Brand)
	assert.Equal(t, "A1B2C3", ev.AuthorizationCode)
	assert.Equal(t, payment.ChannelCredit, ev.Channel)
}

func TestSaleGate_FinalizeHookFailureDoesNotUndo(t *testing.T) {
	h := newHarness(t, testPolicy(30))
	h.hook.Err = errors.New("printer offline")
	ctx := context.Background()

	_, err := h.orch.Authorize(ctx, testutil.CashMethod, payment.NewAmount(5000))
	require.NoError(t, err)

	_, err = h.gate.Finalize(ctx, payment.NewAmount(5000))
	require.NoError(t, err)
	assert.Len(t, h.hook.Received(), 1)
	assert.Equal(t, payment.StatusIdle, h.orch.Session().Status)
}

func TestSaleGate_FinalizeRejectsChangedTotal(t *testing.T) {
	h := newHarness(t, testPolicy(30))
	ctx := context.Background()

	_, err := h.orch.Authorize(ctx, testutil.CashMethod, payment.NewAmount(5000))
	require.NoError(t, err)

	_, err = h.gate.Finalize(ctx, payment.NewAmount(5500))
	assert.ErrorIs(t, err, domainErrors.ErrAmountChanged)
	assert.Equal(t, payment.StatusIdle, h.orch.Session().Status)
	assert.Empty(t, h.hook.Received())
}

func TestSaleGate_LockBlocksApprovedSession(t *testing.T) {
	h := newHarness(t, testPolicy(30))
	ctx := context.Background()

	s, err := h.orch.Authorize(ctx, testutil.CashMethod, payment.NewAmount(5000))
	require.NoError(t, err)
	require.True(t, h.gate.CanFinalize(ctx, s))

	require.NoError(t, h.locks.Engage(ctx, "ref-other"))

	assert.False(t, h.gate.CanFinalize(ctx, h.orch.Session()))
	_, err = h.gate.Finalize(ctx, payment.NewAmount(5000))
	assert.ErrorIs(t, err, domainErrors.ErrStationLocked)
	_, err = h.orch.Authorize(ctx, testutil.CashMethod, payment.NewAmount(5000))
	assert.ErrorIs(t, err, domainErrors.ErrStationLocked)

	// The approval survives the lock.
	assert.Equal(t, payment.StatusApproved, h.orch.Session().Status)
}

func TestSaleGate_CancelReleasesPendingCharge(t *testing.T) {
	h := newHarness(t, testPolicy(30))
	ctx := context.Background()
	h.terminal.StartCardFunc = func(context.Context, providers.ChargeRequest) (*providers.ProviderResult, error) {
		return testutil.Processing("ref-c1"), nil
	}
	h.terminal.QueryStatusFunc = blockingQuery
	h.terminal.CancelFunc = func(context.Context, string) (bool, error) { return true, nil }

	_, err := h.orch.Authorize(ctx, testutil.CreditMethod, payment.NewAmount(12000))
	require.NoError(t, err)

	out, err := h.gate.Cancel(ctx)
	require.NoError(t, err)
	assert.True(t, out.Released)
	assert.False(t, out.Blocked)
	assert.Equal(t, "ref-c1", out.Reference)
	assert.Equal(t, payment.StatusIdle, out.Session.Status)
	assert.NoError(t, h.locks.Check(ctx))

	h.waitIdleGuard(t)
	s, err := h.orch.Authorize(ctx, testutil.CashMethod, payment.NewAmount(12000))
	require.NoError(t, err)
	assert.Equal(t, payment.StatusApproved, s.Status)
}

func TestSaleGate_CancelUnconfirmedBlocksStation(t *testing.T) {
	h := newHarness(t, testPolicy(30))
	ctx := context.Background()
	h.terminal.StartCardFunc = func(context.Context, providers.ChargeRequest) (*providers.ProviderResult, error) {
		return testutil.Processing("ref-c2"), nil
	}
	var settled atomic.Bool
	var polled atomic.Bool
	h.terminal.QueryStatusFunc = func(qctx context.Context, ref string) (*providers.ProviderResult, error) {
		// The first query comes from the poll loop and stalls until the attempt stops.
		if polled.CompareAndSwap(false, true) {
			return blockingQuery(qctx, ref)
		}
		if settled.Load() {
			return testutil.Declined(ref), nil
		}
		return testutil.Processing(ref), nil
	}

	_, err := h.orch.Authorize(ctx, testutil.CreditMethod, payment.NewAmount(12000))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.terminal.Calls("QueryStatus") == 1 }, 2*time.Second, 5*time.Millisecond)

	out, err := h.gate.Cancel(ctx)
	require.NoError(t, err)
	assert.False(t, out.Released)
	assert.True(t, out.Blocked)
	assert.Equal(t, payment.StatusIdle, out.Session.Status)
	assert.Equal(t, []string{"ref-c2"}, h.observer.Locked())

	_, err = h.orch.Authorize(ctx, testutil.CashMethod, payment.NewAmount(12000))
	assert.ErrorIs(t, err, domainErrors.ErrStationLocked)

	settled.Store(true)
	released, err := h.gate.Release(ctx)
	require.NoError(t, err)
	assert.True(t, released)

	h.waitIdleGuard(t)
	_, err = h.orch.Authorize(ctx, testutil.CashMethod, payment.NewAmount(12000))
	assert.NoError(t, err)
}

func TestSaleGate_CancelApprovedOnlyResets(t *testing.T) {
	h := newHarness(t, testPolicy(30))
	ctx := context.Background()
	h.terminal.QueryStatusFunc = queryScript(testutil.Approved("ref-a"))

	_, err := h.orch.Authorize(ctx, testutil.CreditMethod, payment.NewAmount(100))
	require.NoError(t, err)
	h.waitStatus(t, payment.StatusApproved)

	out, err := h.gate.Cancel(ctx)
	require.NoError(t, err)
	assert.False(t, out.Blocked)
	assert.False(t, out.Released)
	assert.Equal(t, payment.StatusIdle, out.Session.Status)
	assert.Zero(t, h.terminal.Calls("Cancel"))
	assert.Zero(t, h.terminal.Calls("ClearQueue"))
}

func TestSaleGate_CancelIdle(t *testing.T) {
	h := newHarness(t, testPolicy(30))

	out, err := h.gate.Cancel(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out.Reference)
	assert.False(t, out.Blocked)
	assert.Equal(t, payment.StatusIdle, out.Session.Status)
}

func TestSaleGate_CancelRacingApprovalKeepsApprovedCharge(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t, testPolicy(30))
		ctx := context.Background()
		h.terminal.StartCardFunc = func(context.Context, providers.ChargeRequest) (*providers.ProviderResult, error) {
			return testutil.Processing("ref-r"), nil
		}
		queried := make(chan struct{})
		answer := make(chan struct{})
		var first atomic.Bool
		h.terminal.QueryStatusFunc = func(_ context.Context, ref string) (*providers.ProviderResult, error) {
			if first.CompareAndSwap(false, true) {
				close(queried)
				<-answer
				return testutil.Approved(ref), nil
			}
			return testutil.Processing(ref), nil
		}
		h.terminal.CancelFunc = func(context.Context, string) (bool, error) { return true, nil }

		_, err := h.orch.Authorize(ctx, testutil.CreditMethod, payment.NewAmount(3000))
		require.NoError(t, err)
		<-queried

		// The approval and the cancel race; either may win, but never both.
		close(answer)
		out, err := h.gate.Cancel(ctx)
		require.NoError(t, err)
		h.waitIdleGuard(t)
		require.Eventually(t, func() bool {
			statuses := h.observer.Statuses()
			return len(statuses) > 0 && statuses[len(statuses)-1] == payment.StatusIdle
		}, 2*time.Second, 5*time.Millisecond)

		approved := false
		for _, st := range h.observer.Statuses() {
			if st == payment.StatusApproved {
				approved = true
			}
		}
		if approved {
			assert.False(t, out.Released, "iteration %d", i)
			assert.Zero(t, h.terminal.Calls("Cancel"), "iteration %d", i)
		} else {
			assert.True(t, out.Released, "iteration %d", i)
			assert.Equal(t, 1, h.terminal.Calls("Cancel"), "iteration %d", i)
		}
		assert.False(t, out.Blocked, "iteration %d", i)
		assert.Equal(t, payment.StatusIdle, out.Session.Status)
	}
}
