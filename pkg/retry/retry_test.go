package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	var retried []uint

	cfg := FixedConfig(3, time.Millisecond, func(err error) bool { return errors.Is(err, errBusy) })
	cfg.OnRetry = func(n uint, err error) { retried = append(retried, n) }

	err := Do(context.Background(), cfg, func() error {
		calls++
		if calls < 2 {
			return errBusy
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []uint{0}, retried)
}

func TestDo_StopsAtMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), FixedConfig(3, time.Millisecond, nil), func() error {
		calls++
		return errBusy
	})

	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryableErrorStopsImmediately(t *testing.T) {
	other := errors.New("validation")
	calls := 0
	err := Do(context.Background(), FixedConfig(3, time.Millisecond, func(err error) bool { return errors.Is(err, errBusy) }), func() error {
		calls++
		return other
	})

	assert.ErrorIs(t, err, other)
	assert.Equal(t, 1, calls)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	v, err := DoWithResult(context.Background(), FixedConfig(3, time.Millisecond, nil), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errBusy
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
