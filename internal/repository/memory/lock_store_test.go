package memory

import (
	"context"
	"testing"
	"time"

	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockStore(t *testing.T) {
	s := NewLockStore()
	ctx := context.Background()

	l, err := s.Load(ctx, "station-1")
	require.NoError(t, err)
	assert.False(t, l.Active)

	engaged := payment.TerminalLock{Active: true, Reference: "ORD01", EngagedAt: time.Now()}
	require.NoError(t, s.Save(ctx, "station-1", engaged))

	l, err = s.Load(ctx, "station-1")
	require.NoError(t, err)
	assert.Equal(t, engaged, l)

	other, err := s.Load(ctx, "station-2")
	require.NoError(t, err)
	assert.False(t, other.Active)

	require.NoError(t, s.Clear(ctx, "station-1"))
	require.NoError(t, s.Clear(ctx, "station-1"))
	l, err = s.Load(ctx, "station-1")
	require.NoError(t, err)
	assert.False(t, l.Active)
}
