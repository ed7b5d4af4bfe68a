package promotion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRedisSessionStoreRoundTrip(t *testing.T) {
	mr, client := newRedis(t)
	store := NewRedisSessionStore(client, time.Hour)
	ctx := context.Background()

	s := outstandingSession(t)
	require.NoError(t, s.Assign(FeeAction{StudentID: 3, Kind: ActionPayment, PaymentAmount: amount(1200), PaymentMethod: "upi"}))
	require.NoError(t, store.Save(ctx, s))
	require.Equal(t, time.Hour, mr.TTL(sessionKeyPrefix+s.ID))

	loaded, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, StageOutstanding, loaded.Stage)
	require.True(t, loaded.DuesLoaded)
	require.Equal(t, []int64{3, 7}, loaded.AffectedStudents())
	require.True(t, loaded.Actions[3].PaymentAmount.Equal(amount(1200)))
	require.True(t, loaded.Dues[7].TotalDues.Equal(amount(30000)))
	require.Equal(t, 1, loaded.Unassigned())

	require.NoError(t, store.Delete(ctx, s.ID))
	_, err = store.Load(ctx, s.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisSessionStoreExpires(t *testing.T) {
	mr, client := newRedis(t)
	store := NewRedisSessionStore(client, 0)
	s := NewSession(1, 2)
	require.NoError(t, store.Save(context.Background(), s))
	require.Equal(t, 2*time.Hour, mr.TTL(sessionKeyPrefix+s.ID))

	mr.FastForward(3 * time.Hour)
	_, err := store.Load(context.Background(), s.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}
