package dynamodb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGraphLock_ExcludesSecondHolder(t *testing.T) {
	client := newFakeClient()
	a := NewGraphLock(client, "lessonmaps", "a", time.Minute, zap.NewNop())
	b := NewGraphLock(client, "lessonmaps", "b", time.Minute, zap.NewNop())
	b.retryInterval = time.Millisecond

	unlock, err := a.Lock(context.Background(), "g1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.Lock(ctx, "g1")
	assert.Error(t, err, "the lock is held by a")

	other, err := b.Lock(context.Background(), "g2")
	require.NoError(t, err, "other graphs are independent")
	other()

	unlock()
	unlockB, err := b.Lock(context.Background(), "g1")
	require.NoError(t, err)
	unlockB()
}

func TestGraphLock_ExpiredLeaseIsTakenOver(t *testing.T) {
	client := newFakeClient()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	a := NewGraphLock(client, "lessonmaps", "a", time.Second, zap.NewNop())
	a.now = func() time.Time { return now }
	unlockA, err := a.Lock(context.Background(), "g1")
	require.NoError(t, err)

	b := NewGraphLock(client, "lessonmaps", "b", time.Second, zap.NewNop())
	b.now = func() time.Time { return now.Add(2 * time.Second) }
	unlockB, err := b.Lock(context.Background(), "g1")
	require.NoError(t, err)

	// a's late release must not free b's lock.
	unlockA()
	assert.Equal(t, "b", stringAttr(client.items["LOCK#g1|LOCK"], "Owner"))

	unlockB()
	assert.NotContains(t, client.items, "LOCK#g1|LOCK")
}
