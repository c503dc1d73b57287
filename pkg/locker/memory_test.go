package locker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "jobs:enforcement", "holder-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, "jobs:enforcement", "holder-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be rejected, not queued")

	// A different key is independent.
	ok, err = l.Acquire(ctx, "jobs:reminders", "holder-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLocker_ReleaseTokenMismatchIsNoop(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	ok, _ := l.Acquire(ctx, "jobs:enforcement", "holder-a", time.Minute)
	require.True(t, ok)

	// Wrong token: lease must survive.
	require.NoError(t, l.Release(ctx, "jobs:enforcement", "holder-b"))
	ok, _ = l.Acquire(ctx, "jobs:enforcement", "holder-c", time.Minute)
	assert.False(t, ok)

	// Right token: lease frees.
	require.NoError(t, l.Release(ctx, "jobs:enforcement", "holder-a"))
	ok, _ = l.Acquire(ctx, "jobs:enforcement", "holder-c", time.Minute)
	assert.True(t, ok)
}

func TestMemoryLocker_ExpiryFreesLease(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLocker().WithClock(func() time.Time { return now })
	ctx := context.Background()

	ok, _ := l.Acquire(ctx, "jobs:enforcement", "holder-a", time.Minute)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)

	ok, _ = l.Acquire(ctx, "jobs:enforcement", "holder-b", time.Minute)
	assert.True(t, ok, "expired lease must be acquirable")
}

func TestMemoryLocker_Renew(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLocker().WithClock(func() time.Time { return now })
	ctx := context.Background()

	ok, _ := l.Acquire(ctx, "jobs:enforcement", "holder-a", time.Minute)
	require.True(t, ok)

	now = now.Add(30 * time.Second)
	renewed, err := l.Renew(ctx, "jobs:enforcement", "holder-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, renewed)

	// 80s after acquisition, within the renewed window.
	now = now.Add(50 * time.Second)
	ok, _ = l.Acquire(ctx, "jobs:enforcement", "holder-b", time.Minute)
	assert.False(t, ok)

	// Renew with the wrong token must fail.
	renewed, err = l.Renew(ctx, "jobs:enforcement", "holder-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, renewed)
}
