package runlock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/costwatch/internal/clock"
	"github.com/smallbiznis/costwatch/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDBLocker(t *testing.T) (*DBLocker, *clock.FakeClock) {
	t.Helper()
	db := dbtest.Open(t, &RunLock{})
	fake := clock.NewFakeClock(time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC))
	return NewDBLocker(db, fake), fake
}

func TestDBLockerExclusive(t *testing.T) {
	locker, _ := newDBLocker(t)
	ctx := context.Background()

	var granted int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := locker.Acquire(ctx, KeyAutoSync, time.Minute, fmt.Sprintf("owner-%d", i))
			if err == nil && ok {
				atomic.AddInt32(&granted, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), granted)
}

func TestDBLockerExpiry(t *testing.T) {
	locker, fake := newDBLocker(t)
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, KeyWeeklyReport, 10*time.Minute, "a")
	require.NoError(t, err)
	require.True(t, ok)

	fake.Advance(5 * time.Minute)
	ok, err = locker.Acquire(ctx, KeyWeeklyReport, 10*time.Minute, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	fake.Advance(5 * time.Minute)
	ok, err = locker.Acquire(ctx, KeyWeeklyReport, 10*time.Minute, "b")
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is reclaimable")

	// a no longer holds the lock, so its release must not free b's.
	released, err := locker.Release(ctx, KeyWeeklyReport, "a")
	require.NoError(t, err)
	assert.False(t, released)

	ok, err = locker.Acquire(ctx, KeyWeeklyReport, 10*time.Minute, "c")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDBLockerRelease(t *testing.T) {
	locker, _ := newDBLocker(t)
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, KeyAutoSync, time.Hour, "a")
	require.NoError(t, err)
	require.True(t, ok)

	released, err := locker.Release(ctx, KeyAutoSync, "a")
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = locker.Acquire(ctx, KeyAutoSync, time.Hour, "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDBLockerKeysIndependent(t *testing.T) {
	locker, _ := newDBLocker(t)
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, KeyAutoSync, time.Hour, "a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = locker.Acquire(ctx, KeyWeeklyReport, time.Hour, "a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquireValidates(t *testing.T) {
	locker, _ := newDBLocker(t)
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "", time.Minute, "a")
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, err = locker.Acquire(ctx, KeyAutoSync, time.Minute, " ")
	assert.ErrorIs(t, err, ErrEmptyOwner)
	_, err = locker.Acquire(ctx, KeyAutoSync, 0, "a")
	assert.ErrorIs(t, err, ErrInvalidTTL)
}
