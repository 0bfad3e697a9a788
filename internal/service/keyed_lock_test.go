package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmissionLockSecondAcquireTimesOut(t *testing.T) {
	locks := NewSubmissionLocks()

	release, err := locks.acquire(context.Background(), 1, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = locks.acquire(context.Background(), 1, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrGradingInProgress)

	release()

	release2, err := locks.acquire(context.Background(), 1, 20*time.Millisecond)
	require.NoError(t, err)
	release2()
}

func TestSubmissionLockDistinctIDsDoNotContend(t *testing.T) {
	locks := NewSubmissionLocks()

	release1, err := locks.acquire(context.Background(), 1, 10*time.Millisecond)
	require.NoError(t, err)
	defer release1()

	release2, err := locks.acquire(context.Background(), 2, 10*time.Millisecond)
	require.NoError(t, err)
	defer release2()
}

func TestSubmissionLockWaiterProceedsAfterRelease(t *testing.T) {
	locks := NewSubmissionLocks()

	release, err := locks.acquire(context.Background(), 7, time.Second)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := locks.acquire(context.Background(), 7, time.Second)
		if err == nil {
			r()
			close(acquired)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

func TestSubmissionLockHonorsContextCancellation(t *testing.T) {
	locks := NewSubmissionLocks()

	release, err := locks.acquire(context.Background(), 9, time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = locks.acquire(ctx, 9, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}
