package service

import (
	"context"
	"sync"
	"time"
)

// SubmissionLocks serializes concurrent grading of the same submission id
// across the automated and manual grading paths.
// Each id gets a one-slot channel acting as a mutex; acquisition waits a
// bounded time before giving up so a stuck pass cannot queue callers
// indefinitely.
type SubmissionLocks struct {
	mu    sync.Mutex
	locks map[uint]*submissionLock
}

type submissionLock struct {
	slot chan struct{}
	refs int
}

func NewSubmissionLocks() *SubmissionLocks {
	return &SubmissionLocks{locks: make(map[uint]*submissionLock)}
}

// acquire blocks until the lock for id is held, the wait elapses, or ctx is
// cancelled. The returned release function must be called exactly once.
func (l *SubmissionLocks) acquire(ctx context.Context, id uint, wait time.Duration) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &submissionLock{slot: make(chan struct{}, 1)}
		l.locks[id] = lock
	}
	lock.refs++
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case lock.slot <- struct{}{}:
		return func() {
			<-lock.slot
			l.put(id, lock)
		}, nil
	case <-timer.C:
		l.put(id, lock)
		return nil, ErrGradingInProgress
	case <-ctx.Done():
		l.put(id, lock)
		return nil, ctx.Err()
	}
}

func (l *SubmissionLocks) put(id uint, lock *submissionLock) {
	l.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, id)
	}
	l.mu.Unlock()
}
