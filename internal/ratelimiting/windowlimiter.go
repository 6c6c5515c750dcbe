package ratelimiting

import (
	"context"
	"slices"
	"sync"
	"time"
)

// RequestLimiter runs operations while respecting some external limit.
// Limit returns false without running the operation if it could not be started before the
// context expires.
type RequestLimiter interface {
	Limit(ctx context.Context, maxOperationTime time.Duration, operation func()) bool
}

// WindowLimiter allows at most `limit` operations to start within any `window`, counted from the
// time the previous operations finished.
type WindowLimiter struct {
	window    time.Duration
	nowFunc   func() time.Time
	afterFunc func(time.Duration) <-chan time.Time

	running chan struct{}

	lock sync.Mutex
	// Sorted ascending. Always holds `limit` entries minus the ones reserved by running operations.
	finishedAt []time.Time
}

func NewWindowLimiter(
	limit int,
	window time.Duration,
	nowFunc func() time.Time,
	afterFunc func(time.Duration) <-chan time.Time,
) *WindowLimiter {
	longAgo := nowFunc().Add(-window)
	finishedAt := make([]time.Time, limit)
	for i := range finishedAt {
		finishedAt[i] = longAgo
	}

	return &WindowLimiter{
		window:    window,
		nowFunc:   nowFunc,
		afterFunc: afterFunc,

		running: make(chan struct{}, limit),

		finishedAt: finishedAt,
	}
}

func (l *WindowLimiter) Limit(ctx context.Context, maxOperationTime time.Duration, operation func()) bool {
	select {
	case l.running <- struct{}{}:
		defer func() { <-l.running }()
	case <-ctx.Done():
		return false
	}

	slot, wait, ok := l.reserve(ctx, maxOperationTime)
	if !ok {
		return false
	}
	// Give the slot back unchanged unless the operation runs
	defer func() { l.release(slot) }()

	if wait > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-l.afterFunc(wait):
		}
	}

	operation()

	slot = l.nowFunc()
	return true
}

// reserve takes the oldest slot if the operation can complete before the context deadline
func (l *WindowLimiter) reserve(ctx context.Context, maxOperationTime time.Duration) (time.Time, time.Duration, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()

	oldest := l.finishedAt[0]
	now := l.nowFunc()
	wait := l.window - now.Sub(oldest)

	if deadline, ok := ctx.Deadline(); ok {
		if max(wait, 0)+maxOperationTime > deadline.Sub(now) {
			return time.Time{}, 0, false
		}
	}

	l.finishedAt = l.finishedAt[1:]
	return oldest, wait, true
}

func (l *WindowLimiter) release(finishedAt time.Time) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.finishedAt = insertSorted(l.finishedAt, finishedAt)
}

func insertSorted(arr []time.Time, t time.Time) []time.Time {
	i, _ := slices.BinarySearchFunc(arr, t, time.Time.Compare)
	return slices.Insert(arr, i, t)
}
