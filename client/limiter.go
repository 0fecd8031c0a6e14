package client

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/zmyer/tera/errors"
)

// pendingLimiter bounds the in-flight row slots of one direction (mutations
// or readers). Sync and blocking-async callers wait; non-blocking callers get
// Busy back immediately.
type pendingLimiter struct {
	limit int64
	cur   int64

	cond *sync.Cond
	lock sync.Mutex
}

func newPendingLimiter(limit int) *pendingLimiter {
	l := &pendingLimiter{limit: int64(limit)}
	l.cond = sync.NewCond(&l.lock)
	return l
}

// Acquire takes n slots. When the limit is exceeded it blocks if block is
// set, otherwise releases what it took and fails with Busy.
func (l *pendingLimiter) Acquire(n int, block bool) *errors.Error {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.cur += int64(n)
	if l.cur <= l.limit {
		return nil
	}
	if !block {
		l.cur -= int64(n)
		return errors.New(errors.Busy, "pending too much, try it later")
	}
	for l.cur > l.limit {
		l.cond.Wait()
	}
	return nil
}

// Release frees n slots and wakes blocked acquirers.
func (l *pendingLimiter) Release(n int) {
	l.lock.Lock()
	l.cur -= int64(n)
	l.lock.Unlock()
	l.cond.Broadcast()
}

// Pending returns the current slot usage.
func (l *pendingLimiter) Pending() int64 {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.cur
}

// writeThrottle optionally paces outgoing mutation bytes.
type writeThrottle struct {
	limiter *rate.Limiter
}

func newWriteThrottle(mbps int) *writeThrottle {
	if mbps <= 0 {
		return &writeThrottle{}
	}
	bytesPerSec := mbps << 20
	return &writeThrottle{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)}
}

func (t *writeThrottle) WaitN(ctx context.Context, n int) error {
	if t.limiter == nil {
		return nil
	}
	if n > t.limiter.Burst() {
		n = t.limiter.Burst()
	}
	return t.limiter.WaitN(ctx, n)
}
