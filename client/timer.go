package client

import (
	"sync"
	"time"
)

// delayTimer schedules one-shot delayed callbacks. A handle is just an id in
// the live set; cancellation removes the id atomically, and a callback that
// fires after cancel observes the missing id and returns without effect.
type delayTimer struct {
	nextID int64

	live map[int64]*time.Timer
	lock sync.Mutex

	closed bool
}

func newDelayTimer() *delayTimer {
	return &delayTimer{live: make(map[int64]*time.Timer)}
}

// Schedule runs fn after d and returns the handle id.
func (t *delayTimer) Schedule(d time.Duration, fn func()) int64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed {
		return 0
	}

	t.nextID++
	id := t.nextID
	t.live[id] = time.AfterFunc(d, func() {
		t.lock.Lock()
		_, ok := t.live[id]
		if ok {
			delete(t.live, id)
		}
		t.lock.Unlock()
		if !ok {
			return
		}
		fn()
	})
	return id
}

// Cancel removes the handle without blocking. It returns false with
// isRunning=true when the callback already started; the caller's callback
// must then tolerate finding its work gone.
func (t *delayTimer) Cancel(id int64) (cancelled, isRunning bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	timer, ok := t.live[id]
	if !ok {
		return false, true
	}
	delete(t.live, id)
	timer.Stop()
	return true, false
}

func (t *delayTimer) scheduleFunc() func(d time.Duration, fn func()) {
	return func(d time.Duration, fn func()) { t.Schedule(d, fn) }
}

// Close cancels every outstanding handle.
func (t *delayTimer) Close() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.closed = true
	for id, timer := range t.live {
		timer.Stop()
		delete(t.live, id)
	}
}
