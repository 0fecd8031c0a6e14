package client

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zmyer/tera/proto"
)

type taskType int

const (
	taskMutation taskType = iota + 1
	taskReader
	taskScan
)

// sdkTask is one in-flight user request tracked by the task pool. The pool's
// refcount arbitrates between the timeout path and normal completion so the
// user callback runs at most once.
type sdkTask struct {
	id  int64
	typ taskType
	row string

	mutation *RowMutation
	reader   *RowReader
	scan     *scanSession

	ref         int32
	retryTimes  int32
	commitTimes int32

	internalErr proto.StatusCode
	metaTimeMs  int64

	timerID int64
}

func (t *sdkTask) incRef()       { atomic.AddInt32(&t.ref, 1) }
func (t *sdkTask) decRef() int32 { return atomic.AddInt32(&t.ref, -1) }
func (t *sdkTask) getRef() int32 { return atomic.LoadInt32(&t.ref) }

func (t *sdkTask) setInternalErr(code proto.StatusCode) {
	atomic.StoreInt32((*int32)(&t.internalErr), int32(code))
}

func (t *sdkTask) getInternalErr() proto.StatusCode {
	return proto.StatusCode(atomic.LoadInt32((*int32)(&t.internalErr)))
}

func (t *sdkTask) setMetaTime(ms int64) { atomic.StoreInt64(&t.metaTimeMs, ms) }
func (t *sdkTask) getMetaTime() int64   { return atomic.LoadInt64(&t.metaTimeMs) }

func (t *sdkTask) incRetry() int32 { return atomic.AddInt32(&t.retryTimes, 1) }
func (t *sdkTask) getRetry() int32 { return atomic.LoadInt32(&t.retryTimes) }

func (t *sdkTask) incCommit() { atomic.AddInt32(&t.commitTimes, 1) }

// byteSize estimates the task's wire size for batch accounting.
func (t *sdkTask) byteSize() int {
	switch t.typ {
	case taskMutation:
		return t.mutation.size()
	case taskReader:
		return t.reader.size()
	default:
		return len(t.row)
	}
}

// taskPool maps monotonically assigned ids to in-flight tasks and owns the
// per-task deadline timers.
type taskPool struct {
	nextID int64

	tasks map[int64]*sdkTask
	timer *delayTimer
	lock  sync.Mutex
}

func newTaskPool(timer *delayTimer) *taskPool {
	return &taskPool{
		tasks: make(map[int64]*sdkTask),
		timer: timer,
	}
}

func (p *taskPool) newID() int64 {
	return atomic.AddInt64(&p.nextID, 1)
}

// Put registers the task and arms its deadline. onTimeout runs at most once,
// and only if no completion path popped the task first.
func (p *taskPool) Put(task *sdkTask, timeout time.Duration, onTimeout func(*sdkTask)) {
	p.lock.Lock()
	p.tasks[task.id] = task
	p.lock.Unlock()

	if timeout > 0 {
		task.timerID = p.timer.Schedule(timeout, func() {
			expired, ok := p.popLocked(task.id)
			if !ok {
				return
			}
			// Wait out racing borrowers so the timeout callback is the sole
			// owner when it fires.
			for expired.getRef() > 0 {
				time.Sleep(time.Millisecond)
			}
			onTimeout(expired)
		})
	}
}

// Get returns the task with a borrowed reference, or nil if it finished or
// timed out already.
func (p *taskPool) Get(id int64) *sdkTask {
	p.lock.Lock()
	defer p.lock.Unlock()
	task, ok := p.tasks[id]
	if !ok {
		return nil
	}
	task.incRef()
	return task
}

// Pop removes the task, cancels its deadline and returns it as sole owner;
// nil means the timeout path won the race.
func (p *taskPool) Pop(id int64) *sdkTask {
	task, ok := p.popLocked(id)
	if !ok {
		return nil
	}
	if task.timerID != 0 {
		p.timer.Cancel(task.timerID)
	}
	for task.getRef() > 0 {
		time.Sleep(time.Millisecond)
	}
	return task
}

func (p *taskPool) popLocked(id int64) (*sdkTask, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	task, ok := p.tasks[id]
	if ok {
		delete(p.tasks, id)
	}
	return task, ok
}

// Alive reports whether the task is still tracked.
func (p *taskPool) Alive(id int64) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	_, ok := p.tasks[id]
	return ok
}

// Size returns the number of in-flight tasks.
func (p *taskPool) Size() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.tasks)
}
