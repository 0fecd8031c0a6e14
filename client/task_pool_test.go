package client

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskPoolPopIsExclusive(t *testing.T) {
	timer := newDelayTimer()
	defer timer.Close()
	pool := newTaskPool(timer)

	task := &sdkTask{id: pool.newID(), typ: taskMutation, row: "r", mutation: NewRowMutation("r")}
	pool.Put(task, 0, nil)

	got := pool.Pop(task.id)
	require.Same(t, task, got)
	require.Nil(t, pool.Pop(task.id))
	require.Nil(t, pool.Get(task.id))
}

func TestTaskPoolTimeoutRunsOnce(t *testing.T) {
	timer := newDelayTimer()
	defer timer.Close()
	pool := newTaskPool(timer)

	var fired int32
	task := &sdkTask{id: pool.newID(), typ: taskMutation, row: "r", mutation: NewRowMutation("r")}
	pool.Put(task, 10*time.Millisecond, func(*sdkTask) {
		atomic.AddInt32(&fired, 1)
	})

	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&fired))
	// the timeout path already removed the task
	require.Nil(t, pool.Pop(task.id))
}

func TestTaskPoolTimeoutVersusPopRace(t *testing.T) {
	timer := newDelayTimer()
	defer timer.Close()
	pool := newTaskPool(timer)

	// whoever pops the task owns the single completion
	for i := 0; i < 100; i++ {
		var completions int32
		task := &sdkTask{id: pool.newID(), typ: taskMutation, row: "r", mutation: NewRowMutation("r")}
		pool.Put(task, time.Millisecond, func(*sdkTask) {
			atomic.AddInt32(&completions, 1)
		})

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			if popped := pool.Pop(task.id); popped != nil {
				atomic.AddInt32(&completions, 1)
			}
		}()
		wg.Wait()
		time.Sleep(5 * time.Millisecond)
		require.EqualValues(t, 1, atomic.LoadInt32(&completions), "round %d", i)
	}
}

func TestTaskPoolGetBorrowsReference(t *testing.T) {
	timer := newDelayTimer()
	defer timer.Close()
	pool := newTaskPool(timer)

	task := &sdkTask{id: pool.newID(), typ: taskReader, row: "r", reader: NewRowReader("r")}
	pool.Put(task, 0, nil)

	borrowed := pool.Get(task.id)
	require.Same(t, task, borrowed)
	require.EqualValues(t, 1, task.getRef())

	done := make(chan *sdkTask)
	go func() { done <- pool.Pop(task.id) }()

	// Pop waits for the borrow to return
	select {
	case <-done:
		t.Fatal("pop finished while a borrow was held")
	case <-time.After(20 * time.Millisecond):
	}
	borrowed.decRef()
	select {
	case popped := <-done:
		require.Same(t, task, popped)
	case <-time.After(time.Second):
		t.Fatal("pop did not finish after the borrow returned")
	}
}

func TestDelayTimerCancel(t *testing.T) {
	timer := newDelayTimer()
	defer timer.Close()

	var fired int32
	id := timer.Schedule(20*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	cancelled, running := timer.Cancel(id)
	require.True(t, cancelled)
	require.False(t, running)

	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&fired))

	// cancelling an already-fired handle reports it ran
	id = timer.Schedule(time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	time.Sleep(30 * time.Millisecond)
	cancelled, running = timer.Cancel(id)
	require.False(t, cancelled)
	require.True(t, running)
	require.EqualValues(t, 1, atomic.LoadInt32(&fired))
}
