package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/taskpool"

	"github.com/zmyer/tera/common/nodecli"
	"github.com/zmyer/tera/errors"
	"github.com/zmyer/tera/proto"
	"github.com/zmyer/tera/registry"
)

// Table routes reads, writes and scans of one table through the meta cache
// and the per-server batch engine.
type Table struct {
	name       string
	createTime int64
	cfg        *Config

	cache   *metaCache
	scanner *metaScanner
	pool    *taskPool
	timer   *delayTimer
	workers taskpool.TaskPool
	conns   nodecli.Conns
	reg     registry.Adapter
	cookies *cookieStore

	mutBatch  *batcher
	readBatch *batcher

	mutPending  *pendingLimiter
	readPending *pendingLimiter
	throttle    *writeThrottle

	seq    uint64
	closed int32
}

func openTable(name string, createTime int64, cfg *Config, conns nodecli.Conns, reg registry.Adapter) *Table {
	t := &Table{
		name:        name,
		createTime:  createTime,
		cfg:         cfg,
		conns:       conns,
		reg:         reg,
		timer:       newDelayTimer(),
		workers:     taskpool.New(cfg.ThreadPoolMax, cfg.ThreadPoolMax),
		mutPending:  newPendingLimiter(cfg.MaxMutationPendingNum),
		readPending: newPendingLimiter(cfg.MaxReaderPendingNum),
		throttle:    newWriteThrottle(cfg.WriteMBPS),
	}
	t.pool = newTaskPool(t.timer)
	t.cache = newMetaCache(cfg)
	t.cache.delayTask = t.timer.scheduleFunc()
	t.cache.taskAlive = t.pool.Alive
	t.cache.wake = t.onMetaWake
	t.scanner = newMetaScanner(t)
	t.cache.triggerScan = t.scanner.Kick

	t.mutBatch = newBatcher(t, taskMutation, time.Duration(cfg.WriteSendIntervalMs)*time.Millisecond)
	t.readBatch = newBatcher(t, taskReader, time.Duration(cfg.ReadSendIntervalMs)*time.Millisecond)

	if cfg.CookieEnabled {
		t.cookies = newCookieStore(cfg, name, createTime)
		t.cookies.Restore(t.cache)
		t.armCookieDump()
	}
	return t
}

func (t *Table) Name() string { return t.name }

// Close cancels all delayed work; pending rpc responses are discarded.
func (t *Table) Close() {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return
	}
	if t.cookies != nil {
		t.cookies.Dump(t.cache)
	}
	t.timer.Close()
	t.workers.Close()
}

func (t *Table) nextSeq() proto.SequenceID {
	return atomic.AddUint64(&t.seq, 1)
}

func (t *Table) armCookieDump() {
	t.timer.Schedule(time.Duration(t.cfg.CookieUpdateIntervalS)*time.Second, func() {
		t.cookies.Dump(t.cache)
		t.armCookieDump()
	})
}

// Put writes one cell synchronously.
func (t *Table) Put(row, family, qualifier string, value []byte) *errors.Error {
	mu := NewRowMutation(row)
	mu.Put(family, qualifier, value)
	t.ApplyMutation(mu)
	return mu.Err()
}

// Add bumps a counter cell synchronously.
func (t *Table) Add(row, family, qualifier string, delta int64) *errors.Error {
	mu := NewRowMutation(row)
	mu.Add(family, qualifier, delta)
	t.ApplyMutation(mu)
	return mu.Err()
}

// ApplyMutation commits one row mutation; it blocks unless a callback is set.
func (t *Table) ApplyMutation(mu *RowMutation) {
	t.ApplyMutations([]*RowMutation{mu})
}

// ApplyMutations commits a batch of row mutations in one distribution pass.
func (t *Table) ApplyMutations(mus []*RowMutation) {
	tasks := make([]*sdkTask, 0, len(mus))
	for _, mu := range mus {
		tasks = append(tasks, &sdkTask{
			id:       t.pool.newID(),
			typ:      taskMutation,
			row:      mu.row,
			mutation: mu,
		})
	}
	t.distributeMutations(tasks, true)
}

// Get reads one cell synchronously.
func (t *Table) Get(row, family, qualifier string) ([]byte, *errors.Error) {
	reader := NewRowReader(row)
	if family != "" {
		reader.AddColumn(family, qualifier)
	}
	t.ApplyReader(reader)
	if err := reader.Err(); err != nil {
		return nil, err
	}
	return reader.Value(), nil
}

// ApplyReader issues one row read; it blocks unless a callback is set.
func (t *Table) ApplyReader(reader *RowReader) {
	t.ApplyReaders([]*RowReader{reader})
}

// ApplyReaders issues a batch of row reads in one distribution pass.
func (t *Table) ApplyReaders(readers []*RowReader) {
	tasks := make([]*sdkTask, 0, len(readers))
	for _, r := range readers {
		tasks = append(tasks, &sdkTask{
			id:     t.pool.newID(),
			typ:    taskReader,
			row:    r.row,
			reader: r,
		})
	}
	t.distributeReaders(tasks, true)
}

// taskTimeout picks a task's deadline; sync peers of one pass share the
// minimum of their timeouts.
func (t *Table) taskTimeout(explicitMs, syncMinMs int64, async bool) time.Duration {
	ms := explicitMs
	if !async && syncMinMs > 0 {
		ms = syncMinMs
	}
	if ms <= 0 {
		ms = int64(t.cfg.TimeoutMs)
	}
	return time.Duration(ms) * time.Millisecond
}

func syncMinTimeoutMs(defaultMs int64, timeouts []int64) int64 {
	min := int64(0)
	for _, ms := range timeouts {
		if ms <= 0 {
			ms = defaultMs
		}
		if ms > 0 && (min <= 0 || ms < min) {
			min = ms
		}
	}
	return min
}

func (t *Table) distributeMutations(tasks []*sdkTask, calledByUser bool) {
	var syncMin int64
	var syncList []*RowMutation
	if calledByUser {
		var timeouts []int64
		for _, task := range tasks {
			if !task.mutation.IsAsync() {
				timeouts = append(timeouts, task.mutation.timeoutMs)
				syncList = append(syncList, task.mutation)
			}
		}
		syncMin = syncMinTimeoutMs(int64(t.cfg.TimeoutMs), timeouts)
	}

	buckets := make(map[string][]int64)
	flushSet := make(map[string]bool)
	for _, task := range tasks {
		mu := task.mutation
		if calledByUser {
			t.pool.Put(task, t.taskTimeout(mu.timeoutMs, syncMin, mu.IsAsync()), t.mutationTimeout)

			block := !mu.IsAsync() || t.cfg.AsyncBlockingEnabled
			if err := t.mutPending.Acquire(mu.MutationNum(), block); err != nil {
				t.breakMutation(task.id, err)
				continue
			}
		}

		addr, metaTs, ok := t.cache.Route(task.row, task.id, task.getInternalErr(), task.getMetaTime())
		if !ok {
			continue
		}
		task.setMetaTime(metaTs)
		buckets[addr] = append(buckets[addr], task.id)
		if !mu.IsAsync() {
			flushSet[addr] = true
		}
	}

	for addr, ids := range buckets {
		t.mutBatch.pack(addr, ids, flushSet[addr])
	}

	if !calledByUser {
		return
	}
	for _, mu := range syncList {
		mu.wait()
	}
}

func (t *Table) distributeMutationsByID(ids []int64) {
	tasks := make([]*sdkTask, 0, len(ids))
	for _, id := range ids {
		task := t.pool.Get(id)
		if task == nil {
			continue
		}
		tasks = append(tasks, task)
	}
	t.distributeMutations(tasks, false)
	for _, task := range tasks {
		task.decRef()
	}
}

// breakMutation fails a task before it ever reaches a server.
func (t *Table) breakMutation(id int64, err *errors.Error) {
	task := t.pool.Pop(id)
	if task == nil {
		return
	}
	mu := task.mutation
	mu.setError(err)
	t.finishMutation(task)
}

// finishMutation publishes counters and runs the callback exactly once. The
// caller must own the popped task.
func (t *Table) finishMutation(task *sdkTask) {
	mu := task.mutation
	atomic.StoreInt32(&mu.commitTimes, atomic.LoadInt32(&task.commitTimes))
	atomic.StoreInt32(&mu.retryTimes, atomic.LoadInt32(&task.retryTimes))
	mu.complete()
}

func (t *Table) mutationTimeout(task *sdkTask) {
	mutateTimeoutCount.WithLabelValues(t.name).Inc()
	mu := task.mutation

	if err := task.getInternalErr(); err == proto.StatusKeyNotInRange || err == proto.StatusConnectError {
		t.cache.ScheduleUpdate(task.row, task.getMetaTime())
	}
	if task.getRetry() == 0 {
		mu.setError(errors.New(errors.Timeout,
			"commit %d times, retry 0 times, in %d ms",
			atomic.LoadInt32(&task.commitTimes), t.cfg.TimeoutMs))
	} else {
		mu.setError(errors.New(errors.System,
			"commit %d times, retry %d times, in %d ms, last error: %s",
			atomic.LoadInt32(&task.commitTimes), task.getRetry(),
			t.cfg.TimeoutMs, task.getInternalErr()))
	}
	t.mutPending.Release(mu.MutationNum())
	t.finishMutation(task)
}

func (t *Table) distributeReaders(tasks []*sdkTask, calledByUser bool) {
	var syncMin int64
	var syncList []*RowReader
	if calledByUser {
		var timeouts []int64
		for _, task := range tasks {
			if !task.reader.IsAsync() {
				timeouts = append(timeouts, task.reader.timeoutMs)
				syncList = append(syncList, task.reader)
			}
		}
		syncMin = syncMinTimeoutMs(int64(t.cfg.TimeoutMs), timeouts)
	}

	buckets := make(map[string][]int64)
	flushSet := make(map[string]bool)
	for _, task := range tasks {
		reader := task.reader
		if calledByUser {
			t.pool.Put(task, t.taskTimeout(reader.timeoutMs, syncMin, reader.IsAsync()), t.readerTimeout)

			block := !reader.IsAsync() || t.cfg.AsyncBlockingEnabled
			if err := t.readPending.Acquire(1, block); err != nil {
				t.breakReader(task.id, err)
				continue
			}
		}

		addr, metaTs, ok := t.cache.Route(task.row, task.id, task.getInternalErr(), task.getMetaTime())
		if !ok {
			continue
		}
		task.setMetaTime(metaTs)
		buckets[addr] = append(buckets[addr], task.id)
		if !reader.IsAsync() {
			flushSet[addr] = true
		}
	}

	for addr, ids := range buckets {
		t.readBatch.pack(addr, ids, flushSet[addr])
	}

	if !calledByUser {
		return
	}
	for _, reader := range syncList {
		reader.wait()
	}
}

func (t *Table) distributeReadersByID(ids []int64) {
	tasks := make([]*sdkTask, 0, len(ids))
	for _, id := range ids {
		task := t.pool.Get(id)
		if task == nil {
			continue
		}
		tasks = append(tasks, task)
	}
	t.distributeReaders(tasks, false)
	for _, task := range tasks {
		task.decRef()
	}
}

func (t *Table) breakReader(id int64, err *errors.Error) {
	task := t.pool.Pop(id)
	if task == nil {
		return
	}
	task.reader.setError(err)
	t.finishReader(task)
}

func (t *Table) finishReader(task *sdkTask) {
	reader := task.reader
	atomic.StoreInt32(&reader.commitTimes, atomic.LoadInt32(&task.commitTimes))
	atomic.StoreInt32(&reader.retryTimes, atomic.LoadInt32(&task.retryTimes))
	reader.complete()
}

func (t *Table) readerTimeout(task *sdkTask) {
	readTimeoutCount.WithLabelValues(t.name).Inc()
	reader := task.reader

	if err := task.getInternalErr(); err == proto.StatusKeyNotInRange || err == proto.StatusConnectError {
		t.cache.ScheduleUpdate(task.row, task.getMetaTime())
	}
	if task.getRetry() == 0 {
		reader.setError(errors.New(errors.Timeout,
			"commit %d times, retry 0 times, in %d ms",
			atomic.LoadInt32(&task.commitTimes), t.cfg.TimeoutMs))
	} else {
		reader.setError(errors.New(errors.System,
			"commit %d times, retry %d times, in %d ms, last error: %s",
			atomic.LoadInt32(&task.commitTimes), task.getRetry(),
			t.cfg.TimeoutMs, task.getInternalErr()))
	}
	t.readPending.Release(1)
	t.finishReader(task)
}

// onMetaWake resumes tasks parked on a range that just became Normal.
func (t *Table) onMetaWake(addr string, metaTimeMs int64, ids []int64) {
	var muIDs, readIDs []int64
	var scans []*scanSession
	for _, id := range ids {
		task := t.pool.Get(id)
		if task == nil {
			continue
		}
		task.setMetaTime(metaTimeMs)
		switch task.typ {
		case taskMutation:
			muIDs = append(muIDs, id)
		case taskReader:
			readIDs = append(readIDs, id)
		case taskScan:
			scans = append(scans, task.scan)
		}
		task.decRef()
	}

	if len(muIDs) > 0 {
		t.workers.Run(func() { t.mutBatch.pack(addr, muIDs, false) })
	}
	if len(readIDs) > 0 {
		t.workers.Run(func() { t.readBatch.pack(addr, readIDs, false) })
	}
	for _, s := range scans {
		scan := s
		t.workers.Run(func() { scan.commit(addr) })
	}
}

// retryBackoff spaces the n-th transport retry.
func (t *Table) retryBackoff(attempt int32) time.Duration {
	d := time.Duration(t.cfg.RetryPeriodMs) * time.Millisecond
	for i := int32(1); i < attempt && d < 10*time.Second; i++ {
		d *= 2
	}
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

func (t *Table) rpcContext() (context.Context, context.CancelFunc) {
	_, ctx := trace.StartSpanFromContext(context.Background(), "")
	return context.WithTimeout(ctx, t.cfg.timeout())
}
