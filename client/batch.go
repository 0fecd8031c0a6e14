package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zmyer/tera/common/nodecli"
	"github.com/zmyer/tera/errors"
	"github.com/zmyer/tera/proto"
)

// taskBatch is one open per-server bucket awaiting a flush trigger.
type taskBatch struct {
	seq      uint64
	ids      []int64
	byteSize int
	timerID  int64
}

// batcher keeps the per-target-server buckets of one direction. Flush fires
// on byte size, on the last task of a distribution pass (sync peer or row
// count), or on the batch timer.
type batcher struct {
	table    *Table
	typ      taskType
	interval time.Duration

	batches map[string]*taskBatch
	seqGen  uint64
	lock    sync.Mutex
}

func newBatcher(t *Table, typ taskType, interval time.Duration) *batcher {
	return &batcher{
		table:    t,
		typ:      typ,
		interval: interval,
		batches:  make(map[string]*taskBatch),
	}
}

// pack buckets ids into addr's batch, committing whenever a trigger fires.
func (b *batcher) pack(addr string, ids []int64, flush bool) {
	t := b.table
	b.lock.Lock()
	defer b.lock.Unlock()

	var batch *taskBatch
	for i, id := range ids {
		task := t.pool.Get(id)
		if task == nil {
			continue
		}
		if batch == nil {
			var ok bool
			if batch, ok = b.batches[addr]; !ok {
				batch = &taskBatch{seq: atomic.AddUint64(&b.seqGen, 1)}
				batch.timerID = t.timer.Schedule(b.interval, b.timeoutFunc(addr, batch.seq))
				b.batches[addr] = batch
			}
		}
		batch.ids = append(batch.ids, id)
		batch.byteSize += task.byteSize()
		task.decRef()

		overSized := b.typ == taskMutation && batch.byteSize >= t.cfg.MaxRPCBytes
		last := i == len(ids)-1
		if overSized || (last && (flush || len(batch.ids) >= t.cfg.BatchSize)) {
			commitIDs := batch.ids
			// Non-blocking cancel: a timer already running will observe the
			// emptied bucket and return without effect.
			t.timer.Cancel(batch.timerID)
			delete(b.batches, addr)
			b.lock.Unlock()
			b.commitByID(addr, commitIDs)
			b.lock.Lock()
			batch = nil
		}
	}
}

func (b *batcher) timeoutFunc(addr string, seq uint64) func() {
	return func() {
		b.lock.Lock()
		batch, ok := b.batches[addr]
		if !ok || batch.seq != seq {
			b.lock.Unlock()
			return
		}
		ids := batch.ids
		delete(b.batches, addr)
		b.lock.Unlock()
		b.commitByID(addr, ids)
	}
}

func (b *batcher) commitByID(addr string, ids []int64) {
	if b.typ == taskMutation {
		b.table.commitMutations(addr, ids)
	} else {
		b.table.commitReaders(addr, ids)
	}
}

func (t *Table) commitMutations(addr string, ids []int64) {
	req := &proto.WriteTabletRequest{
		SequenceID:  t.nextSeq(),
		TabletName:  t.name,
		IsSync:      t.cfg.WriteSync,
		TimestampUs: time.Now().UnixMicro(),
	}
	liveIDs := make([]int64, 0, len(ids))
	for _, id := range ids {
		task := t.pool.Get(id)
		if task == nil {
			continue
		}
		req.RowList = append(req.RowList, task.mutation.wireRow())
		task.incCommit()
		task.decRef()
		liveIDs = append(liveIDs, id)
	}
	if len(liveIDs) == 0 {
		return
	}
	mutateCommitCount.WithLabelValues(t.name).Inc()

	t.workers.Run(func() {
		ctx, cancel := t.rpcContext()
		defer cancel()

		var resp *proto.WriteTabletResponse
		client, err := t.conns.GetClient(addr)
		if err == nil {
			if werr := t.throttle.WaitN(ctx, reqByteSize(req)); werr != nil {
				err = werr
			} else {
				resp, err = client.WriteTablet(ctx, req)
			}
		}
		t.mutateCallback(addr, liveIDs, req, resp, err)
	})
}

func reqByteSize(req *proto.WriteTabletRequest) int {
	size := 0
	for i := range req.RowList {
		size += len(req.RowList[i].RowKey)
		for j := range req.RowList[i].Mutations {
			size += len(req.RowList[i].Mutations[j].Value) + 16
		}
	}
	return size
}

func (t *Table) mutateCallback(addr string, ids []int64, req *proto.WriteTabletRequest,
	resp *proto.WriteTabletResponse, rpcErr error,
) {
	span := trace.SpanFromContextSafe(context.Background())

	overall := proto.StatusTabletNodeOk
	if rpcErr != nil {
		overall = nodecli.RPCStatus(rpcErr)
	} else if resp.Status != proto.StatusTabletNodeOk && resp.Status != proto.StatusOk {
		overall = resp.Status
	}

	var notInRange []int64
	retryGroups := make(map[int32][]int64)
	for i, id := range ids {
		rowStatus := overall
		if overall == proto.StatusTabletNodeOk && resp != nil && i < len(resp.RowStatusList) {
			rowStatus = resp.RowStatusList[i]
		}

		switch {
		case rowStatus == proto.StatusTabletNodeOk || rowStatus == proto.StatusOk || rowStatus == proto.StatusTxnFail:
			task := t.pool.Pop(id)
			if task == nil {
				continue
			}
			if rowStatus == proto.StatusTxnFail {
				task.mutation.setError(errors.FromStatus(rowStatus))
			} else {
				task.mutation.setError(nil)
			}
			t.mutPending.Release(task.mutation.MutationNum())
			t.finishMutation(task)

		case rowStatus == proto.StatusKeyNotInRange:
			task := t.pool.Get(id)
			if task == nil {
				continue
			}
			task.setInternalErr(rowStatus)
			task.incRetry()
			mutateRetryCount.WithLabelValues(t.name).Inc()
			notInRange = append(notInRange, id)
			task.decRef()

		case rowStatus.Retryable():
			task := t.pool.Get(id)
			if task == nil {
				continue
			}
			task.setInternalErr(rowStatus)
			attempt := task.incRetry()
			mutateRetryCount.WithLabelValues(t.name).Inc()
			task.decRef()
			if int(attempt) > t.cfg.RetryTimes {
				t.failMutation(id, rowStatus)
				continue
			}
			retryGroups[attempt] = append(retryGroups[attempt], id)

		default:
			span.Warnf("mutate table %s row fail on %s: %s", t.name, addr, rowStatus)
			task := t.pool.Pop(id)
			if task == nil {
				continue
			}
			task.mutation.setError(errors.FromStatus(rowStatus))
			t.mutPending.Release(task.mutation.MutationNum())
			t.finishMutation(task)
		}
	}

	if len(notInRange) > 0 {
		t.distributeMutationsByID(notInRange)
	}
	for attempt, group := range retryGroups {
		ids := group
		t.timer.Schedule(t.retryBackoff(attempt), func() {
			t.workers.Run(func() { t.distributeMutationsByID(ids) })
		})
	}
}

// failMutation ends a task that exhausted the retry envelope.
func (t *Table) failMutation(id int64, last proto.StatusCode) {
	task := t.pool.Pop(id)
	if task == nil {
		return
	}
	task.mutation.setError(errors.New(errors.System, "retry %d times, last error: %s",
		task.getRetry(), last))
	t.mutPending.Release(task.mutation.MutationNum())
	t.finishMutation(task)
}

func (t *Table) commitReaders(addr string, ids []int64) {
	req := &proto.ReadTabletRequest{
		SequenceID: t.nextSeq(),
		TabletName: t.name,
	}
	liveIDs := make([]int64, 0, len(ids))
	var minTimeout int64
	for _, id := range ids {
		task := t.pool.Get(id)
		if task == nil {
			continue
		}
		reader := task.reader
		req.RowInfoList = append(req.RowInfoList, reader.wireRow())
		if reader.snapshotID != 0 {
			req.SnapshotID = reader.snapshotID
		}
		ms := reader.timeoutMs
		if ms <= 0 {
			ms = int64(t.cfg.TimeoutMs)
		}
		if minTimeout == 0 || ms < minTimeout {
			minTimeout = ms
		}
		task.incCommit()
		task.decRef()
		liveIDs = append(liveIDs, id)
	}
	if len(liveIDs) == 0 {
		return
	}
	req.ClientTimeoutMs = minTimeout
	readCommitCount.WithLabelValues(t.name).Inc()

	t.workers.Run(func() {
		ctx, cancel := t.rpcContext()
		defer cancel()

		var resp *proto.ReadTabletResponse
		client, err := t.conns.GetClient(addr)
		if err == nil {
			resp, err = client.ReadTablet(ctx, req)
		}
		t.readerCallback(addr, liveIDs, req, resp, err)
	})
}

func (t *Table) readerCallback(addr string, ids []int64, req *proto.ReadTabletRequest,
	resp *proto.ReadTabletResponse, rpcErr error,
) {
	span := trace.SpanFromContextSafe(context.Background())

	overall := proto.StatusTabletNodeOk
	if rpcErr != nil {
		overall = nodecli.RPCStatus(rpcErr)
	} else if resp.Status != proto.StatusTabletNodeOk && resp.Status != proto.StatusOk {
		overall = resp.Status
	}

	var notInRange []int64
	retryGroups := make(map[int32][]int64)
	resultIdx := 0
	for i, id := range ids {
		rowStatus := overall
		if overall == proto.StatusTabletNodeOk && resp != nil && i < len(resp.DetailStatus) {
			rowStatus = resp.DetailStatus[i]
		}

		switch {
		case rowStatus == proto.StatusTabletNodeOk || rowStatus == proto.StatusOk:
			task := t.pool.Pop(id)
			if task != nil {
				if resp != nil && resultIdx < len(resp.RowResults) {
					task.reader.result = resp.RowResults[resultIdx]
				}
				task.reader.setError(nil)
				t.readPending.Release(1)
				t.finishReader(task)
			}
			resultIdx++

		case rowStatus == proto.StatusKeyNotExist || rowStatus == proto.StatusSnapshotNotExist:
			task := t.pool.Pop(id)
			if task == nil {
				continue
			}
			task.reader.setError(errors.FromStatus(rowStatus))
			t.readPending.Release(1)
			t.finishReader(task)

		case rowStatus == proto.StatusKeyNotInRange:
			task := t.pool.Get(id)
			if task == nil {
				continue
			}
			task.setInternalErr(rowStatus)
			task.incRetry()
			readRetryCount.WithLabelValues(t.name).Inc()
			notInRange = append(notInRange, id)
			task.decRef()

		case rowStatus.Retryable():
			task := t.pool.Get(id)
			if task == nil {
				continue
			}
			task.setInternalErr(rowStatus)
			attempt := task.incRetry()
			readRetryCount.WithLabelValues(t.name).Inc()
			task.decRef()
			if int(attempt) > t.cfg.RetryTimes {
				t.failReader(id, rowStatus)
				continue
			}
			retryGroups[attempt] = append(retryGroups[attempt], id)

		default:
			span.Warnf("read table %s row fail on %s: %s", t.name, addr, rowStatus)
			task := t.pool.Pop(id)
			if task == nil {
				continue
			}
			task.reader.setError(errors.FromStatus(rowStatus))
			t.readPending.Release(1)
			t.finishReader(task)
		}
	}

	if len(notInRange) > 0 {
		t.distributeReadersByID(notInRange)
	}
	for attempt, group := range retryGroups {
		ids := group
		t.timer.Schedule(t.retryBackoff(attempt), func() {
			t.workers.Run(func() { t.distributeReadersByID(ids) })
		})
	}
}

func (t *Table) failReader(id int64, last proto.StatusCode) {
	task := t.pool.Pop(id)
	if task == nil {
		return
	}
	task.reader.setError(errors.New(errors.System, "retry %d times, last error: %s",
		task.getRetry(), last))
	t.readPending.Release(1)
	t.finishReader(task)
}
