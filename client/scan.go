package client

import (
	"github.com/zmyer/tera/common/nodecli"
	"github.com/zmyer/tera/errors"
	"github.com/zmyer/tera/proto"
)

// ScanDescriptor selects the range and shape of a table scan.
type ScanDescriptor struct {
	Start       string
	End         string
	SnapshotID  uint64
	BufferLimit int64
	NumberLimit int64
	MaxVersions int32
	TimeRange   *proto.TimeRange
	CFList      []string
	FilterList  []string
	RoundDown   bool
}

type legResult struct {
	kvs []proto.KeyValuePair
	err *errors.Error
	eof bool
}

// scanSession walks the descriptor's range tablet by tablet. Each leg is one
// routed ScanTablet rpc tracked as a task, so range movement and deadlines
// follow the same recovery paths as reads and writes.
type scanSession struct {
	t    *Table
	desc *ScanDescriptor

	cur    string
	taskID int64
	legC   chan legResult
}

// Scan opens a pull stream over [desc.Start, desc.End).
func (t *Table) Scan(desc *ScanDescriptor) *ResultStream {
	s := &scanSession{
		t:    t,
		desc: desc,
		cur:  desc.Start,
		legC: make(chan legResult, 1),
	}
	if s.desc.BufferLimit <= 0 {
		s.desc.BufferLimit = t.cfg.ScanBufferLimit
	}
	return &ResultStream{s: s}
}

// fetch runs one leg to completion and returns its rows.
func (s *scanSession) fetch() legResult {
	task := &sdkTask{
		id:   s.t.pool.newID(),
		typ:  taskScan,
		row:  s.cur,
		scan: s,
	}
	s.taskID = task.id
	s.t.pool.Put(task, s.t.cfg.timeout(), s.timeout)

	addr, metaTs, ok := s.t.cache.Route(task.row, task.id, task.getInternalErr(), task.getMetaTime())
	if ok {
		task.setMetaTime(metaTs)
		s.commit(addr)
	}
	return <-s.legC
}

func (s *scanSession) timeout(task *sdkTask) {
	if err := task.getInternalErr(); err == proto.StatusKeyNotInRange || err == proto.StatusConnectError {
		s.t.cache.ScheduleUpdate(task.row, task.getMetaTime())
	}
	s.legC <- legResult{err: errors.New(errors.Timeout, "scan leg at %q timed out", task.row)}
}

// commit issues the current leg to addr. Runs on a worker.
func (s *scanSession) commit(addr string) {
	t := s.t
	task := t.pool.Get(s.taskID)
	if task == nil {
		return
	}
	req := &proto.ScanTabletRequest{
		SequenceID:  t.nextSeq(),
		TableName:   t.name,
		Start:       s.cur,
		End:         s.desc.End,
		SnapshotID:  s.desc.SnapshotID,
		BufferLimit: s.desc.BufferLimit,
		NumberLimit: s.desc.NumberLimit,
		TimeRange:   s.desc.TimeRange,
		FilterList:  s.desc.FilterList,
		CFList:      s.desc.CFList,
		MaxVersion:  s.desc.MaxVersions,
		RoundDown:   s.desc.RoundDown,
	}
	task.incCommit()
	id := task.id
	task.decRef()

	t.workers.Run(func() {
		ctx, cancel := t.rpcContext()
		defer cancel()

		var resp *proto.ScanTabletResponse
		client, err := t.conns.GetClient(addr)
		if err == nil {
			resp, err = client.ScanTablet(ctx, req)
		}
		s.callback(id, resp, err)
	})
}

func (s *scanSession) callback(id int64, resp *proto.ScanTabletResponse, rpcErr error) {
	t := s.t

	status := proto.StatusTabletNodeOk
	if rpcErr != nil {
		status = nodecli.RPCStatus(rpcErr)
	} else if resp.Status != proto.StatusTabletNodeOk && resp.Status != proto.StatusOk {
		status = resp.Status
	}

	switch {
	case status == proto.StatusTabletNodeOk || status == proto.StatusOk:
		task := t.pool.Pop(id)
		if task == nil {
			return
		}
		s.deliver(resp)

	case status == proto.StatusSnapshotNotExist:
		if task := t.pool.Pop(id); task != nil {
			s.legC <- legResult{err: errors.FromStatus(status)}
		}

	case status == proto.StatusKeyNotInRange:
		task := t.pool.Get(id)
		if task == nil {
			return
		}
		task.setInternalErr(status)
		task.incRetry()
		row := task.row
		metaTs := task.getMetaTime()
		task.decRef()
		// Re-route; the leg resumes through the meta wake path.
		if addr, newTs, ok := t.cache.Route(row, id, status, metaTs); ok {
			if task := t.pool.Get(id); task != nil {
				task.setMetaTime(newTs)
				task.decRef()
			}
			s.commit(addr)
		}

	case status.Retryable():
		task := t.pool.Get(id)
		if task == nil {
			return
		}
		task.setInternalErr(status)
		attempt := task.incRetry()
		task.decRef()
		if int(attempt) > t.cfg.RetryTimes {
			if task := t.pool.Pop(id); task != nil {
				s.legC <- legResult{err: errors.New(errors.System,
					"scan retry %d times, last error: %s", attempt, status)}
			}
			return
		}
		t.timer.Schedule(t.retryBackoff(attempt), func() {
			t.workers.Run(func() { s.recommit(id) })
		})

	default:
		if task := t.pool.Pop(id); task != nil {
			s.legC <- legResult{err: errors.FromStatus(status)}
		}
	}
}

// recommit re-routes a retried leg.
func (s *scanSession) recommit(id int64) {
	task := s.t.pool.Get(id)
	if task == nil {
		return
	}
	row := task.row
	internalErr := task.getInternalErr()
	metaTs := task.getMetaTime()
	task.decRef()

	if addr, newTs, ok := s.t.cache.Route(row, id, internalErr, metaTs); ok {
		if task := s.t.pool.Get(id); task != nil {
			task.setMetaTime(newTs)
			task.decRef()
		}
		s.commit(addr)
	}
}

// deliver hands one leg's rows to the stream and positions the next leg.
func (s *scanSession) deliver(resp *proto.ScanTabletResponse) {
	kvs := resp.Results.KeyValues
	if resp.Complete {
		// The served tablet is exhausted; jump to its end.
		next := ""
		if kr, ok := s.t.cache.RangeOf(s.cur); ok {
			next = kr.End
		} else if len(kvs) > 0 {
			next = proto.NextKey(kvs[len(kvs)-1].Key)
		}
		if next == "" || (s.desc.End != "" && next >= s.desc.End) {
			s.legC <- legResult{kvs: kvs, eof: true}
			return
		}
		s.cur = next
		s.legC <- legResult{kvs: kvs}
		return
	}
	if len(kvs) == 0 {
		s.legC <- legResult{eof: true}
		return
	}
	s.cur = proto.NextKey(kvs[len(kvs)-1].Key)
	s.legC <- legResult{kvs: kvs}
}

// ResultStream pulls scan rows leg by leg.
type ResultStream struct {
	s   *scanSession
	buf []proto.KeyValuePair
	idx int
	eof bool
	err *errors.Error
}

// Next returns the following cell, or nil at stream end. Check Err after a
// nil return.
func (r *ResultStream) Next() *proto.KeyValuePair {
	for r.idx >= len(r.buf) {
		if r.eof || r.err != nil {
			return nil
		}
		res := r.s.fetch()
		if res.err != nil {
			r.err = res.err
			return nil
		}
		r.buf, r.idx = res.kvs, 0
		r.eof = res.eof
		if len(r.buf) == 0 && r.eof {
			return nil
		}
	}
	kv := &r.buf[r.idx]
	r.idx++
	return kv
}

// Err returns the stream's terminal error, if any.
func (r *ResultStream) Err() *errors.Error { return r.err }
