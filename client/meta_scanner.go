package client

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/sync/singleflight"

	"github.com/zmyer/tera/common/nodecli"
	"github.com/zmyer/tera/proto"
)

// MetaTableName is the system table indexed by the root tablet.
const MetaTableName = proto.MetaTableName

// metaScanner discovers and refreshes tablet ranges by iteratively scanning
// the root tablet's meta region. Concurrency is bounded by the cache's scan
// budget; concurrent root-address reads coalesce through one flight.
type metaScanner struct {
	t      *Table
	single singleflight.Group
}

func newMetaScanner(t *Table) *metaScanner {
	return &metaScanner{t: t}
}

// Kick drains the cache's WaitUpdate ranges into running scans.
func (s *metaScanner) Kick() {
	for {
		start, end, expand, ok := s.t.cache.NextScanRange()
		if !ok {
			return
		}
		p := scanParams{start: start, end: end, expand: expand, cur: start}
		s.t.workers.Run(func() { s.scanOnce(p) })
	}
}

type scanParams struct {
	start  string
	end    string
	expand string
	cur    string

	forceRegistry bool
	restarts      int
}

func (s *metaScanner) rootAddr(force bool) (string, error) {
	v, err, _ := s.single.Do("root_tablet", func() (interface{}, error) {
		span, ctx := trace.StartSpanFromContext(context.Background(), "")
		addr, err := s.t.reg.RootTabletAddress(ctx, force)
		if (err != nil || addr == "") && !force {
			addr, err = s.t.reg.RootTabletAddress(ctx, true)
		}
		if err != nil {
			span.Warnf("resolve root tablet failed: %s", err)
		}
		return addr, err
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *metaScanner) retryLater(p scanParams) {
	p.forceRegistry = true
	s.t.timer.Schedule(s.t.cfg.updateMetaInternal(), func() {
		s.t.workers.Run(func() { s.scanOnce(p) })
	})
}

// scanOnce issues one meta scan rpc and advances or retries by its outcome.
// Pending tasks are never failed here; they re-arm on the next scan.
func (s *metaScanner) scanOnce(p scanParams) {
	t := s.t
	span, ctx := trace.StartSpanFromContext(context.Background(), "")
	metaScanCount.WithLabelValues(t.name).Inc()

	addr, err := s.rootAddr(p.forceRegistry)
	if err != nil || addr == "" {
		t.cache.GiveupUpdate(p.start, p.end)
		s.retryLater(p)
		return
	}

	scanEndKey := p.expand
	if scanEndKey == "" {
		scanEndKey = p.end
	}
	reqStart, reqEnd := proto.TabletScanRange(t.name, p.cur, scanEndKey)
	req := &proto.ScanTabletRequest{
		SequenceID:  t.nextSeq(),
		TableName:   MetaTableName,
		Start:       reqStart,
		End:         reqEnd,
		BufferLimit: int64(t.cfg.UpdateMetaBufferLimit),
	}

	var resp *proto.ScanTabletResponse
	client, err := t.conns.GetClient(addr)
	if err == nil {
		cctx, cancel := context.WithTimeout(ctx, t.cfg.timeout())
		resp, err = client.ScanTablet(cctx, req)
		cancel()
	}
	status := proto.StatusTabletNodeOk
	if err != nil {
		status = nodecli.RPCStatus(err)
	} else if resp.Status != proto.StatusTabletNodeOk && resp.Status != proto.StatusOk {
		status = resp.Status
	}
	if status != proto.StatusTabletNodeOk {
		span.Warnf("scan meta table [%s, %s) fail: %s", p.cur, p.end, status)
		t.cache.GiveupUpdate(p.start, p.end)
		s.retryLater(p)
		return
	}

	var returnStart, returnEnd string
	count := 0
	for i := range resp.Results.KeyValues {
		kv := &resp.Results.KeyValues[i]
		meta, derr := proto.DecodeTabletMeta(kv.Key, kv.Value)
		if derr != nil {
			span.Warnf("skip bad meta row %q: %s", kv.Key, derr)
			continue
		}
		if count == 0 {
			returnStart = meta.KeyRange.Start
		}
		returnEnd = meta.KeyRange.End
		count++
		t.cache.Update(meta)
	}
	span.Debugf("scan meta table [%s, %s): %d records, complete=%v", p.cur, p.end, count, resp.Complete)

	endReached := returnEnd == "" || (p.end != "" && returnEnd >= p.end)
	stale := count == 0 || returnStart > p.cur ||
		(resp.Complete && !endReached)
	if stale {
		metaStaleCount.WithLabelValues(t.name).Inc()
		span.Warnf("scan meta table [%s, %s) returned stale range [%s, %s)",
			p.cur, p.end, returnStart, returnEnd)
		p.restarts++
		if p.restarts <= t.cfg.MaxMetaScanRestarts || count == 0 || returnEnd <= p.cur {
			p.cur = p.start
			s.retryLater(p)
			return
		}
		// Enough full restarts; continue past the hole instead of looping.
		p.cur = returnEnd
		s.retryLater(p)
		return
	}

	if !resp.Complete && !endReached {
		p.cur = returnEnd
		p.forceRegistry = false
		t.workers.Run(func() { s.scanOnce(p) })
		return
	}

	t.cache.ScanDone()
	s.Kick()
}
