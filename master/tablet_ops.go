package master

import (
	"context"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zmyer/tera/common/nodecli"
	"github.com/zmyer/tera/master/tabletmgr"
	"github.com/zmyer/tera/proto"
)

// moveTablet is the balancer hook: Ready -> UnLoading -> OffLine ->
// WaitLoad -> OnLoad -> Ready on the destination. The source is fenced (the
// unload must succeed or the node must be gone) before the new load issues.
func (m *Master) moveTablet(tablet *tabletmgr.Tablet, destAddr string) {
	span, ctx := trace.StartSpanFromContext(context.Background(), "")
	if m.inSafeMode() {
		return
	}
	if _, ok := tablet.SetStatusIf(proto.TabletUnLoading, proto.TabletReady); !ok {
		return
	}
	tablet.SetExpectServerAddr(destAddr)

	m.workers.Run(func() {
		if !m.unloadFromSource(ctx, tablet) {
			span.Warnf("move of %s/%s aborted, unload failed", tablet.TableName(), tablet.Path())
			tablet.SetStatusIf(proto.TabletReady, proto.TabletUnLoading)
			return
		}
		tablet.SetAddr("")
		m.tryLoadTablet(ctx, tablet, destAddr)
	})
}

// unloadFromSource pushes the tablet off its current node.
func (m *Master) unloadFromSource(ctx context.Context, tablet *tabletmgr.Tablet) bool {
	span := trace.SpanFromContextSafe(ctx)
	addr := tablet.ServerAddr()
	if addr == "" {
		_, ok := tablet.SetStatusIf(proto.TabletOffLine, proto.TabletUnLoading)
		return ok
	}

	client, err := m.conns.GetClient(addr)
	if err == nil {
		kr := tablet.KeyRange()
		cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		resp, rerr := client.UnloadTablet(cctx, &proto.UnloadTabletRequest{
			SequenceID: m.nextSeq(),
			TableName:  tablet.TableName(),
			KeyRange:   kr,
		})
		cancel()
		status := nodecli.RPCStatus(rerr)
		if rerr == nil {
			status = resp.Status
		}
		if status != proto.StatusTabletNodeOk && status != proto.StatusOk {
			// a vanished node is fenced by the registry, not by this rpc
			if _, alive := m.cluster.GetNode(addr); alive {
				span.Warnf("unload %s/%s from %s: %s", tablet.TableName(), tablet.Path(), addr, status)
				return false
			}
		}
	}
	_, ok := tablet.SetStatusIf(proto.TabletOffLine, proto.TabletUnLoading)
	return ok
}

// tryLoadTablet assigns and loads the tablet, retrying across candidates.
func (m *Master) tryLoadTablet(ctx context.Context, tablet *tabletmgr.Tablet, destAddr string) {
	span := trace.SpanFromContextSafe(ctx)
	if m.inSafeMode() {
		return
	}

	if destAddr == "" {
		var ok bool
		destAddr, ok = m.balancer.PickDest(tablet)
		if !ok {
			span.Warnf("no node available to load %s/%s", tablet.TableName(), tablet.Path())
			return
		}
	}

	switch tablet.Status() {
	case proto.TabletOffLine, proto.TabletNotInit, proto.TabletLoadFail:
		if _, ok := tablet.SetAddrAndStatusIf(destAddr, proto.TabletWaitLoad, tablet.Status()); !ok {
			return
		}
	default:
		return
	}
	tablet.SetExpectServerAddr("")

	dest := destAddr
	m.workers.Run(func() {
		m.loadWithRetry(ctx, tablet, dest, m.cfg.LoadRetryTimes)
	})
}

func (m *Master) loadWithRetry(ctx context.Context, tablet *tabletmgr.Tablet, addr string, retriesLeft int) {
	span := trace.SpanFromContextSafe(ctx)

	if _, ok := tablet.SetStatusIf(proto.TabletOnLoad, proto.TabletWaitLoad); !ok {
		return
	}
	if err := m.writeTabletMeta(ctx, tablet); err != nil {
		span.Warnf("persist %s/%s before load: %s", tablet.TableName(), tablet.Path(), err)
	}

	client, err := m.conns.GetClient(addr)
	var status proto.StatusCode
	if err != nil {
		status = proto.StatusConnectError
	} else {
		cctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		resp, rerr := client.LoadTablet(cctx, &proto.LoadTabletRequest{
			SequenceID: m.nextSeq(),
			Tablet:     tablet.ToMeta(),
			Schema:     tablet.Table().Schema(),
		})
		cancel()
		status = nodecli.RPCStatus(rerr)
		if rerr == nil {
			status = resp.Status
		}
	}

	if status == proto.StatusTabletNodeOk || status == proto.StatusOk {
		if _, ok := tablet.SetStatusIf(proto.TabletReady, proto.TabletOnLoad); ok {
			tablet.SetLoadTime(time.Now().UnixMilli())
			if err := m.writeTabletMeta(ctx, tablet); err != nil {
				span.Warnf("persist %s/%s after load: %s", tablet.TableName(), tablet.Path(), err)
			}
		}
		return
	}

	span.Warnf("load %s/%s on %s: %s", tablet.TableName(), tablet.Path(), addr, status)
	tablet.SetStatusIf(proto.TabletLoadFail, proto.TabletOnLoad)
	if retriesLeft <= 0 {
		tablet.SetStatus(proto.TabletOffLine)
		tablet.SetAddr("")
		return
	}

	// try another node
	tablet.SetStatus(proto.TabletOffLine)
	tablet.SetAddr("")
	next, ok := m.balancer.PickDest(tablet)
	if !ok {
		return
	}
	if _, ok := tablet.SetAddrAndStatusIf(next, proto.TabletWaitLoad, proto.TabletOffLine); !ok {
		return
	}
	m.loadWithRetry(ctx, tablet, next, retriesLeft-1)
}

// trySplitTablet drives Ready -> OnSplit -> two NotInit children.
func (m *Master) trySplitTablet(ctx context.Context, tablet *tabletmgr.Tablet) {
	span := trace.SpanFromContextSafe(ctx)
	if _, ok := tablet.SetStatusIf(proto.TabletOnSplit, proto.TabletReady); !ok {
		return
	}

	addr := tablet.ServerAddr()
	m.workers.Run(func() {
		client, err := m.conns.GetClient(addr)
		if err != nil {
			tablet.SetStatusIf(proto.TabletReady, proto.TabletOnSplit)
			return
		}
		kr := tablet.KeyRange()
		cctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		resp, rerr := client.SplitTablet(cctx, &proto.SplitTabletRequest{
			SequenceID: m.nextSeq(),
			TableName:  tablet.TableName(),
			KeyRange:   kr,
		})
		cancel()
		status := nodecli.RPCStatus(rerr)
		if rerr == nil {
			status = resp.Status
		}
		if (status != proto.StatusTabletNodeOk && status != proto.StatusOk) || resp.SplitKey == "" {
			span.Warnf("split %s/%s on %s: %s", tablet.TableName(), tablet.Path(), addr, status)
			tablet.SetStatusIf(proto.TabletReady, proto.TabletOnSplit)
			return
		}

		left, right, err := m.mgr.ApplySplit(ctx, tablet, resp.SplitKey)
		if err != nil {
			// meta write failed; in-memory state reverted, no phantom tablet
			span.Errorf("split %s/%s persist failed: %s", tablet.TableName(), tablet.Path(), err)
			tablet.SetStatusIf(proto.TabletReady, proto.TabletOnSplit)
			return
		}
		tablet.SetStatus(proto.TabletDeleted)
		span.Infof("split %s/%s at %q into %s and %s",
			tablet.TableName(), tablet.Path(), resp.SplitKey, left.Path(), right.Path())
		m.tryLoadTablet(ctx, left, addr)
		m.tryLoadTablet(ctx, right, addr)
	})
}

// tryMergeTablet folds the tablet with a small adjacent partner.
func (m *Master) tryMergeTablet(ctx context.Context, tablet *tabletmgr.Tablet) {
	span := trace.SpanFromContextSafe(ctx)
	peer, ok := m.mgr.PickMergeTablet(tablet)
	if !ok {
		return
	}
	if _, ok := tablet.SetStatusIf(proto.TabletOnMerge, proto.TabletReady); !ok {
		return
	}
	if _, ok := peer.SetStatusIf(proto.TabletOnMerge, proto.TabletReady); !ok {
		tablet.SetStatusIf(proto.TabletReady, proto.TabletOnMerge)
		return
	}
	tablet.SetMergePeer(peer.KeyRange().Start)

	m.workers.Run(func() {
		for _, t := range []*tabletmgr.Tablet{tablet, peer} {
			if _, ok := t.SetStatusIf(proto.TabletUnLoading, proto.TabletOnMerge); !ok {
				return
			}
			if !m.unloadFromSource(ctx, t) {
				span.Warnf("merge aborted, unload %s/%s failed", t.TableName(), t.Path())
				t.SetStatusIf(proto.TabletReady, proto.TabletUnLoading)
				return
			}
		}

		first, second := tablet, peer
		if second.KeyRange().Start < first.KeyRange().Start {
			first, second = second, first
		}
		merged, err := m.mgr.ApplyMerge(ctx, first, second)
		if err != nil {
			// originals stay; reload both
			span.Errorf("merge %s/%s+%s persist failed: %s",
				first.TableName(), first.Path(), second.Path(), err)
			m.tryLoadTablet(ctx, first, "")
			m.tryLoadTablet(ctx, second, "")
			return
		}
		span.Infof("merged %s/%s and %s into %s",
			first.TableName(), first.Path(), second.Path(), merged.Path())
		m.tryLoadTablet(ctx, merged, "")
	})
}

// unloadTable pushes every tablet of a table offline, for disable.
func (m *Master) unloadTable(ctx context.Context, table *tabletmgr.Table) {
	for _, tablet := range table.Tablets() {
		if _, ok := tablet.SetStatusIf(proto.TabletUnLoading, proto.TabletReady); !ok {
			continue
		}
		t := tablet
		m.workers.Run(func() {
			if m.unloadFromSource(ctx, t) {
				t.SetAddr("")
			}
		})
	}
}

// loadTable brings every offline tablet of a table up, for enable.
func (m *Master) loadTable(ctx context.Context, table *tabletmgr.Table) {
	for _, tablet := range table.Tablets() {
		m.tryLoadTablet(ctx, tablet, "")
	}
}
