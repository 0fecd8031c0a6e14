package master

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/taskpool"

	"github.com/zmyer/tera/common/fsenv"
	"github.com/zmyer/tera/common/nodecli"
	"github.com/zmyer/tera/master/availability"
	"github.com/zmyer/tera/master/cluster"
	"github.com/zmyer/tera/master/gc"
	"github.com/zmyer/tera/master/placement"
	"github.com/zmyer/tera/master/store"
	"github.com/zmyer/tera/master/tabletmgr"
	"github.com/zmyer/tera/proto"
	"github.com/zmyer/tera/registry"
)

// Status is the master's admission state.
type Status int32

const (
	// StatusRunning serves all operations.
	StatusRunning Status = iota + 1
	// StatusReadonly (safe mode) suspends moves and meta writes.
	StatusReadonly
)

type Config struct {
	Addr string `json:"addr"`

	QueryIntervalS int `json:"query_interval_s"`
	// GcQueryRounds runs a gc query every n-th query round.
	GcQueryRounds int `json:"gc_query_rounds"`
	// SafeModeRatio enters safe mode when live/known nodes drops below it.
	SafeModeRatio float64 `json:"safe_mode_ratio"`

	LoadRetryTimes int `json:"load_retry_times"`
	WorkerNum      int `json:"worker_num"`

	Placement    placement.Config    `json:"placement"`
	Gc           gc.Config           `json:"gc"`
	Availability availability.Config `json:"availability"`
	Store        store.Config        `json:"store"`
}

func (c *Config) withDefaults() {
	if c.QueryIntervalS <= 0 {
		c.QueryIntervalS = 10
	}
	if c.GcQueryRounds <= 0 {
		c.GcQueryRounds = 6
	}
	if c.SafeModeRatio <= 0 {
		c.SafeModeRatio = 0.7
	}
	if c.LoadRetryTimes <= 0 {
		c.LoadRetryTimes = 3
	}
	if c.WorkerNum <= 0 {
		c.WorkerNum = 10
	}
}

// Master owns the cluster: catalog, placement, availability and gc.
type Master struct {
	cfg *Config

	status int32

	reg      registry.Adapter
	conns    nodecli.Conns
	mgr      *tabletmgr.TabletManager
	cluster  *cluster.Cluster
	balancer *placement.Balancer
	gcStrat  gc.Strategy
	tracker  *availability.Tracker
	store    *store.Store
	users    *userManager
	env      fsenv.Env

	workers taskpool.TaskPool

	seq        uint64
	knownNodes int32
	safeModePinned int32

	done      chan struct{}
	closeOnce sync.Once
}

// New wires a master over its externals.
func New(ctx context.Context, cfg *Config, reg registry.Adapter, conns nodecli.Conns, env fsenv.Env) (*Master, error) {
	cfg.withDefaults()
	span := trace.SpanFromContextSafe(ctx)

	localStore, err := store.NewStore(ctx, &cfg.Store)
	if err != nil {
		return nil, err
	}

	m := &Master{
		cfg:     cfg,
		status:  int32(StatusRunning),
		reg:     reg,
		conns:   conns,
		env:     env,
		store:   localStore,
		workers: taskpool.New(cfg.WorkerNum, cfg.WorkerNum),
		done:    make(chan struct{}),
	}
	m.mgr = tabletmgr.NewTabletManager(tabletmgr.NewMetaWriter(conns, reg, m.nextSeq))
	m.cluster = cluster.NewCluster(reg)
	m.balancer = placement.NewBalancer(cfg.Placement, m.mgr, m.cluster, m.moveTablet)
	m.gcStrat = gc.NewStrategy(&cfg.Gc, m.mgr, env, gc.NewStorageDeps(localStore.KVStore()))
	m.tracker = availability.NewTracker(cfg.Availability, m.mgr)
	m.users = newUserManager(localStore.KVStore())

	span.Infof("master %s starts with scheduler=%s gc=%s",
		cfg.Addr, m.balancer.Scheduler().Name(), m.gcStrat.Name())
	return m, nil
}

func (m *Master) nextSeq() proto.SequenceID {
	return atomic.AddUint64(&m.seq, 1)
}

// Init takes the master lease, restores the catalog and starts the query
// loop.
func (m *Master) Init(ctx context.Context) error {
	span := trace.SpanFromContextSafe(ctx)

	if err := m.reg.LockMaster(ctx, m.cfg.Addr, m.onLeaseLost); err != nil {
		return err
	}
	if err := m.mgr.Restore(ctx); err != nil {
		span.Errorf("restore catalog from meta table failed: %s", err)
		return err
	}
	if _, err := m.cluster.Refresh(ctx); err != nil {
		span.Warnf("initial node refresh failed: %s", err)
	}
	m.observeNodeCount()

	// everything restored comes back offline; reassign
	for _, tablet := range m.mgr.AllTablets() {
		if tablet.Status() == proto.TabletOffLine {
			m.tryLoadTablet(ctx, tablet, "")
		}
	}

	go m.queryLoop()
	return nil
}

func (m *Master) onLeaseLost() {
	// the registry is the fence: a master that lost its lease must stop
	// acting before a successor writes meta
	m.Close()
}

// Close stops the query loop and releases the store.
func (m *Master) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.workers.Close()
		m.store.Close()
	})
}

// MasterStatus returns the admission state.
func (m *Master) MasterStatus() Status {
	return Status(atomic.LoadInt32(&m.status))
}

// SetMasterStatus switches the admission state; pinned marks a manual
// transition that automatic recovery must not undo.
func (m *Master) SetMasterStatus(s Status, pinned bool) {
	atomic.StoreInt32(&m.status, int32(s))
	if pinned {
		atomic.StoreInt32(&m.safeModePinned, 1)
	} else {
		atomic.StoreInt32(&m.safeModePinned, 0)
	}
}

func (m *Master) inSafeMode() bool {
	return m.MasterStatus() == StatusReadonly
}

func (m *Master) observeNodeCount() {
	n := int32(m.cluster.Size())
	for {
		known := atomic.LoadInt32(&m.knownNodes)
		if n <= known || atomic.CompareAndSwapInt32(&m.knownNodes, known, n) {
			return
		}
	}
}

// checkSafeMode enters safe mode when the live-node ratio collapses and
// leaves it when the ratio recovers, unless an operator pinned the state.
func (m *Master) checkSafeMode(ctx context.Context) {
	span := trace.SpanFromContextSafe(ctx)
	known := atomic.LoadInt32(&m.knownNodes)
	if known == 0 {
		return
	}
	ratio := float64(m.cluster.Size()) / float64(known)
	switch {
	case ratio < m.cfg.SafeModeRatio && !m.inSafeMode():
		span.Warnf("live node ratio %.2f below %.2f, enter safe mode", ratio, m.cfg.SafeModeRatio)
		m.SetMasterStatus(StatusReadonly, false)
	case ratio >= m.cfg.SafeModeRatio && m.inSafeMode() && atomic.LoadInt32(&m.safeModePinned) == 0:
		span.Infof("live node ratio %.2f recovered, leave safe mode", ratio)
		m.SetMasterStatus(StatusRunning, false)
	}
}

// queryLoop is the heartbeat of the master: poll every tablet node, feed the
// state machine, availability tracker and gc, then rebalance.
func (m *Master) queryLoop() {
	ticker := time.NewTicker(time.Duration(m.cfg.QueryIntervalS) * time.Second)
	defer ticker.Stop()

	round := 0
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}
		round++
		span, ctx := trace.StartSpanFromContext(context.Background(), "")

		gone, err := m.cluster.Refresh(ctx)
		if err == nil {
			m.observeNodeCount()
			for _, node := range gone {
				m.onNodeDown(ctx, node)
			}
		}
		m.checkSafeMode(ctx)

		isGc := round%m.cfg.GcQueryRounds == 0 && m.gcStrat.PreQuery(ctx)
		m.queryNodes(ctx, isGc)
		if isGc {
			m.gcStrat.PostQuery(ctx)
		}

		m.tracker.Sweep(ctx)

		if !m.inSafeMode() {
			if moved := m.balancer.Balance(ctx); moved > 0 {
				span.Infof("balance round moved %d tablets", moved)
			}
		}
	}
}

// queryNodes fans the query out to the fleet and folds the reports in.
func (m *Master) queryNodes(ctx context.Context, isGc bool) {
	nodes := m.cluster.Nodes()
	var wg sync.WaitGroup
	for _, node := range nodes {
		node := node
		wg.Add(1)
		m.workers.Run(func() {
			defer wg.Done()
			m.queryOneNode(ctx, node, isGc)
		})
	}
	wg.Wait()
}

func (m *Master) queryOneNode(ctx context.Context, node *cluster.Node, isGc bool) {
	span := trace.SpanFromContextSafe(ctx)

	client, err := m.conns.GetClient(node.Addr())
	if err != nil {
		span.Warnf("query node %s: %s", node.Addr(), err)
		return
	}
	cctx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.QueryIntervalS)*time.Second)
	resp, err := client.Query(cctx, &proto.QueryRequest{
		SequenceID: m.nextSeq(),
		IsGcQuery:  isGc,
	})
	cancel()
	if err != nil {
		span.Warnf("query node %s: %s", node.Addr(), nodecli.RPCStatus(err))
		return
	}
	if resp.Status != proto.StatusTabletNodeOk && resp.Status != proto.StatusOk {
		span.Warnf("query node %s: %s", node.Addr(), resp.Status)
		return
	}

	var dataSize int64
	for i := range resp.TabletMetaList {
		m.applyTabletReport(ctx, node, &resp.TabletMetaList[i])
		dataSize += resp.TabletMetaList[i].DataSize
	}
	node.UpdateFromQuery(&resp.NodeInfo, len(resp.TabletMetaList), dataSize)

	if isGc {
		m.gcStrat.OnQueryResponse(ctx, resp)
	}
}

// applyTabletReport syncs one reported tablet into the catalog.
func (m *Master) applyTabletReport(ctx context.Context, node *cluster.Node, meta *proto.TabletMeta) {
	span := trace.SpanFromContextSafe(ctx)
	if meta.TableName == proto.MetaTableName {
		return
	}

	tablet, err := m.mgr.FindTablet(meta.TableName, meta.KeyRange.Start)
	if err != nil {
		span.Warnf("node %s reports unknown tablet %s[%q): %s",
			node.Addr(), meta.TableName, meta.KeyRange.Start, err)
		return
	}
	if err := tablet.Verify(meta.TableName, meta.KeyRange.Start, meta.KeyRange.End,
		meta.Path, node.Addr()); err != nil {
		span.Warnf("tablet report mismatch: %s", err)
		return
	}

	tablet.UpdateSize(meta)
	tablet.SetCounter(meta.Counter)

	// a load the master issued has completed on the node
	if tablet.Status() == proto.TabletOnLoad && meta.Status == proto.TabletReady {
		if _, ok := tablet.SetStatusIf(proto.TabletReady, proto.TabletOnLoad); ok {
			tablet.SetLoadTime(time.Now().UnixMilli())
			if err := m.writeTabletMeta(ctx, tablet); err != nil {
				span.Warnf("persist tablet %s/%s after load: %s",
					tablet.TableName(), tablet.Path(), err)
			}
		}
	}

	// split grown past the threshold, merge shrunk below it
	schema := tablet.Table().Schema()
	switch {
	case m.inSafeMode() || tablet.Status() != proto.TabletReady:
	case schema.SplitSize > 0 && meta.DataSize > schema.SplitSize:
		m.trySplitTablet(ctx, tablet)
	case schema.MergeSize > 0 && meta.DataSize < schema.MergeSize:
		m.tryMergeTablet(ctx, tablet)
	}
}

// onNodeDown fences the node's tablets and reassigns them.
func (m *Master) onNodeDown(ctx context.Context, node *cluster.Node) {
	span := trace.SpanFromContextSafe(ctx)
	tablets := m.mgr.TabletsOn(node.Addr())
	span.Warnf("node %s down with %d tablets", node.Addr(), len(tablets))

	if m.inSafeMode() {
		return
	}
	for _, tablet := range tablets {
		switch tablet.Status() {
		case proto.TabletReady:
			if _, ok := tablet.SetStatusIf(proto.TabletOffLine, proto.TabletReady); !ok {
				continue
			}
		case proto.TabletOnLoad, proto.TabletWaitLoad:
			tablet.SetStatus(proto.TabletOffLine)
		case proto.TabletUnLoading:
			tablet.SetStatus(proto.TabletOffLine)
		default:
			continue
		}
		tablet.SetAddr("")
		m.tryLoadTablet(ctx, tablet, "")
	}
}

func (m *Master) writeTabletMeta(ctx context.Context, tablet *tabletmgr.Tablet) error {
	if m.inSafeMode() {
		return nil
	}
	return m.mgr.WriteTablet(ctx, tablet)
}
