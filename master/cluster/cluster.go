package cluster

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zmyer/tera/proto"
	"github.com/zmyer/tera/registry"
)

// NodeStatus is the master's view of one tablet server's liveness.
type NodeStatus string

const (
	NodeReady   NodeStatus = "ready"
	NodeOffline NodeStatus = "offline"
	NodeKicked  NodeStatus = "kicked"
)

// Node is one tablet server tracked by the master.
type Node struct {
	addr      string
	sessionID string

	status       NodeStatus
	tabletCount  int
	dataSize     int64
	qps          int64
	lastReportMs int64

	lock sync.Mutex
}

func (n *Node) Addr() string      { return n.addr }
func (n *Node) SessionID() string { return n.sessionID }

func (n *Node) Status() NodeStatus {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.status
}

func (n *Node) Info() proto.TabletNodeInfo {
	n.lock.Lock()
	defer n.lock.Unlock()
	return proto.TabletNodeInfo{
		Addr:        n.addr,
		UUID:        n.sessionID,
		Status:      string(n.status),
		TabletCount: n.tabletCount,
		DataSize:    n.dataSize,
		QPS:         n.qps,
		LastReport:  n.lastReportMs,
	}
}

// UpdateFromQuery folds one query response into the node's stats.
func (n *Node) UpdateFromQuery(info *proto.TabletNodeInfo, tabletCount int, dataSize int64) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.status = NodeReady
	n.tabletCount = tabletCount
	n.dataSize = dataSize
	n.qps = info.QPS
	n.lastReportMs = time.Now().UnixMilli()
}

func (n *Node) markOffline() {
	n.lock.Lock()
	n.status = NodeOffline
	n.lock.Unlock()
}

// Load is the scheduler's ranking signal for the node.
func (n *Node) Load() (tabletCount int, dataSize int64, qps int64) {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.tabletCount, n.dataSize, n.qps
}

// Cluster tracks the tablet-server fleet against the registry.
type Cluster struct {
	reg registry.Adapter

	nodes map[string]*Node
	lock  sync.RWMutex
}

// NewCluster builds an empty fleet view.
func NewCluster(reg registry.Adapter) *Cluster {
	return &Cluster{
		reg:   reg,
		nodes: make(map[string]*Node),
	}
}

// Refresh reconciles the fleet against the registry's live sessions and
// returns the nodes that disappeared since the last refresh.
func (c *Cluster) Refresh(ctx context.Context) (gone []*Node, err error) {
	span := trace.SpanFromContextSafe(ctx)
	sessions, err := c.reg.TabletNodes(ctx)
	if err != nil {
		span.Warnf("list tablet nodes from registry failed: %s", err)
		return nil, err
	}

	live := make(map[string]string, len(sessions)) // addr -> session
	for session, addr := range sessions {
		live[addr] = session
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	for addr, session := range live {
		if _, ok := c.nodes[addr]; !ok {
			span.Infof("tablet node up: %s session %s", addr, session)
			c.nodes[addr] = &Node{addr: addr, sessionID: session, status: NodeReady}
		}
	}
	for addr, node := range c.nodes {
		if _, ok := live[addr]; !ok {
			span.Warnf("tablet node down: %s", addr)
			node.markOffline()
			gone = append(gone, node)
			delete(c.nodes, addr)
		}
	}
	return gone, nil
}

// GetNode returns the node at addr.
func (c *Cluster) GetNode(addr string) (*Node, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	node, ok := c.nodes[addr]
	return node, ok
}

// Nodes lists the fleet sorted by address.
func (c *Cluster) Nodes() []*Node {
	c.lock.RLock()
	defer c.lock.RUnlock()
	nodes := make([]*Node, 0, len(c.nodes))
	for _, node := range c.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].addr < nodes[j].addr })
	return nodes
}

// Size returns the fleet size.
func (c *Cluster) Size() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.nodes)
}

// Kick fences a node out through the registry.
func (c *Cluster) Kick(ctx context.Context, addr string) error {
	c.lock.Lock()
	node, ok := c.nodes[addr]
	if ok {
		delete(c.nodes, addr)
	}
	c.lock.Unlock()
	if !ok {
		return nil
	}
	node.lock.Lock()
	node.status = NodeKicked
	session := node.sessionID
	node.lock.Unlock()
	return c.reg.KickTabletNode(ctx, session)
}
