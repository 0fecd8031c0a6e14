package placement

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zmyer/tera/master/cluster"
	"github.com/zmyer/tera/master/tabletmgr"
	"github.com/zmyer/tera/proto"
)

type Config struct {
	Scheduler   string `json:"scheduler"`
	MaxMoveNum  int    `json:"max_move_num"`
	MaxRoundNum int    `json:"max_round_num"`
}

const (
	defaultMaxMoveNum  = 1
	defaultMaxRoundNum = 10
)

// MoveFunc starts the move sequencing of one tablet towards destAddr.
type MoveFunc func(tablet *tabletmgr.Tablet, destAddr string)

// Balancer runs rebalance rounds over the scheduler's ranking.
type Balancer struct {
	cfg     Config
	sched   Scheduler
	mgr     *tabletmgr.TabletManager
	cluster *cluster.Cluster
	move    MoveFunc
}

// NewBalancer wires the balancer; move is called for every chosen pair.
func NewBalancer(cfg Config, mgr *tabletmgr.TabletManager, cl *cluster.Cluster, move MoveFunc) *Balancer {
	if cfg.MaxMoveNum <= 0 {
		cfg.MaxMoveNum = defaultMaxMoveNum
	}
	if cfg.MaxRoundNum <= 0 {
		cfg.MaxRoundNum = defaultMaxRoundNum
	}
	return &Balancer{
		cfg:     cfg,
		sched:   NewScheduler(cfg.Scheduler),
		mgr:     mgr,
		cluster: cl,
		move:    move,
	}
}

// Scheduler exposes the active scheduler.
func (b *Balancer) Scheduler() Scheduler { return b.sched }

// Balance runs up to MaxRoundNum passes, each moving at most MaxMoveNum
// tablets from the heaviest node towards the lightest. It returns the number
// of moves issued.
func (b *Balancer) Balance(ctx context.Context) int {
	span := trace.SpanFromContextSafe(ctx)
	moved := 0
	for round := 0; round < b.cfg.MaxRoundNum; round++ {
		nodes := b.cluster.Nodes()
		if !b.sched.NeedBalance(nodes) {
			break
		}
		ranked := b.sched.Rank(nodes)
		dest := ranked[0]
		src := ranked[len(ranked)-1]
		if dest.Addr() == src.Addr() {
			break
		}

		ready := readyTablets(b.mgr.TabletsOn(src.Addr()))
		picked := b.sched.PickTablets(ready, b.cfg.MaxMoveNum)
		if len(picked) == 0 {
			break
		}
		for _, tablet := range picked {
			span.Infof("balance move tablet %s/%s %s -> %s",
				tablet.TableName(), tablet.Path(), src.Addr(), dest.Addr())
			b.move(tablet, dest.Addr())
			moved++
		}
	}
	return moved
}

// PickDest chooses the placement target for one tablet, preferring its
// expected server when one is set.
func (b *Balancer) PickDest(tablet *tabletmgr.Tablet) (string, bool) {
	if expect := tablet.ExpectServerAddr(); expect != "" {
		if _, ok := b.cluster.GetNode(expect); ok {
			return expect, true
		}
	}
	ranked := b.sched.Rank(b.cluster.Nodes())
	if len(ranked) == 0 {
		return "", false
	}
	return ranked[0].Addr(), true
}

func readyTablets(tablets []*tabletmgr.Tablet) []*tabletmgr.Tablet {
	ready := tablets[:0]
	for _, t := range tablets {
		if t.Status() == proto.TabletReady {
			ready = append(ready, t)
		}
	}
	return ready
}
