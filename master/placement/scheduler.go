package placement

import (
	"sort"

	"github.com/zmyer/tera/master/cluster"
	"github.com/zmyer/tera/master/tabletmgr"
)

// Scheduler ranks (node, tablet) pairs for placement and rebalancing.
// Implementations are pluggable; the master selects one by name.
type Scheduler interface {
	Name() string
	// Rank orders candidate destination nodes, best first.
	Rank(nodes []*cluster.Node) []*cluster.Node
	// NeedBalance reports whether the spread across nodes justifies moves.
	NeedBalance(nodes []*cluster.Node) bool
	// PickTablets selects up to max tablets to move off an overloaded node.
	PickTablets(tablets []*tabletmgr.Tablet, max int) []*tabletmgr.Tablet
}

// sizeScheduler balances by served data size.
type sizeScheduler struct{}

// NewSizeScheduler ranks nodes by total data size.
func NewSizeScheduler() Scheduler { return &sizeScheduler{} }

func (s *sizeScheduler) Name() string { return "size" }

func (s *sizeScheduler) Rank(nodes []*cluster.Node) []*cluster.Node {
	ranked := append([]*cluster.Node(nil), nodes...)
	sort.SliceStable(ranked, func(i, j int) bool {
		ci, si, _ := ranked[i].Load()
		cj, sj, _ := ranked[j].Load()
		if si != sj {
			return si < sj
		}
		return ci < cj
	})
	return ranked
}

func (s *sizeScheduler) NeedBalance(nodes []*cluster.Node) bool {
	if len(nodes) < 2 {
		return false
	}
	var min, max int64
	for i, n := range nodes {
		_, size, _ := n.Load()
		if i == 0 || size < min {
			min = size
		}
		if size > max {
			max = size
		}
	}
	// balance once the heaviest node carries double the lightest, with some
	// absolute slack so empty clusters stay quiet
	return max > 2*min+64<<20
}

func (s *sizeScheduler) PickTablets(tablets []*tabletmgr.Tablet, max int) []*tabletmgr.Tablet {
	picked := append([]*tabletmgr.Tablet(nil), tablets...)
	sort.SliceStable(picked, func(i, j int) bool {
		return picked[i].DataSize() > picked[j].DataSize()
	})
	if len(picked) > max {
		picked = picked[:max]
	}
	return picked
}

// loadScheduler balances by read/write pressure.
type loadScheduler struct{}

// NewLoadScheduler ranks nodes by qps.
func NewLoadScheduler() Scheduler { return &loadScheduler{} }

func (s *loadScheduler) Name() string { return "load" }

func (s *loadScheduler) Rank(nodes []*cluster.Node) []*cluster.Node {
	ranked := append([]*cluster.Node(nil), nodes...)
	sort.SliceStable(ranked, func(i, j int) bool {
		_, _, qi := ranked[i].Load()
		_, _, qj := ranked[j].Load()
		return qi < qj
	})
	return ranked
}

func (s *loadScheduler) NeedBalance(nodes []*cluster.Node) bool {
	if len(nodes) < 2 {
		return false
	}
	var min, max int64
	for i, n := range nodes {
		_, _, qps := n.Load()
		if i == 0 || qps < min {
			min = qps
		}
		if qps > max {
			max = qps
		}
	}
	return max > 2*min+1000
}

func (s *loadScheduler) PickTablets(tablets []*tabletmgr.Tablet, max int) []*tabletmgr.Tablet {
	picked := append([]*tabletmgr.Tablet(nil), tablets...)
	sort.SliceStable(picked, func(i, j int) bool {
		ci := picked[i].AverageCounter()
		cj := picked[j].AverageCounter()
		return ci.ReadRows+ci.WriteRows+ci.ScanRows > cj.ReadRows+cj.WriteRows+cj.ScanRows
	})
	if len(picked) > max {
		picked = picked[:max]
	}
	return picked
}

// NewScheduler picks a scheduler by name, defaulting to size.
func NewScheduler(name string) Scheduler {
	if name == "load" {
		return NewLoadScheduler()
	}
	return NewSizeScheduler()
}
