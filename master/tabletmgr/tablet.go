package tabletmgr

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/zmyer/tera/proto"
)

// legal tablet status transitions, master view. Everything else is rejected.
var tabletStatusSwitch = map[proto.TabletStatus][]proto.TabletStatus{
	proto.TabletNotInit:   {proto.TabletWaitLoad, proto.TabletDeleted},
	proto.TabletWaitLoad:  {proto.TabletOnLoad, proto.TabletOffLine, proto.TabletDeleted},
	proto.TabletOnLoad:    {proto.TabletReady, proto.TabletLoadFail, proto.TabletWaitLoad, proto.TabletOffLine},
	proto.TabletReady:     {proto.TabletOnSplit, proto.TabletOnMerge, proto.TabletOnCompact, proto.TabletUnLoading, proto.TabletOffLine},
	proto.TabletOnSplit:   {proto.TabletReady, proto.TabletOffLine, proto.TabletDeleted},
	proto.TabletOnMerge:   {proto.TabletReady, proto.TabletUnLoading, proto.TabletOffLine, proto.TabletDeleted},
	proto.TabletOnCompact: {proto.TabletReady, proto.TabletOffLine},
	proto.TabletUnLoading: {proto.TabletOffLine, proto.TabletReady},
	proto.TabletOffLine:   {proto.TabletWaitLoad, proto.TabletOnMerge, proto.TabletDeleted},
	proto.TabletLoadFail:  {proto.TabletWaitLoad, proto.TabletOffLine, proto.TabletDeleted},
	proto.TabletDeleted:   {},
}

func checkStatusSwitch(old, new proto.TabletStatus) bool {
	for _, s := range tabletStatusSwitch[old] {
		if s == new {
			return true
		}
	}
	return false
}

const counterHistory = 8

// Tablet is one catalog entry. It back-references its owning table but never
// owns it; the manager owns both.
type Tablet struct {
	meta  proto.TabletMeta
	table *Table

	updateTimeMs int64
	loadTimeMs   int64
	serverID     string
	expectAddr   string

	counters   []proto.TabletCounter
	avgCounter proto.TabletCounter

	mergePeer string

	lock sync.Mutex
}

func newTablet(meta proto.TabletMeta, table *Table) *Tablet {
	return &Tablet{
		meta:         meta,
		table:        table,
		updateTimeMs: time.Now().UnixMilli(),
	}
}

func (t *Tablet) Less(than btree.Item) bool {
	return t.meta.KeyRange.Start < than.(*Tablet).meta.KeyRange.Start
}

func (t *Tablet) TableName() string { return t.meta.TableName }

func (t *Tablet) Table() *Table { return t.table }

func (t *Tablet) KeyRange() proto.KeyRange {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.meta.KeyRange
}

func (t *Tablet) Path() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.meta.Path
}

func (t *Tablet) TabletNo() proto.TabletNo {
	no, _ := proto.TabletNoFromPath(t.Path())
	return no
}

func (t *Tablet) ServerAddr() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.meta.ServerAddr
}

func (t *Tablet) Status() proto.TabletStatus {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.meta.Status
}

func (t *Tablet) DataSize() int64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.meta.DataSize
}

// ToMeta snapshots the durable descriptor.
func (t *Tablet) ToMeta() proto.TabletMeta {
	t.lock.Lock()
	defer t.lock.Unlock()
	meta := t.meta
	meta.UpdateTimeMs = t.updateTimeMs
	meta.LoadTimeMs = t.loadTimeMs
	meta.ServerID = t.serverID
	meta.ExpectServerAddr = t.expectAddr
	meta.Counter = t.avgCounter
	return meta
}

// SetStatus moves the tablet unconditionally along a legal edge.
func (t *Tablet) SetStatus(new proto.TabletStatus) (proto.TabletStatus, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	old := t.meta.Status
	if !checkStatusSwitch(old, new) {
		return old, false
	}
	t.meta.Status = new
	t.updateTimeMs = time.Now().UnixMilli()
	return old, true
}

// SetStatusIf moves the tablet only from ifOld, along a legal edge.
func (t *Tablet) SetStatusIf(new, ifOld proto.TabletStatus) (proto.TabletStatus, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	old := t.meta.Status
	if old != ifOld || !checkStatusSwitch(old, new) {
		return old, false
	}
	t.meta.Status = new
	t.updateTimeMs = time.Now().UnixMilli()
	return old, true
}

// SetAddrIf updates the serving address only in ifStatus.
func (t *Tablet) SetAddrIf(addr string, ifStatus proto.TabletStatus) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.meta.Status != ifStatus {
		return false
	}
	t.meta.ServerAddr = addr
	return true
}

// SetAddrAndStatusIf updates address and status together, gated on ifOld.
func (t *Tablet) SetAddrAndStatusIf(addr string, new, ifOld proto.TabletStatus) (proto.TabletStatus, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	old := t.meta.Status
	if old != ifOld || !checkStatusSwitch(old, new) {
		return old, false
	}
	t.meta.ServerAddr = addr
	t.meta.Status = new
	t.updateTimeMs = time.Now().UnixMilli()
	return old, true
}

func (t *Tablet) SetAddr(addr string) {
	t.lock.Lock()
	t.meta.ServerAddr = addr
	t.lock.Unlock()
}

func (t *Tablet) SetServerID(id string) {
	t.lock.Lock()
	t.serverID = id
	t.lock.Unlock()
}

func (t *Tablet) ServerID() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.serverID
}

func (t *Tablet) SetExpectServerAddr(addr string) {
	t.lock.Lock()
	t.expectAddr = addr
	t.lock.Unlock()
}

func (t *Tablet) ExpectServerAddr() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.expectAddr
}

func (t *Tablet) SetLoadTime(ms int64) {
	t.lock.Lock()
	t.loadTimeMs = ms
	t.lock.Unlock()
}

func (t *Tablet) UpdateTime() int64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.updateTimeMs
}

// UpdateSize refreshes sizes from a node report.
func (t *Tablet) UpdateSize(meta *proto.TabletMeta) {
	t.lock.Lock()
	t.meta.DataSize = meta.DataSize
	t.meta.LgSize = meta.LgSize
	t.lock.Unlock()
}

// SetCounter folds one report into the rolling average.
func (t *Tablet) SetCounter(c proto.TabletCounter) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.counters = append(t.counters, c)
	if len(t.counters) > counterHistory {
		t.counters = t.counters[1:]
	}
	t.avgCounter = proto.TabletCounter{
		LowReadCell: counterWeightedSum(t.avgCounter.LowReadCell, c.LowReadCell),
		ScanRows:    counterWeightedSum(t.avgCounter.ScanRows, c.ScanRows),
		ReadRows:    counterWeightedSum(t.avgCounter.ReadRows, c.ReadRows),
		WriteRows:   counterWeightedSum(t.avgCounter.WriteRows, c.WriteRows),
		IsOnBusy:    c.IsOnBusy,
	}
}

// AverageCounter returns the smoothed load counter.
func (t *Tablet) AverageCounter() proto.TabletCounter {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.avgCounter
}

// counterWeightedSum smooths a load signal, weighting history 3:1.
func counterWeightedSum(avg, sample uint64) uint64 {
	return (avg*3 + sample) / 4
}

// Verify checks a node report names the tablet the master believes in.
func (t *Tablet) Verify(table, keyStart, keyEnd, path, serverAddr string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.meta.TableName != table ||
		t.meta.KeyRange.Start != keyStart || t.meta.KeyRange.End != keyEnd ||
		t.meta.Path != path || t.meta.ServerAddr != serverAddr {
		return fmt.Errorf("tablet %s/%s mismatches report %s/%s@%s",
			t.meta.TableName, t.meta.Path, table, path, serverAddr)
	}
	return nil
}

// SetMergePeer remembers the merge partner's start key during a merge.
func (t *Tablet) SetMergePeer(peerStart string) {
	t.lock.Lock()
	t.mergePeer = peerStart
	t.lock.Unlock()
}

func (t *Tablet) MergePeer() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.mergePeer
}
