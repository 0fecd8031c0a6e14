package client

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/zmyer/tera/proto"
)

// metaNodeStatus is the freshness state of one cached tablet range.
type metaNodeStatus int

const (
	metaNormal metaNodeStatus = iota + 1
	metaWaitUpdate
	metaUpdating
	metaDelayUpdate
)

// metaNode is one entry of the meta cache, ordered by key range start.
type metaNode struct {
	meta         proto.TabletMeta
	status       metaNodeStatus
	updateTimeMs int64
}

func (n *metaNode) Less(than btree.Item) bool {
	return n.meta.KeyRange.Start < than.(*metaNode).meta.KeyRange.Start
}

func pivot(keyStart string) *metaNode {
	return &metaNode{meta: proto.TabletMeta{KeyRange: proto.KeyRange{Start: keyStart}}}
}

// wakeFunc resumes pending tasks after their row's range became Normal.
type wakeFunc func(addr string, metaTimeMs int64, taskIDs []int64)

// metaCache is the key-sorted interval map from row key to tablet location.
// One mutex guards the tree, the pending-task lists and the scan budget.
type metaCache struct {
	cfg *Config

	tree    *btree.BTree
	pending map[string][]int64

	updatingCount int

	triggerScan func()
	delayTask   func(d time.Duration, fn func())
	wake        wakeFunc
	taskAlive   func(id int64) bool

	lock sync.Mutex
}

func newMetaCache(cfg *Config) *metaCache {
	return &metaCache{
		cfg:     cfg,
		tree:    btree.New(16),
		pending: make(map[string][]int64),
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// lookup locates the node covering key; the lock must be held.
func (c *metaCache) lookup(key string) *metaNode {
	var found *metaNode
	c.tree.DescendLessOrEqual(pivot(key), func(i btree.Item) bool {
		found = i.(*metaNode)
		return false
	})
	if found == nil {
		return nil
	}
	end := found.meta.KeyRange.End
	if end != "" && end <= key {
		return nil
	}
	return found
}

// Route resolves row to a server address, or parks the task until a meta
// refresh delivers a Normal range covering it. internalErr and metaTsMs come
// from the task's last attempt; a retryable routing fault with a stamp at
// least as fresh as the cache entry forces a refresh.
func (c *metaCache) Route(row string, taskID int64, internalErr proto.StatusCode, metaTsMs int64) (addr string, metaTimeMs int64, ok bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	node := c.lookup(row)
	if node == nil {
		c.pending[row] = append(c.pending[row], taskID)
		c.insertProbe(row)
		c.updateMetaLocked()
		return "", 0, false
	}
	if node.status != metaNormal {
		c.pending[row] = append(c.pending[row], taskID)
		return "", 0, false
	}
	if (internalErr == proto.StatusKeyNotInRange || internalErr == proto.StatusConnectError) &&
		metaTsMs >= node.updateTimeMs {
		c.pending[row] = append(c.pending[row], taskID)
		c.refreshLocked(node)
		return "", 0, false
	}
	return node.meta.ServerAddr, node.updateTimeMs, true
}

// ScheduleUpdate forces a refresh of the range covering row without parking
// any task. Used by the timeout path after a routing fault.
func (c *metaCache) ScheduleUpdate(row string, metaTsMs int64) {
	c.lock.Lock()
	defer c.lock.Unlock()

	node := c.lookup(row)
	if node == nil {
		c.insertProbe(row)
		c.updateMetaLocked()
		return
	}
	if node.status == metaNormal && metaTsMs >= node.updateTimeMs {
		c.refreshLocked(node)
	}
}

// insertProbe adds a singleton WaitUpdate range [row, row\0); lock held.
func (c *metaCache) insertProbe(row string) {
	c.tree.ReplaceOrInsert(&metaNode{
		meta: proto.TabletMeta{
			KeyRange: proto.KeyRange{Start: row, End: proto.NextKey(row)},
		},
		status: metaWaitUpdate,
	})
}

// refreshLocked moves node to WaitUpdate now or DelayUpdate behind the
// min-refresh interval; lock held.
func (c *metaCache) refreshLocked(node *metaNode) {
	wait := time.Duration(node.updateTimeMs+int64(c.cfg.UpdateMetaInternalMs)-nowMs()) * time.Millisecond
	if wait <= 0 {
		node.status = metaWaitUpdate
		c.updateMetaLocked()
		return
	}
	node.status = metaDelayUpdate
	start, end := node.meta.KeyRange.Start, node.meta.KeyRange.End
	c.delayTask(wait, func() {
		c.delayUpdateFired(start, end)
	})
}

func (c *metaCache) delayUpdateFired(start, end string) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.tree.AscendGreaterOrEqual(pivot(start), func(i btree.Item) bool {
		node := i.(*metaNode)
		if end != "" && node.meta.KeyRange.End > end {
			return false
		}
		if node.status == metaDelayUpdate {
			node.status = metaWaitUpdate
		}
		return node.meta.KeyRange.End != ""
	})
	c.updateMetaLocked()
}

// updateMetaLocked kicks the scanner when a scan slot is free; lock held.
// The trigger runs on its own goroutine because the scanner re-enters the
// cache to claim its scan range.
func (c *metaCache) updateMetaLocked() {
	if c.updatingCount >= c.cfg.UpdateMetaConcurrency {
		return
	}
	if c.triggerScan != nil {
		go c.triggerScan()
	}
}

// NextScanRange coalesces consecutive WaitUpdate ranges into one scan window
// and marks them Updating. expandEnd widens the scan past end up to the next
// fresh range so one round trip refreshes more than strictly asked for.
func (c *metaCache) NextScanRange() (start, end, expandEnd string, ok bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.updatingCount >= c.cfg.UpdateMetaConcurrency {
		return "", "", "", false
	}

	need := false
	c.tree.Ascend(func(i btree.Item) bool {
		node := i.(*metaNode)
		switch {
		case node.status != metaWaitUpdate && need:
			expandEnd = node.meta.KeyRange.Start
			return false
		case node.status != metaWaitUpdate:
			return true
		case !need:
			need = true
			start = node.meta.KeyRange.Start
			end = node.meta.KeyRange.End
		case node.meta.KeyRange.Start == end:
			end = node.meta.KeyRange.End
		default:
			expandEnd = node.meta.KeyRange.Start
			node.status = metaWaitUpdate
			return false
		}
		node.status = metaUpdating
		return true
	})
	if !need {
		return "", "", "", false
	}
	c.updatingCount++
	return start, end, expandEnd, true
}

// ScanDone releases one scan slot.
func (c *metaCache) ScanDone() {
	c.lock.Lock()
	c.updatingCount--
	c.lock.Unlock()
}

// GiveupUpdate reverts Updating ranges in [start, end) to WaitUpdate after a
// failed scan and prunes pending entries of tasks that already timed out.
// Live pending tasks stay parked; they re-arm on the next scan.
func (c *metaCache) GiveupUpdate(start, end string) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.tree.AscendGreaterOrEqual(pivot(start), func(i btree.Item) bool {
		node := i.(*metaNode)
		if end != "" && node.meta.KeyRange.Start >= end {
			return false
		}
		if node.status == metaUpdating {
			node.status = metaWaitUpdate
		}
		return true
	})

	for row, ids := range c.pending {
		if row < start || (end != "" && row >= end) {
			continue
		}
		alive := ids[:0]
		for _, id := range ids {
			if c.taskAlive == nil || c.taskAlive(id) {
				alive = append(alive, id)
			}
		}
		if len(alive) == 0 {
			delete(c.pending, row)
		} else {
			c.pending[row] = alive
		}
	}
}

// Update reconciles one returned tablet range against the cache and wakes
// pending tasks now covered by it. The five boundary cases keep the covered
// ranges disjoint.
func (c *metaCache) Update(meta *proto.TabletMeta) {
	c.lock.Lock()

	newStart := meta.KeyRange.Start
	newEnd := meta.KeyRange.End

	var overlapped []*metaNode
	scanFrom := newStart
	c.tree.DescendLessOrEqual(pivot(newStart), func(i btree.Item) bool {
		scanFrom = i.(*metaNode).meta.KeyRange.Start
		return false
	})
	c.tree.AscendGreaterOrEqual(pivot(scanFrom), func(i btree.Item) bool {
		node := i.(*metaNode)
		if newEnd != "" && node.meta.KeyRange.Start >= newEnd {
			return false
		}
		overlapped = append(overlapped, node)
		return true
	})

	for _, old := range overlapped {
		oldStart := old.meta.KeyRange.Start
		oldEnd := old.meta.KeyRange.End
		switch {
		case oldStart < newStart:
			if oldEnd != "" && oldEnd <= newStart {
				// |--old--|
				//            |----new----|
				continue
			}
			if newEnd == "" || (oldEnd != "" && oldEnd <= newEnd) {
				//      |--old--|
				//            |----new----|
				old.meta.KeyRange.End = newStart
			} else {
				//      |--------old--------|
				//            |----new----|
				right := *old
				right.meta.KeyRange.Start = newEnd
				old.meta.KeyRange.End = newStart
				c.tree.ReplaceOrInsert(&right)
			}
		default:
			if newEnd == "" || (oldEnd != "" && oldEnd <= newEnd) {
				//            |--old--|
				//            |----new----|
				c.tree.Delete(old)
			} else {
				//              |------old------|
				//            |----new----|
				right := *old
				right.meta.KeyRange.Start = newEnd
				c.tree.Delete(old)
				c.tree.ReplaceOrInsert(&right)
			}
		}
	}

	node := &metaNode{
		meta:         *meta,
		status:       metaNormal,
		updateTimeMs: nowMs(),
	}
	c.tree.ReplaceOrInsert(node)

	addr := meta.ServerAddr
	metaTime := node.updateTimeMs
	var woken []int64
	for row, ids := range c.pending {
		if row < newStart || (newEnd != "" && row >= newEnd) {
			continue
		}
		woken = append(woken, ids...)
		delete(c.pending, row)
	}
	wake := c.wake
	c.lock.Unlock()

	if len(woken) > 0 && wake != nil {
		wake(addr, metaTime, woken)
	}
}

// cookieEntry is the persisted form of one cache entry.
type cookieEntry struct {
	Meta         proto.TabletMeta `json:"meta"`
	UpdateTimeMs int64            `json:"update_time_ms"`
}

// Snapshot dumps the cached entries for the cookie store, whatever their
// status; entries without a table name or path are skipped.
func (c *metaCache) Snapshot() []cookieEntry {
	c.lock.Lock()
	defer c.lock.Unlock()

	entries := make([]cookieEntry, 0, c.tree.Len())
	c.tree.Ascend(func(i btree.Item) bool {
		node := i.(*metaNode)
		if node.meta.TableName == "" || node.meta.Path == "" {
			return true
		}
		entries = append(entries, cookieEntry{Meta: node.meta, UpdateTimeMs: node.updateTimeMs})
		return true
	})
	return entries
}

// Restore seeds the cache from cookie entries; the cookie is advisory and
// any divergence is repaired by the first failing request's refresh.
func (c *metaCache) Restore(entries []cookieEntry) {
	c.lock.Lock()
	defer c.lock.Unlock()

	for i := range entries {
		e := entries[i]
		c.tree.ReplaceOrInsert(&metaNode{
			meta:         e.Meta,
			status:       metaNormal,
			updateTimeMs: e.UpdateTimeMs,
		})
	}
}

// RangeOf returns the cached range covering key.
func (c *metaCache) RangeOf(key string) (proto.KeyRange, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	node := c.lookup(key)
	if node == nil || node.status != metaNormal {
		return proto.KeyRange{}, false
	}
	return node.meta.KeyRange, true
}

// Entries returns every cached range whatever its status, for tests and
// listings.
func (c *metaCache) Entries() []proto.TabletMeta {
	c.lock.Lock()
	defer c.lock.Unlock()

	var metas []proto.TabletMeta
	c.tree.Ascend(func(i btree.Item) bool {
		metas = append(metas, i.(*metaNode).meta)
		return true
	})
	return metas
}
