package client

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zmyer/tera/proto"
)

func testCache(t *testing.T) *metaCache {
	cfg := &Config{}
	cfg.withDefaults()
	c := newMetaCache(cfg)
	c.delayTask = func(d time.Duration, fn func()) {}
	return c
}

func tabletAt(start, end, addr string) *proto.TabletMeta {
	return &proto.TabletMeta{
		TableName:  "t1",
		KeyRange:   proto.KeyRange{Start: start, End: end},
		Path:       proto.TabletPathFromNo(1),
		ServerAddr: addr,
		Status:     proto.TabletReady,
	}
}

func requireDisjoint(t *testing.T, c *metaCache) {
	entries := c.Entries()
	sorted := append([]proto.TabletMeta(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].KeyRange.Start < sorted[j].KeyRange.Start
	})
	for i := 1; i < len(sorted); i++ {
		prev := sorted[i-1].KeyRange
		require.NotEmpty(t, prev.End, "an infinite range must be the last")
		require.LessOrEqual(t, prev.End, sorted[i].KeyRange.Start,
			"ranges [%q,%q) and [%q,%q) overlap",
			prev.Start, prev.End, sorted[i].KeyRange.Start, sorted[i].KeyRange.End)
	}
}

func TestMetaCacheLookup(t *testing.T) {
	c := testCache(t)
	c.Update(tabletAt("a", "n", "s1"))
	c.Update(tabletAt("n", "", "s2"))

	addr, _, ok := c.Route("m", 1, 0, 0)
	require.True(t, ok)
	require.Equal(t, "s1", addr)

	addr, _, ok = c.Route("n", 2, 0, 0)
	require.True(t, ok)
	require.Equal(t, "s2", addr)

	addr, _, ok = c.Route("zzz", 3, 0, 0)
	require.True(t, ok)
	require.Equal(t, "s2", addr)

	// below every known range
	_, _, ok = c.Route("A", 4, 0, 0)
	require.False(t, ok)
}

func TestMetaCacheMissInsertsProbe(t *testing.T) {
	c := testCache(t)
	kicked := make(chan struct{}, 1)
	c.triggerScan = func() { kicked <- struct{}{} }

	_, _, ok := c.Route("m", 7, 0, 0)
	require.False(t, ok)

	select {
	case <-kicked:
	case <-time.After(time.Second):
		t.Fatal("miss did not trigger a scan")
	}

	start, end, _, ok := c.NextScanRange()
	require.True(t, ok)
	require.Equal(t, "m", start)
	require.Equal(t, proto.NextKey("m"), end)
}

func TestMetaCacheReconcileCases(t *testing.T) {
	newRange := func() *metaCache {
		c := testCache(t)
		c.Update(tabletAt("d", "h", "old"))
		return c
	}

	// disjoint left
	c := newRange()
	c.Update(tabletAt("h", "m", "new"))
	requireDisjoint(t, c)
	require.Len(t, c.Entries(), 2)

	// partial left overlap shrinks the old end
	c = newRange()
	c.Update(tabletAt("f", "m", "new"))
	requireDisjoint(t, c)
	entries := c.Entries()
	require.Equal(t, "f", entries[0].KeyRange.End)

	// contained splits the old entry
	c = newRange()
	c.Update(tabletAt("e", "g", "new"))
	requireDisjoint(t, c)
	require.Len(t, c.Entries(), 3)

	// covering drops the old entry
	c = newRange()
	c.Update(tabletAt("a", "z", "new"))
	requireDisjoint(t, c)
	entries = c.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "new", entries[0].ServerAddr)

	// partial right overlap shrinks the old start
	c = newRange()
	c.Update(tabletAt("a", "f", "new"))
	requireDisjoint(t, c)
	entries = c.Entries()
	require.Equal(t, "f", entries[1].KeyRange.Start)
	require.Equal(t, "old", entries[1].ServerAddr)

	// covering with an infinite new range
	c = newRange()
	c.Update(tabletAt("a", "", "new"))
	requireDisjoint(t, c)
	require.Len(t, c.Entries(), 1)
}

func TestMetaCacheWakesPendingTasks(t *testing.T) {
	c := testCache(t)
	var woken []int64
	var wokenAddr string
	c.wake = func(addr string, metaTimeMs int64, ids []int64) {
		wokenAddr = addr
		woken = append(woken, ids...)
	}

	_, _, ok := c.Route("m", 41, 0, 0)
	require.False(t, ok)
	_, _, ok = c.Route("x", 42, 0, 0)
	require.False(t, ok)

	c.Update(tabletAt("a", "n", "s1"))
	require.Equal(t, []int64{41}, woken)
	require.Equal(t, "s1", wokenAddr)

	c.Update(tabletAt("n", "", "s2"))
	require.Equal(t, []int64{41, 42}, woken)
}

func TestMetaCacheRefreshOnStaleError(t *testing.T) {
	c := testCache(t)
	c.cfg.UpdateMetaInternalMs = 3600000 // force the delay path
	delayed := make(chan time.Duration, 1)
	c.delayTask = func(d time.Duration, fn func()) { delayed <- d }

	c.Update(tabletAt("a", "n", "s1"))
	_, metaTs, ok := c.Route("m", 1, 0, 0)
	require.True(t, ok)

	// an older stamp routes normally: the cache already refreshed past it
	addr, _, ok := c.Route("m", 2, proto.StatusKeyNotInRange, metaTs-10)
	require.True(t, ok)
	require.Equal(t, "s1", addr)

	// a stamp at least as fresh forces a refresh instead
	_, _, ok = c.Route("m", 1, proto.StatusKeyNotInRange, metaTs)
	require.False(t, ok)
	select {
	case d := <-delayed:
		require.Greater(t, d, time.Duration(0))
	case <-time.After(time.Second):
		t.Fatal("no delayed refresh scheduled")
	}
}

func TestMetaCacheScanRangeCoalescing(t *testing.T) {
	c := testCache(t)
	c.cfg.UpdateMetaInternalMs = 0
	c.Update(tabletAt("a", "f", "s1"))
	c.Update(tabletAt("f", "k", "s1"))
	c.Update(tabletAt("k", "p", "s2"))

	c.ScheduleUpdate("b", nowMs()+1)
	c.ScheduleUpdate("g", nowMs()+1)

	start, end, expand, ok := c.NextScanRange()
	require.True(t, ok)
	require.Equal(t, "a", start)
	require.Equal(t, "k", end)
	require.Equal(t, "k", expand)

	// both ranges now count as updating; nothing more to scan
	_, _, _, ok = c.NextScanRange()
	require.False(t, ok)
	c.ScanDone()
}

func TestMetaCacheCookieRoundTrip(t *testing.T) {
	c := testCache(t)
	c.Update(tabletAt("a", "n", "s1"))
	c.Update(tabletAt("n", "", "s2"))

	entries := c.Snapshot()
	require.Len(t, entries, 2)

	restored := testCache(t)
	restored.Restore(entries)
	addr, _, ok := restored.Route("m", 1, 0, 0)
	require.True(t, ok)
	require.Equal(t, "s1", addr)
	requireDisjoint(t, restored)
}
