package tabletmgr

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zmyer/tera/proto"
)

// memMetaWriter keeps meta rows in a map and can be told to fail.
type memMetaWriter struct {
	rows map[string][]byte
	fail bool
	lock sync.Mutex
}

func newMemMetaWriter() *memMetaWriter {
	return &memMetaWriter{rows: make(map[string][]byte)}
}

func (w *memMetaWriter) Write(ctx context.Context, records []MetaRecord) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.fail {
		return context.DeadlineExceeded
	}
	for _, rec := range records {
		if rec.Delete {
			delete(w.rows, rec.Key)
		} else {
			w.rows[rec.Key] = append([]byte(nil), rec.Value...)
		}
	}
	return nil
}

func (w *memMetaWriter) ScanAll(ctx context.Context, fn func(key string, value []byte) error) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	for key, value := range w.rows {
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

func (w *memMetaWriter) has(key string) bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	_, ok := w.rows[key]
	return ok
}

func newTestManager(t *testing.T) (*TabletManager, *memMetaWriter) {
	writer := newMemMetaWriter()
	return NewTabletManager(writer), writer
}

func addTable(t *testing.T, mgr *TabletManager, name string, delimiters ...string) *Table {
	table, err := mgr.AddTable(context.Background(), proto.TableMeta{
		Name:   name,
		Status: proto.TableEnable,
		Schema: proto.TableSchema{RawKey: proto.RawKeyBinary},
	}, delimiters)
	require.NoError(t, err)
	return table
}

func TestAddTableWritesMeta(t *testing.T) {
	mgr, writer := newTestManager(t)
	table := addTable(t, mgr, "lk", "g", "p")

	require.Equal(t, 3, table.TabletCount())
	require.True(t, writer.has(proto.TableMetaKey("lk")))
	require.True(t, writer.has(proto.TabletMetaKey("lk", "")))
	require.True(t, writer.has(proto.TabletMetaKey("lk", "g")))
	require.True(t, writer.has(proto.TabletMetaKey("lk", "p")))

	// ranges chain [""..g), [g..p), [p..inf)
	tablets := table.Tablets()
	require.Equal(t, "", tablets[0].KeyRange().Start)
	require.Equal(t, "g", tablets[0].KeyRange().End)
	require.Equal(t, "", tablets[2].KeyRange().End)
}

func TestAddTableFailedMetaWriteLeavesNothing(t *testing.T) {
	mgr, writer := newTestManager(t)
	writer.fail = true

	_, err := mgr.AddTable(context.Background(), proto.TableMeta{Name: "lk"}, nil)
	require.Error(t, err)
	_, ok := mgr.FindTable("lk")
	require.False(t, ok)
	require.False(t, writer.has(proto.TableMetaKey("lk")))
}

func TestFindTablet(t *testing.T) {
	mgr, _ := newTestManager(t)
	addTable(t, mgr, "lk", "g", "p")

	tablet, err := mgr.FindTablet("lk", "h")
	require.NoError(t, err)
	require.Equal(t, "g", tablet.KeyRange().Start)

	tablet, err = mgr.FindTablet("lk", "zzz")
	require.NoError(t, err)
	require.Equal(t, "p", tablet.KeyRange().Start)

	_, err = mgr.FindTablet("nope", "h")
	require.Error(t, err)
}

func TestStatusSwitchLegality(t *testing.T) {
	require.True(t, checkStatusSwitch(proto.TabletNotInit, proto.TabletWaitLoad))
	require.True(t, checkStatusSwitch(proto.TabletWaitLoad, proto.TabletOnLoad))
	require.True(t, checkStatusSwitch(proto.TabletOnLoad, proto.TabletReady))
	require.True(t, checkStatusSwitch(proto.TabletReady, proto.TabletUnLoading))
	require.True(t, checkStatusSwitch(proto.TabletUnLoading, proto.TabletOffLine))
	require.True(t, checkStatusSwitch(proto.TabletOffLine, proto.TabletWaitLoad))

	require.False(t, checkStatusSwitch(proto.TabletNotInit, proto.TabletReady))
	require.False(t, checkStatusSwitch(proto.TabletReady, proto.TabletDeleted))
	require.False(t, checkStatusSwitch(proto.TabletDeleted, proto.TabletWaitLoad))
}

func TestSetStatusIfGates(t *testing.T) {
	mgr, _ := newTestManager(t)
	table := addTable(t, mgr, "lk")
	tablet := table.Tablets()[0]

	_, ok := tablet.SetStatusIf(proto.TabletWaitLoad, proto.TabletNotInit)
	require.True(t, ok)
	// wrong precondition
	_, ok = tablet.SetStatusIf(proto.TabletReady, proto.TabletNotInit)
	require.False(t, ok)
	// illegal edge
	_, ok = tablet.SetStatusIf(proto.TabletOnSplit, proto.TabletWaitLoad)
	require.False(t, ok)

	_, ok = tablet.SetAddrAndStatusIf("s1", proto.TabletOnLoad, proto.TabletWaitLoad)
	require.True(t, ok)
	require.Equal(t, "s1", tablet.ServerAddr())
}

// Split persistence: the meta batch replaces the parent row with the two
// children; a failed write leaves the catalog unchanged, no phantom tablet.
func TestSplitPersistence(t *testing.T) {
	mgr, writer := newTestManager(t)
	table := addTable(t, mgr, "lk")
	parent := table.Tablets()[0]

	left, right, err := mgr.ApplySplit(context.Background(), parent, "m")
	require.NoError(t, err)
	require.Equal(t, 2, table.TabletCount())
	require.Equal(t, "m", left.KeyRange().End)
	require.Equal(t, "m", right.KeyRange().Start)
	require.True(t, writer.has(proto.TabletMetaKey("lk", "")))
	require.True(t, writer.has(proto.TabletMetaKey("lk", "m")))

	// failed meta write aborts the next split
	writer.fail = true
	_, _, err = mgr.ApplySplit(context.Background(), right, "t")
	require.Error(t, err)
	require.Equal(t, 2, table.TabletCount())
	got, ok := table.GetTablet("m")
	require.True(t, ok)
	require.Equal(t, right, got)
	require.False(t, writer.has(proto.TabletMetaKey("lk", "t")))
}

func TestSplitRejectsOutOfRangeKey(t *testing.T) {
	mgr, _ := newTestManager(t)
	table := addTable(t, mgr, "lk", "m")
	left := table.Tablets()[0]

	_, _, err := mgr.ApplySplit(context.Background(), left, "")
	require.Error(t, err)
	_, _, err = mgr.ApplySplit(context.Background(), left, "m")
	require.Error(t, err)
	_, _, err = mgr.ApplySplit(context.Background(), left, "z")
	require.Error(t, err)
}

func TestMergePersistence(t *testing.T) {
	mgr, writer := newTestManager(t)
	table := addTable(t, mgr, "lk", "m")
	first, second := table.Tablets()[0], table.Tablets()[1]
	for _, tablet := range []*Tablet{first, second} {
		tablet.SetStatus(proto.TabletWaitLoad)
		tablet.SetStatus(proto.TabletOffLine)
	}

	merged, err := mgr.ApplyMerge(context.Background(), first, second)
	require.NoError(t, err)
	require.Equal(t, 1, table.TabletCount())
	require.Equal(t, proto.KeyRange{Start: "", End: ""}, merged.KeyRange())
	require.True(t, writer.has(proto.TabletMetaKey("lk", "")))
	require.False(t, writer.has(proto.TabletMetaKey("lk", "m")))
}

func TestMergeRequiresOfflineContiguous(t *testing.T) {
	mgr, _ := newTestManager(t)
	table := addTable(t, mgr, "lk", "g", "p")
	tablets := table.Tablets()

	// not offline
	_, err := mgr.ApplyMerge(context.Background(), tablets[0], tablets[1])
	require.Error(t, err)

	for _, tablet := range tablets {
		tablet.SetStatus(proto.TabletWaitLoad)
		tablet.SetStatus(proto.TabletOffLine)
	}
	// not contiguous
	_, err = mgr.ApplyMerge(context.Background(), tablets[0], tablets[2])
	require.Error(t, err)

	// failed meta write restores originals
	mgrFail, writer := newTestManager(t)
	tableF := addTable(t, mgrFail, "lk", "m")
	a, b := tableF.Tablets()[0], tableF.Tablets()[1]
	for _, tablet := range []*Tablet{a, b} {
		tablet.SetStatus(proto.TabletWaitLoad)
		tablet.SetStatus(proto.TabletOffLine)
	}
	writer.fail = true
	_, err = mgrFail.ApplyMerge(context.Background(), a, b)
	require.Error(t, err)
	require.Equal(t, 2, tableF.TabletCount())
}

func TestRestoreRoundTrip(t *testing.T) {
	mgr, writer := newTestManager(t)
	table := addTable(t, mgr, "lk", "m")
	tablet := table.Tablets()[1]
	tablet.SetStatus(proto.TabletWaitLoad)
	tablet.SetAddrAndStatusIf("s1", proto.TabletOnLoad, proto.TabletWaitLoad)
	tablet.SetStatusIf(proto.TabletReady, proto.TabletOnLoad)
	require.NoError(t, mgr.WriteTablet(context.Background(), tablet))

	restored := NewTabletManager(writer)
	require.NoError(t, restored.Restore(context.Background()))
	restoredTable, ok := restored.FindTable("lk")
	require.True(t, ok)
	require.Equal(t, 2, restoredTable.TabletCount())

	// restored tablets come back offline awaiting reassignment
	got, ok := restoredTable.GetTablet("m")
	require.True(t, ok)
	require.Equal(t, proto.TabletOffLine, got.Status())

	// the tablet number high-water mark survives restore
	require.Greater(t, restoredTable.NextTabletNo(), proto.TabletNo(2))
}

func TestRenameTable(t *testing.T) {
	mgr, _ := newTestManager(t)
	_, err := mgr.AddTable(context.Background(), proto.TableMeta{
		Name:  "lk#1",
		Alias: "lk",
	}, nil)
	require.NoError(t, err)

	require.NoError(t, mgr.RenameTable(context.Background(), "lk", "lk2"))
	_, ok := mgr.FindTable("lk2")
	require.True(t, ok)
	_, ok = mgr.FindTable("lk")
	require.False(t, ok)

	// without alias indirection rename is refused
	addTable(t, mgr, "plain")
	err = mgr.RenameTable(context.Background(), "plain", "other")
	require.Error(t, err)
}

func TestTabletsForGc(t *testing.T) {
	mgr, _ := newTestManager(t)
	table := addTable(t, mgr, "lk")
	parent := table.Tablets()[0]
	parent.SetStatus(proto.TabletWaitLoad)
	parent.SetAddrAndStatusIf("s1", proto.TabletOnLoad, proto.TabletWaitLoad)
	parent.SetStatusIf(proto.TabletReady, proto.TabletOnLoad)

	left, right, err := mgr.ApplySplit(context.Background(), parent, "m")
	require.NoError(t, err)

	// children still loading: snapshot unreliable
	_, _, ok := table.TabletsForGc()
	require.False(t, ok)

	for _, tablet := range []*Tablet{left, right} {
		tablet.SetStatus(proto.TabletWaitLoad)
		tablet.SetAddrAndStatusIf("s1", proto.TabletOnLoad, proto.TabletWaitLoad)
		tablet.SetStatusIf(proto.TabletReady, proto.TabletOnLoad)
	}
	live, dead, ok := table.TabletsForGc()
	require.True(t, ok)
	require.Contains(t, live, left.TabletNo())
	require.Contains(t, live, right.TabletNo())
	require.Contains(t, dead, proto.TabletNo(1))
}
