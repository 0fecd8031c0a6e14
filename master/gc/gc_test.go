package gc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zmyer/tera/common/fsenv"
	"github.com/zmyer/tera/master/tabletmgr"
	"github.com/zmyer/tera/proto"
)

type memMetaWriter struct {
	rows map[string][]byte
}

func (w *memMetaWriter) Write(ctx context.Context, records []tabletmgr.MetaRecord) error {
	for _, rec := range records {
		if rec.Delete {
			delete(w.rows, rec.Key)
		} else {
			w.rows[rec.Key] = rec.Value
		}
	}
	return nil
}

func (w *memMetaWriter) ScanAll(ctx context.Context, fn func(key string, value []byte) error) error {
	for key, value := range w.rows {
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

// gcFixture builds a table whose tablet 1 died in a split into 2 and 3, with
// tablet 1's sst files on disk.
type gcFixture struct {
	mgr    *tabletmgr.TabletManager
	env    fsenv.Env
	prefix string
	table  string
}

func newGcFixture(t *testing.T) *gcFixture {
	mgr := tabletmgr.NewTabletManager(&memMetaWriter{rows: make(map[string][]byte)})
	table, err := mgr.AddTable(context.Background(), proto.TableMeta{
		Name:   "lk",
		Status: proto.TableEnable,
	}, nil)
	require.NoError(t, err)

	parent := table.Tablets()[0]
	ready(t, parent)
	left, right, err := mgr.ApplySplit(context.Background(), parent, "m")
	require.NoError(t, err)
	ready(t, left)
	ready(t, right)

	prefix := t.TempDir()
	for _, file := range []string{"00000100.sst", "00000101.sst"} {
		path := filepath.Join(prefix, "lk", proto.TabletPathFromNo(1), "0", file)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("sst"), 0o644))
	}

	return &gcFixture{mgr: mgr, env: fsenv.NewPosixEnv(), prefix: prefix, table: "lk"}
}

func ready(t *testing.T, tablet *tabletmgr.Tablet) {
	t.Helper()
	_, ok := tablet.SetStatusIf(proto.TabletWaitLoad, tablet.Status())
	require.True(t, ok)
	_, ok = tablet.SetAddrAndStatusIf("s1", proto.TabletOnLoad, proto.TabletWaitLoad)
	require.True(t, ok)
	_, ok = tablet.SetStatusIf(proto.TabletReady, proto.TabletOnLoad)
	require.True(t, ok)
}

func (f *gcFixture) sstPath(fileNo uint64) string {
	return proto.SSTFilePath(f.prefix, f.table, 1, 0, proto.BuildFullFileNumber(1, fileNo))
}

func (f *gcFixture) queryResponse(liveFiles []uint64, reportTablets ...proto.TabletNo) *proto.QueryResponse {
	resp := &proto.QueryResponse{Status: proto.StatusTabletNodeOk}
	for _, no := range reportTablets {
		resp.TabletMetaList = append(resp.TabletMetaList, proto.TabletMeta{
			TableName: f.table,
			Path:      proto.TabletPathFromNo(no),
			Status:    proto.TabletReady,
		})
	}
	inh := proto.InheritedLiveFiles{TableName: f.table}
	lg := proto.LgInheritedLiveFiles{LgNo: 0}
	for _, fileNo := range liveFiles {
		lg.FileNumbers = append(lg.FileNumbers, proto.BuildFullFileNumber(1, fileNo))
	}
	inh.LgLiveFiles = append(inh.LgLiveFiles, lg)
	resp.InhLiveFiles = append(resp.InhLiveFiles, inh)
	return resp
}

// Incremental non-deletion: a file still referenced by a live report
// survives; once a later cycle's report drops it, it goes.
func TestIncrementalGcNonDeletion(t *testing.T) {
	f := newGcFixture(t)
	ctx := context.Background()
	strat := NewIncrementalStrategy(f.mgr, f.env, f.prefix, NewStorageDeps(nil))

	require.True(t, strat.PreQuery(ctx))
	time.Sleep(5 * time.Millisecond)
	strat.OnQueryResponse(ctx, f.queryResponse([]uint64{100}, 2, 3))
	strat.PostQuery(ctx)

	// 100 is inherited by a live tablet, 101 is not
	_, err := os.Stat(f.sstPath(100))
	require.NoError(t, err)
	_, err = os.Stat(f.sstPath(101))
	require.True(t, os.IsNotExist(err))

	// next cycle: the report no longer carries 100
	require.True(t, strat.PreQuery(ctx))
	time.Sleep(5 * time.Millisecond)
	strat.OnQueryResponse(ctx, f.queryResponse(nil, 2, 3))
	strat.PostQuery(ctx)

	_, err = os.Stat(f.sstPath(100))
	require.True(t, os.IsNotExist(err))
	// empty lg and tablet dirs are removed with the last file
	_, err = os.Stat(filepath.Join(f.prefix, f.table, proto.TabletPathFromNo(1)))
	require.True(t, os.IsNotExist(err))
}

// No deletion happens until every live tablet has reported since the death.
func TestIncrementalGcWaitsForAllLiveTablets(t *testing.T) {
	f := newGcFixture(t)
	ctx := context.Background()
	strat := NewIncrementalStrategy(f.mgr, f.env, f.prefix, NewStorageDeps(nil))

	require.True(t, strat.PreQuery(ctx))
	time.Sleep(5 * time.Millisecond)
	// only tablet 2 reports; tablet 3 never does
	strat.OnQueryResponse(ctx, f.queryResponse(nil, 2))
	strat.PostQuery(ctx)

	_, err := os.Stat(f.sstPath(100))
	require.NoError(t, err)
	_, err = os.Stat(f.sstPath(101))
	require.NoError(t, err)
}

func TestIncrementalGcClear(t *testing.T) {
	f := newGcFixture(t)
	ctx := context.Background()
	strat := NewIncrementalStrategy(f.mgr, f.env, f.prefix, NewStorageDeps(nil))

	require.True(t, strat.PreQuery(ctx))
	strat.Clear(ctx, f.table)

	// cleared books: nothing deletable even after full reports
	time.Sleep(5 * time.Millisecond)
	strat.OnQueryResponse(ctx, f.queryResponse(nil, 2, 3))
	strat.PostQuery(ctx)
	_, err := os.Stat(f.sstPath(100))
	require.NoError(t, err)
}

// Batch strategy deletes candidates only after every live tablet confirmed.
func TestBatchGc(t *testing.T) {
	f := newGcFixture(t)
	ctx := context.Background()
	strat := NewBatchStrategy(f.mgr, f.env, f.prefix)

	require.True(t, strat.PreQuery(ctx))
	// only one live tablet confirms: nothing is deleted
	strat.OnQueryResponse(ctx, f.queryResponse([]uint64{100}, 2))
	strat.PostQuery(ctx)
	_, err := os.Stat(f.sstPath(101))
	require.NoError(t, err)

	require.True(t, strat.PreQuery(ctx))
	strat.OnQueryResponse(ctx, f.queryResponse([]uint64{100}, 2, 3))
	strat.PostQuery(ctx)

	_, err = os.Stat(f.sstPath(100))
	require.NoError(t, err)
	_, err = os.Stat(f.sstPath(101))
	require.True(t, os.IsNotExist(err))
}
