package availability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zmyer/tera/master/tabletmgr"
	"github.com/zmyer/tera/proto"
)

type memMetaWriter struct{}

func (memMetaWriter) Write(ctx context.Context, records []tabletmgr.MetaRecord) error { return nil }
func (memMetaWriter) ScanAll(ctx context.Context, fn func(key string, value []byte) error) error {
	return nil
}

func TestTrackerCountsUnservedTablets(t *testing.T) {
	mgr := tabletmgr.NewTabletManager(memMetaWriter{})
	table, err := mgr.AddTable(context.Background(), proto.TableMeta{
		Name: "lk", Status: proto.TableEnable,
	}, []string{"m"})
	require.NoError(t, err)

	tracker := NewTracker(Config{}, mgr)
	tracker.Sweep(context.Background())
	require.Equal(t, 2, tracker.NotServingCount())

	// one tablet comes up
	tablet := table.Tablets()[0]
	tablet.SetStatus(proto.TabletWaitLoad)
	tablet.SetAddrAndStatusIf("s1", proto.TabletOnLoad, proto.TabletWaitLoad)
	tablet.SetStatusIf(proto.TabletReady, proto.TabletOnLoad)

	tracker.Sweep(context.Background())
	require.Equal(t, 1, tracker.NotServingCount())

	// both up: windows close
	tablet = table.Tablets()[1]
	tablet.SetStatus(proto.TabletWaitLoad)
	tablet.SetAddrAndStatusIf("s1", proto.TabletOnLoad, proto.TabletWaitLoad)
	tablet.SetStatusIf(proto.TabletReady, proto.TabletOnLoad)

	tracker.Sweep(context.Background())
	require.Equal(t, 0, tracker.NotServingCount())
}
