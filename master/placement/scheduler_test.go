package placement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zmyer/tera/master/cluster"
	"github.com/zmyer/tera/master/tabletmgr"
	"github.com/zmyer/tera/proto"
	"github.com/zmyer/tera/registry"
)

type memMetaWriter struct{ rows map[string][]byte }

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
	return nil
}

func nodeWithSize(t *testing.T, c *cluster.Cluster, regClient registry.Client, session, addr string, size int64) *cluster.Node {
	t.Helper()
	require.NoError(t, regClient.CreateEphemeral(context.Background(), "/ts/"+session, addr))
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	node, ok := c.GetNode(addr)
	require.True(t, ok)
	node.UpdateFromQuery(&proto.TabletNodeInfo{}, 1, size)
	return node
}

func TestSizeSchedulerRanking(t *testing.T) {
	regClient := registry.NewMemClient()
	c := cluster.NewCluster(registry.NewAdapter(regClient))
	nodeWithSize(t, c, regClient, "a", "s1:7002", 500<<20)
	nodeWithSize(t, c, regClient, "b", "s2:7002", 10<<20)
	nodeWithSize(t, c, regClient, "c", "s3:7002", 5<<30)

	sched := NewSizeScheduler()
	ranked := sched.Rank(c.Nodes())
	require.Equal(t, "s2:7002", ranked[0].Addr())
	require.Equal(t, "s3:7002", ranked[2].Addr())
	require.True(t, sched.NeedBalance(c.Nodes()))
}

func TestBalancerMovesFromHeaviest(t *testing.T) {
	regClient := registry.NewMemClient()
	c := cluster.NewCluster(registry.NewAdapter(regClient))
	nodeWithSize(t, c, regClient, "a", "s1:7002", 10<<30)
	nodeWithSize(t, c, regClient, "b", "s2:7002", 1<<20)

	mgr := tabletmgr.NewTabletManager(&memMetaWriter{rows: make(map[string][]byte)})
	table, err := mgr.AddTable(context.Background(), proto.TableMeta{
		Name: "lk", Status: proto.TableEnable,
	}, []string{"m"})
	require.NoError(t, err)
	for _, tablet := range table.Tablets() {
		tablet.SetStatus(proto.TabletWaitLoad)
		tablet.SetAddrAndStatusIf("s1:7002", proto.TabletOnLoad, proto.TabletWaitLoad)
		tablet.SetStatusIf(proto.TabletReady, proto.TabletOnLoad)
	}

	type move struct {
		tablet *tabletmgr.Tablet
		dest   string
	}
	var moves []move
	balancer := NewBalancer(Config{MaxMoveNum: 1, MaxRoundNum: 1}, mgr, c, func(tablet *tabletmgr.Tablet, dest string) {
		moves = append(moves, move{tablet, dest})
	})

	moved := balancer.Balance(context.Background())
	require.Equal(t, 1, moved)
	require.Len(t, moves, 1)
	require.Equal(t, "s2:7002", moves[0].dest)
}

func TestPickDestHonorsExpectedServer(t *testing.T) {
	regClient := registry.NewMemClient()
	c := cluster.NewCluster(registry.NewAdapter(regClient))
	nodeWithSize(t, c, regClient, "a", "s1:7002", 10<<30)
	nodeWithSize(t, c, regClient, "b", "s2:7002", 1<<20)

	mgr := tabletmgr.NewTabletManager(&memMetaWriter{rows: make(map[string][]byte)})
	table, err := mgr.AddTable(context.Background(), proto.TableMeta{Name: "lk"}, nil)
	require.NoError(t, err)
	tablet := table.Tablets()[0]

	balancer := NewBalancer(Config{}, mgr, c, func(*tabletmgr.Tablet, string) {})

	dest, ok := balancer.PickDest(tablet)
	require.True(t, ok)
	require.Equal(t, "s2:7002", dest)

	tablet.SetExpectServerAddr("s1:7002")
	dest, ok = balancer.PickDest(tablet)
	require.True(t, ok)
	require.Equal(t, "s1:7002", dest)

	// a vanished expected server falls back to the ranking
	tablet.SetExpectServerAddr("gone:1")
	dest, ok = balancer.PickDest(tablet)
	require.True(t, ok)
	require.Equal(t, "s2:7002", dest)
}
