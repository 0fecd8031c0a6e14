package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zmyer/tera/registry"
)

func TestRefreshTracksFleet(t *testing.T) {
	ctx := context.Background()
	regClient := registry.NewMemClient()
	c := NewCluster(registry.NewAdapter(regClient))

	require.NoError(t, regClient.CreateEphemeral(ctx, "/ts/s1", "ts1:7002"))
	require.NoError(t, regClient.CreateEphemeral(ctx, "/ts/s2", "ts2:7002"))

	gone, err := c.Refresh(ctx)
	require.NoError(t, err)
	require.Empty(t, gone)
	require.Equal(t, 2, c.Size())

	node, ok := c.GetNode("ts1:7002")
	require.True(t, ok)
	require.Equal(t, NodeReady, node.Status())

	// one session vanishes
	require.NoError(t, regClient.Delete(ctx, "/ts/s1"))
	gone, err = c.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, gone, 1)
	require.Equal(t, "ts1:7002", gone[0].Addr())
	require.Equal(t, NodeOffline, gone[0].Status())
	require.Equal(t, 1, c.Size())
}

func TestKickRemovesNode(t *testing.T) {
	ctx := context.Background()
	regClient := registry.NewMemClient()
	adapter := registry.NewAdapter(regClient)
	c := NewCluster(adapter)

	require.NoError(t, adapter.Register(ctx, "s1", "ts1:7002", func() {}))
	_, err := c.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, c.Size())

	require.NoError(t, c.Kick(ctx, "ts1:7002"))
	require.Equal(t, 0, c.Size())

	nodes, err := adapter.TabletNodes(ctx)
	require.NoError(t, err)
	require.Empty(t, nodes)
}
