package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootTabletAddressCaching(t *testing.T) {
	ctx := context.Background()
	client := NewMemClient()
	adapter := NewAdapter(client)

	_, err := adapter.RootTabletAddress(ctx, false)
	require.Error(t, err)

	SetNode(client, RootTabletNode, "root:7001")
	addr, err := adapter.RootTabletAddress(ctx, false)
	require.NoError(t, err)
	require.Equal(t, "root:7001", addr)

	// the cache answers until a forced re-read
	SetNode(client, RootTabletNode, "root:7002")
	addr, err = adapter.RootTabletAddress(ctx, false)
	require.NoError(t, err)
	require.Equal(t, "root:7001", addr)

	addr, err = adapter.RootTabletAddress(ctx, true)
	require.NoError(t, err)
	require.Equal(t, "root:7002", addr)
}

func TestRegisterAndKickFencing(t *testing.T) {
	ctx := context.Background()
	client := NewMemClient()
	adapter := NewAdapter(client)

	selfDeleted := make(chan struct{}, 1)
	require.NoError(t, adapter.Register(ctx, "sess-1", "ts1:7002", func() {
		selfDeleted <- struct{}{}
	}))

	nodes, err := adapter.TabletNodes(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"sess-1": "ts1:7002"}, nodes)

	kicked := make(chan struct{}, 1)
	require.NoError(t, adapter.WatchKick(ctx, "sess-1", func() {
		kicked <- struct{}{}
	}))

	require.NoError(t, adapter.KickTabletNode(ctx, "sess-1"))
	select {
	case <-kicked:
	default:
		t.Fatal("kick watch did not fire")
	}
	select {
	case <-selfDeleted:
	default:
		t.Fatal("self-node deletion watch did not fire")
	}

	nodes, err = adapter.TabletNodes(ctx)
	require.NoError(t, err)
	require.Empty(t, nodes)
}

func TestMasterLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	client := NewMemClient()

	require.NoError(t, NewAdapter(client).LockMaster(ctx, "m1:7000", func() {}))
	require.Error(t, NewAdapter(client).LockMaster(ctx, "m2:7000", func() {}))
}
