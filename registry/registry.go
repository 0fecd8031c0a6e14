package registry

import (
	"context"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zmyer/tera/errors"
)

// Client is the opaque coordination service (zookeeper-like). Only the
// operations the cluster needs are named; the real implementation lives
// outside this repository.
type Client interface {
	CreateEphemeral(ctx context.Context, path, value string) error
	Read(ctx context.Context, path string) (string, error)
	// List returns child name -> value for a directory node.
	List(ctx context.Context, dir string) (map[string]string, error)
	WatchDelete(ctx context.Context, path string, onDelete func()) error
	Delete(ctx context.Context, path string) error
}

const (
	rootTabletPath = "/root_tablet"
	serverDirPath  = "/ts"
	kickDirPath    = "/kick"
	masterLockPath = "/master_lock"
)

// Adapter resolves the root tablet and fences processes through registry
// sessions. The registry is the authoritative fencing mechanism; a live RPC
// channel alone does not fence.
type Adapter interface {
	// RootTabletAddress returns the root tablet's server address, reading
	// through the cache unless forceFresh is set. Empty means unknown.
	RootTabletAddress(ctx context.Context, forceFresh bool) (string, error)
	// Register creates the ephemeral liveness node of a tablet server.
	// Deletion of the node kills the process via onSelfNodeDeleted.
	Register(ctx context.Context, sessionID, addr string, onSelfNodeDeleted func()) error
	// WatchKick self-exits the process when the master kicks the session.
	WatchKick(ctx context.Context, sessionID string, onKick func()) error
	// LockMaster takes the master lease; the winner is the acting master.
	LockMaster(ctx context.Context, addr string, onLost func()) error
	// TabletNodes lists the registered tablet servers, session id -> addr.
	TabletNodes(ctx context.Context) (map[string]string, error)
	// KickTabletNode deletes a server's kick node, forcing it to self-exit.
	KickTabletNode(ctx context.Context, sessionID string) error
}

type adapter struct {
	client Client

	rootAddr string
	lock     sync.Mutex
}

// NewAdapter wraps the coordination client.
func NewAdapter(client Client) Adapter {
	return &adapter{client: client}
}

func (a *adapter) RootTabletAddress(ctx context.Context, forceFresh bool) (string, error) {
	a.lock.Lock()
	cached := a.rootAddr
	a.lock.Unlock()
	if cached != "" && !forceFresh {
		return cached, nil
	}

	span := trace.SpanFromContextSafe(ctx)
	addr, err := a.client.Read(ctx, rootTabletPath)
	if err != nil {
		span.Warnf("read root tablet address failed: %s", err)
		return "", err
	}
	if addr == "" {
		return "", errors.ErrNoRootTablet
	}

	a.lock.Lock()
	a.rootAddr = addr
	a.lock.Unlock()
	return addr, nil
}

func (a *adapter) Register(ctx context.Context, sessionID, addr string, onSelfNodeDeleted func()) error {
	path := serverDirPath + "/" + sessionID
	if err := a.client.CreateEphemeral(ctx, path, addr); err != nil {
		return err
	}
	if err := a.client.CreateEphemeral(ctx, kickDirPath+"/"+sessionID, addr); err != nil {
		return err
	}
	return a.client.WatchDelete(ctx, path, onSelfNodeDeleted)
}

func (a *adapter) WatchKick(ctx context.Context, sessionID string, onKick func()) error {
	return a.client.WatchDelete(ctx, kickDirPath+"/"+sessionID, onKick)
}

func (a *adapter) LockMaster(ctx context.Context, addr string, onLost func()) error {
	if err := a.client.CreateEphemeral(ctx, masterLockPath, addr); err != nil {
		return err
	}
	return a.client.WatchDelete(ctx, masterLockPath, onLost)
}

func (a *adapter) TabletNodes(ctx context.Context) (map[string]string, error) {
	return a.client.List(ctx, serverDirPath)
}

func (a *adapter) KickTabletNode(ctx context.Context, sessionID string) error {
	if err := a.client.Delete(ctx, kickDirPath+"/"+sessionID); err != nil {
		return err
	}
	return a.client.Delete(ctx, serverDirPath+"/"+sessionID)
}
