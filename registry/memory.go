package registry

import (
	"context"
	"sync"

	"github.com/zmyer/tera/errors"
)

// memClient is an in-process coordination client used by tests and the
// single-process bootstrap mode.
type memClient struct {
	nodes    map[string]string
	watchers map[string][]func()
	lock     sync.Mutex
}

// NewMemClient builds an in-memory coordination client.
func NewMemClient() Client {
	return &memClient{
		nodes:    make(map[string]string),
		watchers: make(map[string][]func()),
	}
}

func (m *memClient) CreateEphemeral(ctx context.Context, path, value string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.nodes[path]; ok {
		return errors.New(errors.BadParam, "node %s already exists", path)
	}
	m.nodes[path] = value
	return nil
}

func (m *memClient) Read(ctx context.Context, path string) (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	value, ok := m.nodes[path]
	if !ok {
		return "", errors.New(errors.NotFound, "node %s not found", path)
	}
	return value, nil
}

func (m *memClient) List(ctx context.Context, dir string) (map[string]string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	children := make(map[string]string)
	prefix := dir + "/"
	for path, value := range m.nodes {
		if len(path) > len(prefix) && path[:len(prefix)] == prefix {
			children[path[len(prefix):]] = value
		}
	}
	return children, nil
}

func (m *memClient) WatchDelete(ctx context.Context, path string, onDelete func()) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.watchers[path] = append(m.watchers[path], onDelete)
	return nil
}

func (m *memClient) Delete(ctx context.Context, path string) error {
	m.lock.Lock()
	delete(m.nodes, path)
	watchers := m.watchers[path]
	delete(m.watchers, path)
	m.lock.Unlock()

	for _, w := range watchers {
		w()
	}
	return nil
}

// SetNode force-writes a node without ephemeral semantics, for bootstrap.
func SetNode(c Client, path, value string) {
	if mc, ok := c.(*memClient); ok {
		mc.lock.Lock()
		mc.nodes[path] = value
		mc.lock.Unlock()
	}
}

// RootTabletNode is the well-known path of the root tablet address.
const RootTabletNode = rootTabletPath
