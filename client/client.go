package client

import (
	"context"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zmyer/tera/common/nodecli"
	"github.com/zmyer/tera/errors"
	"github.com/zmyer/tera/proto"
	"github.com/zmyer/tera/registry"
)

// Client is the user entry point: table administration through the master
// and table handles for the data path. Several clients in one process share
// the configuration they were built from.
type Client struct {
	cfg    *Config
	master MasterClient
	conns  nodecli.Conns
	reg    registry.Adapter

	tables map[string]*Table
	lock   sync.Mutex
}

// New builds a client over the configured masters and coordination service.
func New(cfg *Config, regClient registry.Client) (*Client, error) {
	cfg.withDefaults()
	if len(cfg.Masters) == 0 {
		return nil, errors.New(errors.BadParam, "no master address configured")
	}
	return &Client{
		cfg:    cfg,
		master: NewMasterClient(cfg.Masters),
		conns:  nodecli.NewConns(),
		reg:    registry.NewAdapter(regClient),
		tables: make(map[string]*Table),
	}, nil
}

// OpenTable returns a routed handle of an enabled table.
func (c *Client) OpenTable(name string) (*Table, *errors.Error) {
	c.lock.Lock()
	if t, ok := c.tables[name]; ok {
		c.lock.Unlock()
		return t, nil
	}
	c.lock.Unlock()

	span, ctx := trace.StartSpanFromContext(context.Background(), "")
	resp, err := c.master.ShowTables(ctx, &proto.ShowTablesRequest{
		StartTableName: name, MaxTablet: 1, Brief: true,
	})
	if err != nil {
		span.Errorf("read table %s meta from master failed: %s", name, err)
		return nil, errors.New(errors.System, "read table meta: %s", err)
	}
	if e := errors.FromStatus(resp.Status); e != nil {
		return nil, e
	}
	var meta *proto.TableMeta
	for i := range resp.TableList {
		if resp.TableList[i].Name == name || resp.TableList[i].Alias == name {
			meta = &resp.TableList[i]
			break
		}
	}
	if meta == nil {
		return nil, errors.New(errors.NotFound, "table %s not found", name)
	}
	if meta.Status != proto.TableEnable {
		return nil, errors.New(errors.BadParam, "table %s is not enabled", name)
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if t, ok := c.tables[name]; ok {
		return t, nil
	}
	t := openTable(meta.Name, meta.CreateTime, c.cfg, c.conns, c.reg)
	c.tables[name] = t
	return t, nil
}

// Close releases every open table and connection.
func (c *Client) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()
	for name, t := range c.tables {
		t.Close()
		delete(c.tables, name)
	}
	c.conns.Close()
}

func statusErr(status proto.StatusCode, err error) *errors.Error {
	if err != nil {
		return errors.New(errors.System, "%s", err)
	}
	return errors.FromStatus(status)
}

// CreateTable creates a table, optionally presplit at the delimiters.
func (c *Client) CreateTable(ctx context.Context, name string, schema proto.TableSchema, delimiters []string) *errors.Error {
	resp, err := c.master.CreateTable(ctx, &proto.CreateTableRequest{
		TableName: name, Schema: schema, Delimiters: delimiters,
	})
	return statusErr(resp.Status, err)
}

// UpdateTable updates column-family schema online; locality-group changes
// need the table disabled first.
func (c *Client) UpdateTable(ctx context.Context, name string, schema proto.TableSchema) *errors.Error {
	resp, err := c.master.UpdateTable(ctx, &proto.UpdateTableRequest{TableName: name, Schema: schema})
	return statusErr(resp.Status, err)
}

// UpdateCheck polls whether a schema update reached every tablet.
func (c *Client) UpdateCheck(ctx context.Context, name string) (bool, *errors.Error) {
	resp, err := c.master.UpdateCheck(ctx, &proto.UpdateCheckRequest{TableName: name})
	return resp.Done, statusErr(resp.Status, err)
}

// DeleteTable removes a disabled table.
func (c *Client) DeleteTable(ctx context.Context, name string) *errors.Error {
	resp, err := c.master.DeleteTable(ctx, &proto.DeleteTableRequest{TableName: name})
	return statusErr(resp.Status, err)
}

// DisableTable takes the table offline.
func (c *Client) DisableTable(ctx context.Context, name string) *errors.Error {
	resp, err := c.master.DisableTable(ctx, &proto.DisableTableRequest{TableName: name})
	return statusErr(resp.Status, err)
}

// EnableTable brings a disabled table back online.
func (c *Client) EnableTable(ctx context.Context, name string) *errors.Error {
	resp, err := c.master.EnableTable(ctx, &proto.EnableTableRequest{TableName: name})
	return statusErr(resp.Status, err)
}

// OperateUser runs one user-administration operation.
func (c *Client) OperateUser(ctx context.Context, op proto.UserOpType, user proto.UserInfo) (*proto.UserInfo, *errors.Error) {
	resp, err := c.master.OperateUser(ctx, &proto.OperateUserRequest{Op: op, User: user})
	return resp.User, statusErr(resp.Status, err)
}

// ShowTables lists tables and tablets from the given position.
func (c *Client) ShowTables(ctx context.Context, req *proto.ShowTablesRequest) (*proto.ShowTablesResponse, *errors.Error) {
	if req.MaxTablet == 0 {
		req.MaxTablet = uint32(c.cfg.ShowMaxNum)
	}
	resp, err := c.master.ShowTables(ctx, req)
	return resp, statusErr(resp.Status, err)
}

// ShowTabletNodes lists one node (by addr) or the whole fleet.
func (c *Client) ShowTabletNodes(ctx context.Context, addr string) (*proto.ShowTabletNodesResponse, *errors.Error) {
	resp, err := c.master.ShowTabletNodes(ctx, &proto.ShowTabletNodesRequest{
		Addr: addr, IsShowAll: addr == "",
	})
	return resp, statusErr(resp.Status, err)
}

// GetSnapshot takes a table snapshot.
func (c *Client) GetSnapshot(ctx context.Context, name string) (uint64, *errors.Error) {
	resp, err := c.master.GetSnapshot(ctx, &proto.GetSnapshotRequest{TableName: name})
	return resp.SnapshotID, statusErr(resp.Status, err)
}

// DelSnapshot drops a table snapshot.
func (c *Client) DelSnapshot(ctx context.Context, name string, id uint64) *errors.Error {
	resp, err := c.master.DelSnapshot(ctx, &proto.DelSnapshotRequest{TableName: name, SnapshotID: id})
	return statusErr(resp.Status, err)
}

// Rollback rolls a table back to a snapshot.
func (c *Client) Rollback(ctx context.Context, name string, snapshotID uint64, rollbackName string) *errors.Error {
	resp, err := c.master.Rollback(ctx, &proto.RollbackRequest{
		TableName: name, SnapshotID: snapshotID, RollbackName: rollbackName,
	})
	return statusErr(resp.Status, err)
}

// CmdCtrl sends a control command to the master.
func (c *Client) CmdCtrl(ctx context.Context, command string, args []string) (string, *errors.Error) {
	resp, err := c.master.CmdCtrl(ctx, &proto.CmdCtrlRequest{Command: command, Args: args})
	return resp.Result, statusErr(resp.Status, err)
}

// RenameTable renames a table's user-visible alias.
func (c *Client) RenameTable(ctx context.Context, oldName, newName string) *errors.Error {
	resp, err := c.master.RenameTable(ctx, &proto.RenameTableRequest{OldName: oldName, NewName: newName})
	return statusErr(resp.Status, err)
}
