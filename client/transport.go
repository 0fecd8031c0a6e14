package client

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/common/rpc"

	"github.com/zmyer/tera/proto"
)

// MasterClient is the admin-path transport to the master.
type MasterClient interface {
	CreateTable(ctx context.Context, req *proto.CreateTableRequest) (*proto.CreateTableResponse, error)
	UpdateTable(ctx context.Context, req *proto.UpdateTableRequest) (*proto.UpdateTableResponse, error)
	UpdateCheck(ctx context.Context, req *proto.UpdateCheckRequest) (*proto.UpdateCheckResponse, error)
	DeleteTable(ctx context.Context, req *proto.DeleteTableRequest) (*proto.DeleteTableResponse, error)
	DisableTable(ctx context.Context, req *proto.DisableTableRequest) (*proto.DisableTableResponse, error)
	EnableTable(ctx context.Context, req *proto.EnableTableRequest) (*proto.EnableTableResponse, error)
	OperateUser(ctx context.Context, req *proto.OperateUserRequest) (*proto.OperateUserResponse, error)
	ShowTables(ctx context.Context, req *proto.ShowTablesRequest) (*proto.ShowTablesResponse, error)
	ShowTabletNodes(ctx context.Context, req *proto.ShowTabletNodesRequest) (*proto.ShowTabletNodesResponse, error)
	GetSnapshot(ctx context.Context, req *proto.GetSnapshotRequest) (*proto.GetSnapshotResponse, error)
	DelSnapshot(ctx context.Context, req *proto.DelSnapshotRequest) (*proto.DelSnapshotResponse, error)
	Rollback(ctx context.Context, req *proto.RollbackRequest) (*proto.RollbackResponse, error)
	CmdCtrl(ctx context.Context, req *proto.CmdCtrlRequest) (*proto.CmdCtrlResponse, error)
	RenameTable(ctx context.Context, req *proto.RenameTableRequest) (*proto.RenameTableResponse, error)
}

type masterClient struct {
	hosts  []string
	client rpc.Client
}

// NewMasterClient builds the http rpc master client over the configured hosts.
func NewMasterClient(hosts []string) MasterClient {
	return &masterClient{
		hosts:  hosts,
		client: rpc.NewClient(&rpc.Config{}),
	}
}

func (m *masterClient) post(ctx context.Context, path string, args, ret interface{}) error {
	var err error
	for _, host := range m.hosts {
		err = m.client.PostWith(ctx, host+path, ret, args)
		if err == nil {
			return nil
		}
	}
	return err
}

func (m *masterClient) CreateTable(ctx context.Context, req *proto.CreateTableRequest) (*proto.CreateTableResponse, error) {
	ret := &proto.CreateTableResponse{}
	return ret, m.post(ctx, "/table/create", req, ret)
}

func (m *masterClient) UpdateTable(ctx context.Context, req *proto.UpdateTableRequest) (*proto.UpdateTableResponse, error) {
	ret := &proto.UpdateTableResponse{}
	return ret, m.post(ctx, "/table/update", req, ret)
}

func (m *masterClient) UpdateCheck(ctx context.Context, req *proto.UpdateCheckRequest) (*proto.UpdateCheckResponse, error) {
	ret := &proto.UpdateCheckResponse{}
	return ret, m.post(ctx, "/table/updatecheck", req, ret)
}

func (m *masterClient) DeleteTable(ctx context.Context, req *proto.DeleteTableRequest) (*proto.DeleteTableResponse, error) {
	ret := &proto.DeleteTableResponse{}
	return ret, m.post(ctx, "/table/delete", req, ret)
}

func (m *masterClient) DisableTable(ctx context.Context, req *proto.DisableTableRequest) (*proto.DisableTableResponse, error) {
	ret := &proto.DisableTableResponse{}
	return ret, m.post(ctx, "/table/disable", req, ret)
}

func (m *masterClient) EnableTable(ctx context.Context, req *proto.EnableTableRequest) (*proto.EnableTableResponse, error) {
	ret := &proto.EnableTableResponse{}
	return ret, m.post(ctx, "/table/enable", req, ret)
}

func (m *masterClient) OperateUser(ctx context.Context, req *proto.OperateUserRequest) (*proto.OperateUserResponse, error) {
	ret := &proto.OperateUserResponse{}
	return ret, m.post(ctx, "/user/operate", req, ret)
}

func (m *masterClient) ShowTables(ctx context.Context, req *proto.ShowTablesRequest) (*proto.ShowTablesResponse, error) {
	ret := &proto.ShowTablesResponse{}
	return ret, m.post(ctx, "/table/show", req, ret)
}

func (m *masterClient) ShowTabletNodes(ctx context.Context, req *proto.ShowTabletNodesRequest) (*proto.ShowTabletNodesResponse, error) {
	ret := &proto.ShowTabletNodesResponse{}
	return ret, m.post(ctx, "/node/show", req, ret)
}

func (m *masterClient) GetSnapshot(ctx context.Context, req *proto.GetSnapshotRequest) (*proto.GetSnapshotResponse, error) {
	ret := &proto.GetSnapshotResponse{}
	return ret, m.post(ctx, "/snapshot/get", req, ret)
}

func (m *masterClient) DelSnapshot(ctx context.Context, req *proto.DelSnapshotRequest) (*proto.DelSnapshotResponse, error) {
	ret := &proto.DelSnapshotResponse{}
	return ret, m.post(ctx, "/snapshot/del", req, ret)
}

func (m *masterClient) Rollback(ctx context.Context, req *proto.RollbackRequest) (*proto.RollbackResponse, error) {
	ret := &proto.RollbackResponse{}
	return ret, m.post(ctx, "/snapshot/rollback", req, ret)
}

func (m *masterClient) CmdCtrl(ctx context.Context, req *proto.CmdCtrlRequest) (*proto.CmdCtrlResponse, error) {
	ret := &proto.CmdCtrlResponse{}
	return ret, m.post(ctx, "/master/cmdctrl", req, ret)
}

func (m *masterClient) RenameTable(ctx context.Context, req *proto.RenameTableRequest) (*proto.RenameTableResponse, error) {
	ret := &proto.RenameTableResponse{}
	return ret, m.post(ctx, "/table/rename", req, ret)
}
