package master

import (
	"net/http"

	"github.com/cubefs/cubefs/blobstore/common/rpc"

	"github.com/zmyer/tera/proto"
)

// RPCServer exposes the master operations over the http rpc router.
type RPCServer struct {
	master *Master
}

// NewRPCServer wraps the master.
func NewRPCServer(m *Master) *RPCServer {
	return &RPCServer{master: m}
}

// NewHandler registers every route and returns the router.
func (s *RPCServer) NewHandler() *rpc.Router {
	router := rpc.New()
	router.Handle(http.MethodPost, "/table/create", s.CreateTable, rpc.OptArgsBody())
	router.Handle(http.MethodPost, "/table/update", s.UpdateTable, rpc.OptArgsBody())
	router.Handle(http.MethodPost, "/table/updatecheck", s.UpdateCheck, rpc.OptArgsBody())
	router.Handle(http.MethodPost, "/table/delete", s.DeleteTable, rpc.OptArgsBody())
	router.Handle(http.MethodPost, "/table/disable", s.DisableTable, rpc.OptArgsBody())
	router.Handle(http.MethodPost, "/table/enable", s.EnableTable, rpc.OptArgsBody())
	router.Handle(http.MethodPost, "/table/show", s.ShowTables, rpc.OptArgsBody())
	router.Handle(http.MethodPost, "/table/rename", s.RenameTable, rpc.OptArgsBody())
	router.Handle(http.MethodPost, "/user/operate", s.OperateUser, rpc.OptArgsBody())
	router.Handle(http.MethodPost, "/node/show", s.ShowTabletNodes, rpc.OptArgsBody())
	router.Handle(http.MethodPost, "/snapshot/get", s.GetSnapshot, rpc.OptArgsBody())
	router.Handle(http.MethodPost, "/snapshot/del", s.DelSnapshot, rpc.OptArgsBody())
	router.Handle(http.MethodPost, "/snapshot/rollback", s.Rollback, rpc.OptArgsBody())
	router.Handle(http.MethodPost, "/master/cmdctrl", s.CmdCtrl, rpc.OptArgsBody())
	return router
}

func (s *RPCServer) CreateTable(c *rpc.Context) {
	args := &proto.CreateTableRequest{}
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(s.master.CreateTable(c.Request.Context(), args))
}

func (s *RPCServer) UpdateTable(c *rpc.Context) {
	args := &proto.UpdateTableRequest{}
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(s.master.UpdateTable(c.Request.Context(), args))
}

func (s *RPCServer) UpdateCheck(c *rpc.Context) {
	args := &proto.UpdateCheckRequest{}
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(s.master.UpdateCheck(c.Request.Context(), args))
}

func (s *RPCServer) DeleteTable(c *rpc.Context) {
	args := &proto.DeleteTableRequest{}
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(s.master.DeleteTable(c.Request.Context(), args))
}

func (s *RPCServer) DisableTable(c *rpc.Context) {
	args := &proto.DisableTableRequest{}
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(s.master.DisableTable(c.Request.Context(), args))
}

func (s *RPCServer) EnableTable(c *rpc.Context) {
	args := &proto.EnableTableRequest{}
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(s.master.EnableTable(c.Request.Context(), args))
}

func (s *RPCServer) ShowTables(c *rpc.Context) {
	args := &proto.ShowTablesRequest{}
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(s.master.ShowTables(c.Request.Context(), args))
}

func (s *RPCServer) RenameTable(c *rpc.Context) {
	args := &proto.RenameTableRequest{}
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(s.master.RenameTable(c.Request.Context(), args))
}

func (s *RPCServer) OperateUser(c *rpc.Context) {
	args := &proto.OperateUserRequest{}
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(s.master.OperateUser(c.Request.Context(), args))
}

func (s *RPCServer) ShowTabletNodes(c *rpc.Context) {
	args := &proto.ShowTabletNodesRequest{}
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(s.master.ShowTabletNodes(c.Request.Context(), args))
}

func (s *RPCServer) GetSnapshot(c *rpc.Context) {
	args := &proto.GetSnapshotRequest{}
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(s.master.GetSnapshot(c.Request.Context(), args))
}

func (s *RPCServer) DelSnapshot(c *rpc.Context) {
	args := &proto.DelSnapshotRequest{}
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(s.master.DelSnapshot(c.Request.Context(), args))
}

func (s *RPCServer) Rollback(c *rpc.Context) {
	args := &proto.RollbackRequest{}
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(s.master.Rollback(c.Request.Context(), args))
}

func (s *RPCServer) CmdCtrl(c *rpc.Context) {
	args := &proto.CmdCtrlRequest{}
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(s.master.CmdCtrl(c.Request.Context(), args))
}
