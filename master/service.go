package master

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zmyer/tera/errors"
	"github.com/zmyer/tera/proto"
)

// Admin operations, the rpc server's backing logic. Destructive ones are
// refused in safe mode.

func (m *Master) CreateTable(ctx context.Context, req *proto.CreateTableRequest) *proto.CreateTableResponse {
	span := trace.SpanFromContextSafe(ctx)
	resp := &proto.CreateTableResponse{Status: proto.StatusMasterOk}
	if m.inSafeMode() {
		resp.Status = proto.StatusNotPermission
		return resp
	}
	if req.TableName == "" || req.TableName == proto.MetaTableName ||
		strings.ContainsAny(req.TableName, "@\x00") {
		resp.Status = proto.StatusInvalidArgument
		return resp
	}

	meta := proto.TableMeta{
		Name:       req.TableName,
		Status:     proto.TableEnable,
		Schema:     req.Schema,
		CreateTime: time.Now().UnixMilli(),
	}
	if req.Schema.TableRenameable {
		meta.Name = internalName(req.TableName, meta.CreateTime)
		meta.Alias = req.TableName
	}
	table, err := m.mgr.AddTable(ctx, meta, req.Delimiters)
	if err != nil {
		span.Errorf("create table %s: %s", req.TableName, err)
		resp.Status = statusOf(err)
		return resp
	}
	m.loadTable(ctx, table)
	return resp
}

// internalName decouples the durable name from the user-visible one so
// rename only rebinds the alias.
func internalName(name string, createTimeMs int64) string {
	return fmt.Sprintf("%s#%x", name, createTimeMs)
}

func (m *Master) UpdateTable(ctx context.Context, req *proto.UpdateTableRequest) *proto.UpdateTableResponse {
	resp := &proto.UpdateTableResponse{Status: proto.StatusMasterOk}
	if m.inSafeMode() {
		resp.Status = proto.StatusNotPermission
		return resp
	}
	table, ok := m.mgr.FindTable(req.TableName)
	if !ok {
		resp.Status = proto.StatusTableNotExist
		return resp
	}
	// column-family updates are online; locality-group changes need the
	// table disabled
	if len(req.Schema.LocalityGroups) != len(table.Schema().LocalityGroups) &&
		table.Status() != proto.TableDisable {
		resp.Status = proto.StatusTableStatusEnable
		return resp
	}
	if !table.PrepareUpdate(req.Schema) {
		resp.Status = proto.StatusInvalidArgument
		return resp
	}
	if err := m.mgr.WriteTable(ctx, table); err != nil {
		table.AbortUpdate()
		resp.Status = statusOf(err)
		return resp
	}
	return resp
}

func (m *Master) UpdateCheck(ctx context.Context, req *proto.UpdateCheckRequest) *proto.UpdateCheckResponse {
	resp := &proto.UpdateCheckResponse{Status: proto.StatusMasterOk}
	table, ok := m.mgr.FindTable(req.TableName)
	if !ok {
		resp.Status = proto.StatusTableNotExist
		return resp
	}
	if !table.UpdatePending() {
		resp.Done = true
		return resp
	}
	// synced once every tablet is back serving the new schema
	done := true
	for _, tablet := range table.Tablets() {
		if tablet.Status() != proto.TabletReady {
			done = false
			break
		}
	}
	if done {
		table.CommitUpdate()
	}
	resp.Done = done
	return resp
}

func (m *Master) DeleteTable(ctx context.Context, req *proto.DeleteTableRequest) *proto.DeleteTableResponse {
	resp := &proto.DeleteTableResponse{Status: proto.StatusMasterOk}
	if m.inSafeMode() {
		resp.Status = proto.StatusNotPermission
		return resp
	}
	table, ok := m.mgr.FindTable(req.TableName)
	if !ok {
		resp.Status = proto.StatusTableNotExist
		return resp
	}
	name := table.Name()
	if err := m.mgr.DeleteTable(ctx, req.TableName); err != nil {
		resp.Status = statusOf(err)
		return resp
	}
	m.gcStrat.Clear(ctx, name)
	return resp
}

func (m *Master) DisableTable(ctx context.Context, req *proto.DisableTableRequest) *proto.DisableTableResponse {
	resp := &proto.DisableTableResponse{Status: proto.StatusMasterOk}
	if m.inSafeMode() {
		resp.Status = proto.StatusNotPermission
		return resp
	}
	table, ok := m.mgr.FindTable(req.TableName)
	if !ok {
		resp.Status = proto.StatusTableNotExist
		return resp
	}
	old, ok := table.SetStatus(proto.TableDisable)
	if !ok {
		resp.Status = proto.StatusTableStatusDisable
		return resp
	}
	if err := m.mgr.WriteTable(ctx, table); err != nil {
		if old == proto.TableEnable {
			table.SetStatus(proto.TableEnable)
		}
		resp.Status = statusOf(err)
		return resp
	}
	m.unloadTable(ctx, table)
	return resp
}

func (m *Master) EnableTable(ctx context.Context, req *proto.EnableTableRequest) *proto.EnableTableResponse {
	resp := &proto.EnableTableResponse{Status: proto.StatusMasterOk}
	if m.inSafeMode() {
		resp.Status = proto.StatusNotPermission
		return resp
	}
	table, ok := m.mgr.FindTable(req.TableName)
	if !ok {
		resp.Status = proto.StatusTableNotExist
		return resp
	}
	if _, ok := table.SetStatus(proto.TableEnable); !ok {
		resp.Status = proto.StatusTableStatusEnable
		return resp
	}
	if err := m.mgr.WriteTable(ctx, table); err != nil {
		table.SetStatus(proto.TableDisable)
		resp.Status = statusOf(err)
		return resp
	}
	m.loadTable(ctx, table)
	return resp
}

func (m *Master) OperateUser(ctx context.Context, req *proto.OperateUserRequest) *proto.OperateUserResponse {
	user, status := m.users.Operate(ctx, req)
	return &proto.OperateUserResponse{Status: status, User: user}
}

func (m *Master) ShowTables(ctx context.Context, req *proto.ShowTablesRequest) *proto.ShowTablesResponse {
	resp := &proto.ShowTablesResponse{Status: proto.StatusMasterOk}
	max := int(req.MaxTablet)
	tables, tablets, isMore := m.mgr.SearchTable(req.StartTableName, req.StartTabletKey, max)
	resp.TableList = tables
	if !req.Brief {
		resp.TabletList = tablets
	}
	resp.IsMore = isMore
	return resp
}

func (m *Master) ShowTabletNodes(ctx context.Context, req *proto.ShowTabletNodesRequest) *proto.ShowTabletNodesResponse {
	resp := &proto.ShowTabletNodesResponse{Status: proto.StatusMasterOk}
	if req.Addr != "" && !req.IsShowAll {
		node, ok := m.cluster.GetNode(req.Addr)
		if !ok {
			resp.Status = proto.StatusInvalidArgument
			return resp
		}
		resp.NodeList = []proto.TabletNodeInfo{node.Info()}
		for _, tablet := range m.mgr.TabletsOn(req.Addr) {
			resp.TabletList = append(resp.TabletList, tablet.ToMeta())
		}
		return resp
	}
	for _, node := range m.cluster.Nodes() {
		resp.NodeList = append(resp.NodeList, node.Info())
	}
	return resp
}

func (m *Master) GetSnapshot(ctx context.Context, req *proto.GetSnapshotRequest) *proto.GetSnapshotResponse {
	resp := &proto.GetSnapshotResponse{Status: proto.StatusMasterOk}
	if m.inSafeMode() {
		resp.Status = proto.StatusNotPermission
		return resp
	}
	table, ok := m.mgr.FindTable(req.TableName)
	if !ok {
		resp.Status = proto.StatusTableNotExist
		return resp
	}
	id := uint64(time.Now().UnixNano())
	table.AddSnapshot(id)
	if err := m.mgr.WriteTable(ctx, table); err != nil {
		table.DelSnapshot(id)
		resp.Status = statusOf(err)
		return resp
	}
	resp.SnapshotID = id
	return resp
}

func (m *Master) DelSnapshot(ctx context.Context, req *proto.DelSnapshotRequest) *proto.DelSnapshotResponse {
	resp := &proto.DelSnapshotResponse{Status: proto.StatusMasterOk}
	if m.inSafeMode() {
		resp.Status = proto.StatusNotPermission
		return resp
	}
	table, ok := m.mgr.FindTable(req.TableName)
	if !ok {
		resp.Status = proto.StatusTableNotExist
		return resp
	}
	if !table.DelSnapshot(req.SnapshotID) {
		resp.Status = proto.StatusSnapshotNotExist
		return resp
	}
	if err := m.mgr.WriteTable(ctx, table); err != nil {
		table.AddSnapshot(req.SnapshotID)
		resp.Status = statusOf(err)
		return resp
	}
	return resp
}

func (m *Master) Rollback(ctx context.Context, req *proto.RollbackRequest) *proto.RollbackResponse {
	resp := &proto.RollbackResponse{Status: proto.StatusMasterOk}
	if m.inSafeMode() {
		resp.Status = proto.StatusNotPermission
		return resp
	}
	table, ok := m.mgr.FindTable(req.TableName)
	if !ok {
		resp.Status = proto.StatusTableNotExist
		return resp
	}
	found := false
	for _, id := range table.Snapshots() {
		if id == req.SnapshotID {
			found = true
			break
		}
	}
	if !found {
		resp.Status = proto.StatusSnapshotNotExist
		return resp
	}
	table.AddRollback(req.RollbackName)
	if err := m.mgr.WriteTable(ctx, table); err != nil {
		resp.Status = statusOf(err)
		return resp
	}
	return resp
}

func (m *Master) RenameTable(ctx context.Context, req *proto.RenameTableRequest) *proto.RenameTableResponse {
	resp := &proto.RenameTableResponse{Status: proto.StatusMasterOk}
	if m.inSafeMode() {
		resp.Status = proto.StatusNotPermission
		return resp
	}
	if err := m.mgr.RenameTable(ctx, req.OldName, req.NewName); err != nil {
		resp.Status = statusOf(err)
		return resp
	}
	return resp
}

func (m *Master) CmdCtrl(ctx context.Context, req *proto.CmdCtrlRequest) *proto.CmdCtrlResponse {
	span := trace.SpanFromContextSafe(ctx)
	resp := &proto.CmdCtrlResponse{Status: proto.StatusMasterOk}

	switch req.Command {
	case "safemode":
		if len(req.Args) == 0 {
			resp.Status = proto.StatusInvalidArgument
			return resp
		}
		switch req.Args[0] {
		case "enter":
			m.SetMasterStatus(StatusReadonly, true)
			resp.Result = "safe mode entered"
		case "leave":
			m.SetMasterStatus(StatusRunning, true)
			resp.Result = "safe mode left"
		case "get":
			if m.inSafeMode() {
				resp.Result = "readonly"
			} else {
				resp.Result = "running"
			}
		default:
			resp.Status = proto.StatusInvalidArgument
		}

	case "kick":
		if len(req.Args) == 0 {
			resp.Status = proto.StatusInvalidArgument
			return resp
		}
		if err := m.cluster.Kick(ctx, req.Args[0]); err != nil {
			span.Errorf("kick %s: %s", req.Args[0], err)
			resp.Status = proto.StatusServerError
			return resp
		}
		resp.Result = "kicked " + req.Args[0]

	case "meta-dump":
		if err := m.mgr.DumpMetaTable(ctx); err != nil {
			resp.Status = proto.StatusServerError
			return resp
		}
		resp.Result = "meta table dumped"

	default:
		resp.Status = proto.StatusInvalidArgument
	}
	return resp
}

func statusOf(err error) proto.StatusCode {
	switch {
	case err == nil:
		return proto.StatusMasterOk
	case err == errors.ErrTableNotExist:
		return proto.StatusTableNotExist
	case err == errors.ErrTableExist:
		return proto.StatusTableExist
	case err == errors.ErrTabletNotExist:
		return proto.StatusTableNotFound
	}
	switch errors.CodeOf(err) {
	case errors.BadParam:
		return proto.StatusInvalidArgument
	case errors.NoAuth:
		return proto.StatusNotPermission
	case errors.NotFound:
		return proto.StatusTableNotExist
	default:
		return proto.StatusServerError
	}
}
