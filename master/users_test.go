package master

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zmyer/tera/proto"
)

func TestUserManagerOperations(t *testing.T) {
	ctx := context.Background()
	users := newUserManager(nil)

	user, status := users.Operate(ctx, &proto.OperateUserRequest{
		Op:   proto.UserOpCreate,
		User: proto.UserInfo{Name: "alice", Token: "secret"},
	})
	require.Equal(t, proto.StatusMasterOk, status)
	require.Equal(t, "alice", user.Name)

	_, status = users.Operate(ctx, &proto.OperateUserRequest{
		Op:   proto.UserOpCreate,
		User: proto.UserInfo{Name: "alice"},
	})
	require.Equal(t, proto.StatusInvalidArgument, status)

	user, status = users.Operate(ctx, &proto.OperateUserRequest{
		Op:   proto.UserOpAddToGroup,
		User: proto.UserInfo{Name: "alice", Groups: []string{"admin", "dev"}},
	})
	require.Equal(t, proto.StatusMasterOk, status)
	require.ElementsMatch(t, []string{"admin", "dev"}, user.Groups)

	user, status = users.Operate(ctx, &proto.OperateUserRequest{
		Op:   proto.UserOpDeleteFromGroup,
		User: proto.UserInfo{Name: "alice", Groups: []string{"admin"}},
	})
	require.Equal(t, proto.StatusMasterOk, status)
	require.Equal(t, []string{"dev"}, user.Groups)

	// show hides the token
	user, status = users.Operate(ctx, &proto.OperateUserRequest{
		Op:   proto.UserOpShow,
		User: proto.UserInfo{Name: "alice"},
	})
	require.Equal(t, proto.StatusMasterOk, status)
	require.Empty(t, user.Token)

	_, status = users.Operate(ctx, &proto.OperateUserRequest{
		Op:   proto.UserOpDelete,
		User: proto.UserInfo{Name: "alice"},
	})
	require.Equal(t, proto.StatusMasterOk, status)

	_, status = users.Operate(ctx, &proto.OperateUserRequest{
		Op:   proto.UserOpShow,
		User: proto.UserInfo{Name: "alice"},
	})
	require.Equal(t, proto.StatusNotPermission, status)
}
