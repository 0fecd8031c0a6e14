package master

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/zmyer/tera/common/kvstore"
	"github.com/zmyer/tera/proto"
)

const userCF = kvstore.CF("user")

// userManager keeps the user/group records in the master's local store.
type userManager struct {
	kv kvstore.Store

	users map[string]*proto.UserInfo
	lock  sync.Mutex
}

func newUserManager(kv kvstore.Store) *userManager {
	if kv != nil && !kv.CheckColumns(userCF) {
		_ = kv.CreateColumn(userCF)
	}
	u := &userManager{kv: kv, users: make(map[string]*proto.UserInfo)}
	u.restore()
	return u
}

func (u *userManager) restore() {
	if u.kv == nil {
		return
	}
	_ = u.kv.List(context.Background(), userCF, nil, func(key, value []byte) bool {
		info := &proto.UserInfo{}
		if err := json.Unmarshal(value, info); err == nil {
			u.users[info.Name] = info
		}
		return true
	})
}

func (u *userManager) persist(ctx context.Context, info *proto.UserInfo) error {
	if u.kv == nil {
		return nil
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return u.kv.SetRaw(ctx, userCF, []byte(info.Name), data)
}

// Operate runs one user-administration request.
func (u *userManager) Operate(ctx context.Context, req *proto.OperateUserRequest) (*proto.UserInfo, proto.StatusCode) {
	u.lock.Lock()
	defer u.lock.Unlock()

	name := req.User.Name
	existing, known := u.users[name]

	switch req.Op {
	case proto.UserOpCreate:
		if known {
			return nil, proto.StatusInvalidArgument
		}
		info := req.User
		if err := u.persist(ctx, &info); err != nil {
			return nil, proto.StatusServerError
		}
		u.users[name] = &info
		return &info, proto.StatusMasterOk

	case proto.UserOpDelete:
		if !known {
			return nil, proto.StatusNotPermission
		}
		if u.kv != nil {
			if err := u.kv.Delete(ctx, userCF, []byte(name)); err != nil {
				return nil, proto.StatusServerError
			}
		}
		delete(u.users, name)
		return nil, proto.StatusMasterOk

	case proto.UserOpChangePwd:
		if !known {
			return nil, proto.StatusNotPermission
		}
		existing.Token = req.User.Token
		if err := u.persist(ctx, existing); err != nil {
			return nil, proto.StatusServerError
		}
		return existing, proto.StatusMasterOk

	case proto.UserOpShow:
		if !known {
			return nil, proto.StatusNotPermission
		}
		shown := *existing
		shown.Token = ""
		return &shown, proto.StatusMasterOk

	case proto.UserOpAddToGroup:
		if !known {
			return nil, proto.StatusNotPermission
		}
		for _, g := range req.User.Groups {
			existing.Groups = appendUnique(existing.Groups, g)
		}
		if err := u.persist(ctx, existing); err != nil {
			return nil, proto.StatusServerError
		}
		return existing, proto.StatusMasterOk

	case proto.UserOpDeleteFromGroup:
		if !known {
			return nil, proto.StatusNotPermission
		}
		for _, g := range req.User.Groups {
			existing.Groups = removeString(existing.Groups, g)
		}
		if err := u.persist(ctx, existing); err != nil {
			return nil, proto.StatusServerError
		}
		return existing, proto.StatusMasterOk
	}
	return nil, proto.StatusInvalidArgument
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
