package application

import (
	"fmt"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
)

// ConnectionRegistry 维护用户到存活连接以及连接到用户的双向映射。
// byConn 中的每个连接恰好属于 byUser 的一个集合，反之亦然；
// 没有连接的用户不留 key。非并发安全，由 Relay 串行访问
type ConnectionRegistry struct {
	byUser map[entity.UserID]map[entity.ConnectionID]struct{}
	byConn map[entity.ConnectionID]entity.UserID
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byUser: make(map[entity.UserID]map[entity.ConnectionID]struct{}),
		byConn: make(map[entity.ConnectionID]entity.UserID),
	}
}

// Register 把 connID 绑定到 userID，first 表示该用户连接数从 0 变为 1。
// 重复注册同一对无操作；把 connID 绑定到另一个用户会失败
func (r *ConnectionRegistry) Register(connID entity.ConnectionID, userID entity.UserID) (first bool, err error) {
	if owner, ok := r.byConn[connID]; ok {
		if owner != userID {
			return false, fmt.Errorf("%w: %s is %s, not %s", entity.ErrIdentityConflict, connID, owner, userID)
		}
		return false, nil
	}

	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[entity.ConnectionID]struct{})
		r.byUser[userID] = conns
	}
	conns[connID] = struct{}{}
	r.byConn[connID] = userID

	return len(conns) == 1, nil
}

// Unregister 移除 connID；未知连接（重复断开）时 ok 为 false，
// last 表示所属用户连接数从 1 变为 0
func (r *ConnectionRegistry) Unregister(connID entity.ConnectionID) (userID entity.UserID, last bool, ok bool) {
	userID, ok = r.byConn[connID]
	if !ok {
		return "", false, false
	}
	delete(r.byConn, connID)

	conns := r.byUser[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, userID)
		return userID, true, true
	}
	return userID, false, true
}

func (r *ConnectionRegistry) IsOnline(userID entity.UserID) bool {
	return len(r.byUser[userID]) > 0
}

func (r *ConnectionRegistry) UserOf(connID entity.ConnectionID) (entity.UserID, bool) {
	userID, ok := r.byConn[connID]
	return userID, ok
}

// Connections 返回 userID 的连接，无序
func (r *ConnectionRegistry) Connections(userID entity.UserID) []entity.ConnectionID {
	conns := r.byUser[userID]
	out := make([]entity.ConnectionID, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	return out
}

// OnlineUserIDs 返回至少有一个连接的用户，无序
func (r *ConnectionRegistry) OnlineUserIDs() []entity.UserID {
	out := make([]entity.UserID, 0, len(r.byUser))
	for id := range r.byUser {
		out = append(out, id)
	}
	return out
}

func (r *ConnectionRegistry) OnlineUsers() int {
	return len(r.byUser)
}

func (r *ConnectionRegistry) RegisteredConnections() int {
	return len(r.byConn)
}
