package application

import (
	"sort"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/ports/out"
)

// RoomTracker 记录已加入的会话，按连接维护，
// 同一用户的两个标签页在不同房间时互不影响。路由本身走传输层分组
// 非并发安全，由 Relay 串行访问
type RoomTracker struct {
	transport out.Transport
	byConn    map[entity.ConnectionID]map[entity.ConversationID]struct{}
}

func NewRoomTracker(transport out.Transport) *RoomTracker {
	return &RoomTracker{
		transport: transport,
		byConn:    make(map[entity.ConnectionID]map[entity.ConversationID]struct{}),
	}
}

// JoinPersonal 无条件把 connID 加入 user_<id>
func (t *RoomTracker) JoinPersonal(connID entity.ConnectionID, userID entity.UserID) {
	t.transport.AddToGroup(connID, entity.UserGroup(userID))
}

// Join 幂等，返回 connID 是否已在房间内
func (t *RoomTracker) Join(connID entity.ConnectionID, convID entity.ConversationID) (already bool) {
	rooms, ok := t.byConn[connID]
	if !ok {
		rooms = make(map[entity.ConversationID]struct{})
		t.byConn[connID] = rooms
	}
	_, already = rooms[convID]
	rooms[convID] = struct{}{}

	t.transport.AddToGroup(connID, entity.ConversationGroup(convID))
	return already
}

// Leave connID 不在房间内时什么都不做
func (t *RoomTracker) Leave(connID entity.ConnectionID, convID entity.ConversationID) {
	if rooms, ok := t.byConn[connID]; ok {
		delete(rooms, convID)
		if len(rooms) == 0 {
			delete(t.byConn, connID)
		}
	}
	t.transport.RemoveFromGroup(connID, entity.ConversationGroup(convID))
}

// Drop 忘掉 connID，传输层在关闭时已把它移出分组
func (t *RoomTracker) Drop(connID entity.ConnectionID) {
	delete(t.byConn, connID)
}

// Rooms 返回 conns 加入的会话并集，已排序
func (t *RoomTracker) Rooms(conns ...entity.ConnectionID) []entity.ConversationID {
	set := make(map[entity.ConversationID]struct{})
	for _, c := range conns {
		for conv := range t.byConn[c] {
			set[conv] = struct{}{}
		}
	}
	out := make([]entity.ConversationID, 0, len(set))
	for conv := range set {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
