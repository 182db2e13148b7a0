package out

import (
	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
)

// Transport 连接级的扇出原语。分组成员按连接维护，
// 连接关闭时由传输层自行清理
type Transport interface {
	// AddToGroup 幂等
	AddToGroup(connID entity.ConnectionID, group string)
	// RemoveFromGroup 不在组内时无操作
	RemoveFromGroup(connID entity.ConnectionID, group string)
	// EmitToConnection 单播到一个连接
	EmitToConnection(connID entity.ConnectionID, event entity.EventKind, payload any) error
	// EmitToGroup 发给组内所有成员，空组不算错误
	EmitToGroup(group string, event entity.EventKind, payload any) error
	// BroadcastExcept 发给所有不在该组内的连接
	BroadcastExcept(group string, event entity.EventKind, payload any) error
}
