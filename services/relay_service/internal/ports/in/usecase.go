package in

import (
	"context"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
)

// RelayUseCase 连接生命周期与事件处理，由传输层适配器调用
type RelayUseCase interface {
	// Connect 新的传输连接，发送 join 之前保持空闲
	Connect(ctx context.Context, connID entity.ConnectionID)
	// Handle 处理 connID 发来的一条已校验事件
	Handle(ctx context.Context, connID entity.ConnectionID, event entity.InboundEvent) error
	// Disconnect 唯一的清理路径，可重复调用
	Disconnect(ctx context.Context, connID entity.ConnectionID)
}

// PresenceQueryUseCase 通过 HTTP 提供的查询侧
type PresenceQueryUseCase interface {
	IsOnline(userID entity.UserID) bool
	GetPresence(ctx context.Context, userID entity.UserID) (*entity.UserPresence, error)
	Stats() entity.RelayStats
}
