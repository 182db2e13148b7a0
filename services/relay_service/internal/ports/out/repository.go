package out

import (
	"context"
	"time"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
)

// PresenceRepository 在线状态切换的镜像，以内存注册表为准
type PresenceRepository interface {
	// SetOnline 记录 userID 在 nodeID 上线
	SetOnline(ctx context.Context, userID entity.UserID, nodeID string, at time.Time) error
	// SetOffline 记录最后在线时间，在线记录只有属于 nodeID 时才清除
	SetOffline(ctx context.Context, userID entity.UserID, nodeID string, lastSeen time.Time) error
	// Refresh 在记录属于 nodeID 时续期 userID 的在线记录，已过期则重建
	Refresh(ctx context.Context, userID entity.UserID, nodeID string, at time.Time) error
	// GetPresence 没有在线记录时返回离线状态和已知的最后在线时间
	GetPresence(ctx context.Context, userID entity.UserID) (*entity.UserPresence, error)
}

// EventPublisher 在线状态变更流
type EventPublisher interface {
	PublishPresenceChange(ctx context.Context, event *entity.PresenceEvent) error
	Close() error
}
