package entity

import "time"

// PresenceStatus 推导出的状态；用户至少有一个已注册连接时才在线
type PresenceStatus string

const (
	PresenceStatusOnline  PresenceStatus = "online"
	PresenceStatusOffline PresenceStatus = "offline"
)

// UserPresence 在线状态查询的结果
type UserPresence struct {
	UserID     UserID         `json:"user_id"`
	Online     bool           `json:"online"`
	Status     PresenceStatus `json:"status"`
	NodeID     string         `json:"node_id,omitempty"`
	LastSeenAt time.Time      `json:"last_seen_at"`
}

// PresenceEvent 一次 OFFLINE<->ONLINE 切换，发布到镜像
type PresenceEvent struct {
	UserID    UserID         `json:"user_id"`
	OldStatus PresenceStatus `json:"old_status"`
	NewStatus PresenceStatus `json:"new_status"`
	NodeID    string         `json:"node_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// RelayStats /stats 返回的快照
type RelayStats struct {
	Connections          int `json:"connections"`
	OnlineUsers          int `json:"online_users"`
	PendingConfirmations int `json:"pending_confirmations"`
}

// TimeLayout 带毫秒的 UTC ISO-8601，与 JS Date 序列化格式一致
const TimeLayout = "2006-01-02T15:04:05.000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
