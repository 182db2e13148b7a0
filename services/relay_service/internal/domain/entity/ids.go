package entity

// UserID 由身份服务签发，relay 从不生成
type UserID string

// ConnectionID 传输层为每个物理连接（标签页/设备）分配
type ConnectionID string

type ConversationID string

type MessageID string

const (
	userGroupPrefix         = "user_"
	conversationGroupPrefix = "conversation_"
)

// UserGroup 用户所有连接都会加入的个人频道
func UserGroup(id UserID) string {
	return userGroupPrefix + string(id)
}

// ConversationGroup 单个会话的房间
func ConversationGroup(id ConversationID) string {
	return conversationGroupPrefix + string(id)
}
