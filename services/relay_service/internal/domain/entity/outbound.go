package entity

// 下行（服务端 -> 客户端）；conversation_deleted 复用 EventConversationDeleted
const (
	EventUserStatus         EventKind = "user_status"
	EventConversationJoined EventKind = "conversation_joined"
	EventReceiveMessage     EventKind = "receive_message"
	EventMessageStatus      EventKind = "message_status"
	EventUserTyping         EventKind = "user_typing"
	EventInvitationReceived EventKind = "invitation_received"
	EventInvitationResponse EventKind = "invitation_response"
	EventConversationReady  EventKind = "conversation_ready"
	EventError              EventKind = "error"
)

// MessageStatus 界面上看到的消息状态推进
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// ConversationReadyText 邀请被接受后发给双方的提示
const ConversationReadyText = "Chat invitation accepted! You can now start messaging."

type UserStatusPayload struct {
	UserID   UserID         `json:"userId"`
	Status   PresenceStatus `json:"status"`
	LastSeen string         `json:"lastSeen"`
}

type ConversationJoinedPayload struct {
	ConversationID ConversationID `json:"conversationId"`
}

type ReceiveMessagePayload struct {
	ID             MessageID      `json:"id"`
	SenderID       UserID         `json:"sender_id"`
	Content        string         `json:"content"`
	ConversationID ConversationID `json:"conversation_id"`
	CreatedAt      string         `json:"created_at"`
	Status         MessageStatus  `json:"status"`
}

type MessageStatusPayload struct {
	MessageID MessageID     `json:"messageId"`
	Status    MessageStatus `json:"status"`
}

type UserTypingPayload struct {
	UserID   UserID `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type ConversationDeletedPayload struct {
	ConversationID ConversationID `json:"conversationId"`
	DeletedBy      UserID         `json:"deletedBy"`
}

type InvitationReceivedPayload struct {
	InvitationID string `json:"invitationId"`
	SenderID     UserID `json:"senderId"`
}

type InvitationResponsePayload struct {
	InvitationID string           `json:"invitationId"`
	RecipientID  UserID           `json:"recipientId"`
	Status       InvitationStatus `json:"status"`
}

type ConversationReadyPayload struct {
	Message string `json:"message"`
}

// ErrorPayload 事件被丢弃时回给该连接
type ErrorPayload struct {
	Event EventKind `json:"event"`
	Error string    `json:"error"`
}
