package entity

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// EventKind 事件在线路上的名称
type EventKind string

// 上行（客户端 -> 服务端）
const (
	EventJoin                EventKind = "join"
	EventJoinConversation    EventKind = "join_conversation"
	EventLeaveConversation   EventKind = "leave_conversation"
	EventSendMessage         EventKind = "send_message"
	EventMessageRead         EventKind = "message_read"
	EventTyping              EventKind = "typing"
	EventConversationDeleted EventKind = "conversation_deleted"
	EventInvitationSent      EventKind = "invitation_sent"
	EventInvitationResponded EventKind = "invitation_responded"
)

// InvitationStatus invitation_responded 携带的答复
type InvitationStatus string

const (
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
)

// InboundEvent 客户端事件的封闭集合，只有下面的类型实现它
type InboundEvent interface {
	Kind() EventKind
	inbound()
}

type JoinEvent struct {
	UserID UserID `json:"userId" validate:"required"`
}

type JoinConversationEvent struct {
	ConversationID ConversationID `json:"conversationId" validate:"required"`
	UserID         UserID         `json:"userId"`
}

type LeaveConversationEvent struct {
	ConversationID ConversationID `json:"conversationId" validate:"required"`
	UserID         UserID         `json:"userId"`
}

type SendMessageEvent struct {
	RecipientID    UserID         `json:"recipientId" validate:"required"`
	Message        *string        `json:"message" validate:"required"` // 空字符串也是合法内容
	SenderID       UserID         `json:"senderId" validate:"required"`
	MessageID      MessageID      `json:"messageId" validate:"required"`
	ConversationID ConversationID `json:"conversationId" validate:"required"`
}

type MessageReadEvent struct {
	MessageID      MessageID      `json:"messageId" validate:"required"`
	SenderID       UserID         `json:"senderId"`
	ConversationID ConversationID `json:"conversationId" validate:"required"`
	ReaderID       UserID         `json:"readerId"`
}

type TypingEvent struct {
	RecipientID    UserID         `json:"recipientId"`
	IsTyping       *bool          `json:"isTyping" validate:"required"`
	SenderID       UserID         `json:"senderId" validate:"required"`
	ConversationID ConversationID `json:"conversationId" validate:"required"`
}

type ConversationDeletedEvent struct {
	ConversationID ConversationID `json:"conversationId" validate:"required"`
	DeletedBy      UserID         `json:"deletedBy" validate:"required"`
	OtherUserID    UserID         `json:"otherUserId" validate:"required"`
}

type InvitationSentEvent struct {
	RecipientID  UserID `json:"recipientId" validate:"required"`
	SenderID     UserID `json:"senderId" validate:"required"`
	InvitationID string `json:"invitationId" validate:"required"`
}

type InvitationRespondedEvent struct {
	InvitationID string           `json:"invitationId" validate:"required"`
	SenderID     UserID           `json:"senderId" validate:"required"`
	RecipientID  UserID           `json:"recipientId" validate:"required"`
	Status       InvitationStatus `json:"status" validate:"required,oneof=accepted rejected"`
}

func (*JoinEvent) Kind() EventKind { return EventJoin }
func (*JoinConversationEvent) Kind() EventKind { return EventJoinConversation }
func (*LeaveConversationEvent) Kind() EventKind { return EventLeaveConversation }
func (*SendMessageEvent) Kind() EventKind { return EventSendMessage }
func (*MessageReadEvent) Kind() EventKind { return EventMessageRead }
func (*TypingEvent) Kind() EventKind { return EventTyping }
func (*ConversationDeletedEvent) Kind() EventKind { return EventConversationDeleted }
func (*InvitationSentEvent) Kind() EventKind { return EventInvitationSent }
func (*InvitationRespondedEvent) Kind() EventKind { return EventInvitationResponded }

func (*JoinEvent) inbound() {}
func (*JoinConversationEvent) inbound() {}
func (*LeaveConversationEvent) inbound() {}
func (*SendMessageEvent) inbound() {}
func (*MessageReadEvent) inbound() {}
func (*TypingEvent) inbound() {}
func (*ConversationDeletedEvent) inbound() {}
func (*InvitationSentEvent) inbound() {}
func (*InvitationRespondedEvent) inbound() {}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseInbound 解码并校验一帧上行数据，
// 错误包装 ErrUnknownEvent 或 ErrMalformedEvent
func ParseInbound(kind EventKind, data json.RawMessage) (InboundEvent, error) {
	var ev InboundEvent
	switch kind {
	case EventJoin:
		return parseJoin(data)
	case EventJoinConversation:
		ev = &JoinConversationEvent{}
	case EventLeaveConversation:
		ev = &LeaveConversationEvent{}
	case EventSendMessage:
		ev = &SendMessageEvent{}
	case EventMessageRead:
		ev = &MessageReadEvent{}
	case EventTyping:
		ev = &TypingEvent{}
	case EventConversationDeleted:
		ev = &ConversationDeletedEvent{}
	case EventInvitationSent:
		ev = &InvitationSentEvent{}
	case EventInvitationResponded:
		ev = &InvitationRespondedEvent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, kind)
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, kind, err)
	}
	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, kind, err)
	}
	return ev, nil
}

// parseJoin 接受裸的用户 id 字符串，也接受新客户端的 {"userId": "..."}
func parseJoin(data json.RawMessage) (InboundEvent, error) {
	ev := &JoinEvent{}
	trimmed := bytes.TrimSpace(data)
	var err error
	if len(trimmed) > 0 && trimmed[0] == '{' {
		err = json.Unmarshal(trimmed, ev)
	} else {
		err = json.Unmarshal(trimmed, &ev.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, EventJoin, err)
	}
	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, EventJoin, err)
	}
	return ev, nil
}
