package application

import (
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/ports/out"
)

// EventRouter 把领域事件扇出到房间和个人频道。
// 发送失败只记日志，不会给发送方返回错误
type EventRouter struct {
	transport out.Transport
	confirmer *DeliveryConfirmer
	now       func() time.Time
	logger    *zap.Logger
}

func NewEventRouter(transport out.Transport, confirmer *DeliveryConfirmer, now func() time.Time, logger *zap.Logger) *EventRouter {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.L()
	}
	return &EventRouter{transport: transport, confirmer: confirmer, now: now, logger: logger}
}

// Route 分发 ev；成员类事件由 Relay 处理，这里忽略
func (r *EventRouter) Route(ev entity.InboundEvent) {
	switch e := ev.(type) {
	case *entity.SendMessageEvent:
		r.sendMessage(e)
	case *entity.MessageReadEvent:
		r.toRoom(e.ConversationID, entity.EventMessageStatus, entity.MessageStatusPayload{
			MessageID: e.MessageID,
			Status:    entity.MessageRead,
		})
	case *entity.TypingEvent:
		r.toRoom(e.ConversationID, entity.EventUserTyping, entity.UserTypingPayload{
			UserID:   e.SenderID,
			IsTyping: *e.IsTyping,
		})
	case *entity.ConversationDeletedEvent:
		r.conversationDeleted(e)
	case *entity.InvitationSentEvent:
		r.toUser(e.RecipientID, entity.EventInvitationReceived, entity.InvitationReceivedPayload{
			InvitationID: e.InvitationID,
			SenderID:     e.SenderID,
		})
	case *entity.InvitationRespondedEvent:
		r.invitationResponded(e)
	}
}

func (r *EventRouter) sendMessage(e *entity.SendMessageEvent) {
	r.toRoom(e.ConversationID, entity.EventReceiveMessage, entity.ReceiveMessagePayload{
		ID:             e.MessageID,
		SenderID:       e.SenderID,
		Content:        *e.Message,
		ConversationID: e.ConversationID,
		CreatedAt:      entity.FormatTime(r.now()),
		Status:         entity.MessageSent,
	})
	r.confirmer.Schedule(e.MessageID, e.ConversationID, e.SenderID)
}

func (r *EventRouter) conversationDeleted(e *entity.ConversationDeletedEvent) {
	if n := r.confirmer.CancelConversation(e.ConversationID); n > 0 {
		r.logger.Debug("cancelled pending confirmations of deleted conversation",
			zap.String("conversation_id", string(e.ConversationID)), zap.Int("count", n))
	}
	r.toUser(e.OtherUserID, entity.EventConversationDeleted, entity.ConversationDeletedPayload{
		ConversationID: e.ConversationID,
		DeletedBy:      e.DeletedBy,
	})
}

func (r *EventRouter) invitationResponded(e *entity.InvitationRespondedEvent) {
	r.toUser(e.SenderID, entity.EventInvitationResponse, entity.InvitationResponsePayload{
		InvitationID: e.InvitationID,
		RecipientID:  e.RecipientID,
		Status:       e.Status,
	})
	if e.Status != entity.InvitationAccepted {
		return
	}
	ready := entity.ConversationReadyPayload{Message: entity.ConversationReadyText}
	r.toUser(e.SenderID, entity.EventConversationReady, ready)
	r.toUser(e.RecipientID, entity.EventConversationReady, ready)
}

func (r *EventRouter) toRoom(convID entity.ConversationID, event entity.EventKind, payload any) {
	if err := r.transport.EmitToGroup(entity.ConversationGroup(convID), event, payload); err != nil {
		r.logger.Warn("room emit failed",
			zap.String("event", string(event)),
			zap.String("conversation_id", string(convID)),
			zap.Error(err))
	}
}

func (r *EventRouter) toUser(userID entity.UserID, event entity.EventKind, payload any) {
	if err := r.transport.EmitToGroup(entity.UserGroup(userID), event, payload); err != nil {
		r.logger.Warn("personal channel emit failed",
			zap.String("event", string(event)),
			zap.String("user_id", string(userID)),
			zap.Error(err))
	}
}
