package application

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/metrics"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/ports/out"
)

// DefaultDeliveryDelay 模拟 "sent" 到 "delivered" 之间的网络延迟
const DefaultDeliveryDelay = 500 * time.Millisecond

// DeliveryConfirmer 为已发送的消息安排后续的 "delivered" 状态。
// 该状态只在内存中，定时器触发前进程崩溃就会丢失，不重试
type DeliveryConfirmer struct {
	transport out.Transport
	delay     time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[entity.MessageID]*confirmation
	stopped bool
}

type confirmation struct {
	messageID      entity.MessageID
	conversationID entity.ConversationID
	senderID       entity.UserID
	timer          *time.Timer
}

func NewDeliveryConfirmer(transport out.Transport, delay time.Duration, logger *zap.Logger) *DeliveryConfirmer {
	if delay <= 0 {
		delay = DefaultDeliveryDelay
	}
	if logger == nil {
		logger = zap.L()
	}
	return &DeliveryConfirmer{
		transport: transport,
		delay:     delay,
		logger:    logger,
		pending:   make(map[entity.MessageID]*confirmation),
	}
}

// Schedule 安排 msgID 的确认；同 id 未触发的确认会被替换
func (d *DeliveryConfirmer) Schedule(msgID entity.MessageID, convID entity.ConversationID, senderID entity.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if old, ok := d.pending[msgID]; ok {
		old.timer.Stop()
		metrics.Confirmations.WithLabelValues("cancelled").Inc()
	}

	c := &confirmation{messageID: msgID, conversationID: convID, senderID: senderID}
	c.timer = time.AfterFunc(d.delay, func() { d.fire(c) })
	d.pending[msgID] = c
	metrics.PendingConfirmations.Set(float64(len(d.pending)))
}

// Cancel 返回 msgID 是否有待触发的确认
func (d *DeliveryConfirmer) Cancel(msgID entity.MessageID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.pending[msgID]
	if !ok {
		return false
	}
	d.cancelLocked(c)
	return true
}

// CancelConversation 取消 convID 下所有待触发的确认
func (d *DeliveryConfirmer) CancelConversation(convID entity.ConversationID) int {
	return d.cancelWhere(func(c *confirmation) bool { return c.conversationID == convID })
}

// CancelSender 取消 senderID 发出的所有待触发确认
func (d *DeliveryConfirmer) CancelSender(senderID entity.UserID) int {
	return d.cancelWhere(func(c *confirmation) bool { return c.senderID == senderID })
}

func (d *DeliveryConfirmer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop 取消全部确认，之后的 Schedule 调用被忽略
func (d *DeliveryConfirmer) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancelWhere(func(*confirmation) bool { return true })
}

func (d *DeliveryConfirmer) cancelWhere(match func(*confirmation) bool) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.pending {
		if match(c) {
			d.cancelLocked(c)
			n++
		}
	}
	return n
}

func (d *DeliveryConfirmer) cancelLocked(c *confirmation) {
	c.timer.Stop()
	delete(d.pending, c.messageID)
	metrics.Confirmations.WithLabelValues("cancelled").Inc()
	metrics.PendingConfirmations.Set(float64(len(d.pending)))
}

func (d *DeliveryConfirmer) fire(c *confirmation) {
	d.mu.Lock()
	// 定时器已开始执行后才被取消或替换
	if d.pending[c.messageID] != c {
		d.mu.Unlock()
		return
	}
	delete(d.pending, c.messageID)
	metrics.PendingConfirmations.Set(float64(len(d.pending)))
	d.mu.Unlock()

	payload := entity.MessageStatusPayload{MessageID: c.messageID, Status: entity.MessageDelivered}
	if err := d.transport.EmitToGroup(entity.UserGroup(c.senderID), entity.EventMessageStatus, payload); err != nil {
		d.logger.Warn("delivery confirmation to sender failed",
			zap.String("message_id", string(c.messageID)), zap.Error(err))
	}
	if err := d.transport.EmitToGroup(entity.ConversationGroup(c.conversationID), entity.EventMessageStatus, payload); err != nil {
		d.logger.Warn("delivery confirmation to room failed",
			zap.String("message_id", string(c.messageID)), zap.Error(err))
	}
	metrics.Confirmations.WithLabelValues("delivered").Inc()

	d.logger.Debug("delivery confirmed",
		zap.String("message_id", string(c.messageID)),
		zap.String("conversation_id", string(c.conversationID)))
}
