package ws

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/metrics"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/ports/out"
)

var _ out.Transport = (*Hub)(nil)

// Hub 持有所有打开的 socket 及其分组关系
type Hub struct {
	mu       sync.RWMutex
	clients  map[entity.ConnectionID]*Client
	groups   map[string]map[entity.ConnectionID]*Client
	memberOf map[entity.ConnectionID]map[string]struct{}
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.L()
	}
	return &Hub{
		clients:  make(map[entity.ConnectionID]*Client),
		groups:   make(map[string]map[entity.ConnectionID]*Client),
		memberOf: make(map[entity.ConnectionID]map[string]struct{}),
		logger:   logger,
	}
}

// Add 加入一个客户端，同 id 的后来者替换先前的
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[c.id]; ok && old != c {
		old.Close()
	}
	h.clients[c.id] = c
}

// Remove 移除 connID 及其全部分组关系
func (h *Hub) Remove(connID entity.ConnectionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, connID)
	for group := range h.memberOf[connID] {
		members := h.groups[group]
		delete(members, connID)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	delete(h.memberOf, connID)
}

func (h *Hub) AddToGroup(connID entity.ConnectionID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}

	members, ok := h.groups[group]
	if !ok {
		members = make(map[entity.ConnectionID]*Client)
		h.groups[group] = members
	}
	members[connID] = c

	joined, ok := h.memberOf[connID]
	if !ok {
		joined = make(map[string]struct{})
		h.memberOf[connID] = joined
	}
	joined[group] = struct{}{}
}

func (h *Hub) RemoveFromGroup(connID entity.ConnectionID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.groups[group]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	delete(h.memberOf[connID], group)
}

func (h *Hub) EmitToConnection(connID entity.ConnectionID, event entity.EventKind, payload any) error {
	msg, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[connID]; ok {
		h.deliver(c, event, msg)
	}
	return nil
}

func (h *Hub) EmitToGroup(group string, event entity.EventKind, payload any) error {
	msg, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.groups[group] {
		h.deliver(c, event, msg)
	}
	return nil
}

func (h *Hub) BroadcastExcept(group string, event entity.EventKind, payload any) error {
	msg, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	excluded := h.groups[group]
	for id, c := range h.clients {
		if _, skip := excluded[id]; skip {
			continue
		}
		h.deliver(c, event, msg)
	}
	return nil
}

// Count 打开的客户端数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll 关闭所有客户端，各自走正常的断开流程
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.Close()
	}
}

// deliver 从不阻塞，跟不上的客户端会被关闭
func (h *Hub) deliver(c *Client, event entity.EventKind, msg []byte) {
	if err := c.Send(msg); err != nil {
		if errors.Is(err, errSendBufferFull) {
			h.logger.Warn("slow client closed",
				zap.String("conn_id", string(c.id)),
				zap.String("event", string(event)))
			c.Close()
		}
		return
	}
	metrics.OutboundEmits.WithLabelValues(string(event)).Inc()
}
