package ws

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/metrics"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/ports/in"
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Settings socket 的超时与限制
type Settings struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration // 必须小于 PongWait
	MaxMessageSize int64
	SendBuffer     int
}

func DefaultSettings() Settings {
	return Settings{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     256,
	}
}

// Client 一个 websocket 连接，按顺序读帧并逐条交给 relay
type Client struct {
	id       entity.ConnectionID
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	closed   int32
	settings Settings

	hub    *Hub
	relay  in.RelayUseCase
	logger *zap.Logger
}

func newClient(id entity.ConnectionID, conn *websocket.Conn, hub *Hub, relay in.RelayUseCase, settings Settings, logger *zap.Logger) *Client {
	return &Client{
		id:       id,
		conn:     conn,
		send:     make(chan []byte, settings.SendBuffer),
		done:     make(chan struct{}),
		settings: settings,
		hub:      hub,
		relay:    relay,
		logger:   logger.With(zap.String("conn_id", string(id))),
	}
}

// Send 非阻塞地把 msg 放入发送队列
func (c *Client) Send(msg []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close 幂等，由写协程发送关闭帧并释放 socket
func (c *Client) Close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		close(c.done)
	}
}

func (c *Client) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// readPump 一直运行到 socket 出错，然后拆除连接
func (c *Client) readPump() {
	defer c.cleanup()

	c.conn.SetReadLimit(c.settings.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.settings.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.settings.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.settings.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.settings.WriteWait))
			return
		}
	}
}

func (c *Client) cleanup() {
	c.Close()
	c.hub.Remove(c.id)
	c.relay.Disconnect(context.Background(), c.id)
	c.logger.Debug("connection closed")
}

func (c *Client) handleMessage(raw []byte) {
	frame, err := decodeFrame(raw)
	if err != nil {
		metrics.InboundEvents.WithLabelValues("", resultOf(err)).Inc()
		c.reject("", err)
		return
	}

	ev, err := entity.ParseInbound(frame.Event, frame.Data)
	if err == nil {
		err = c.relay.Handle(context.Background(), c.id, ev)
	}
	// 未知事件名不作为 label 值
	label := string(frame.Event)
	if errors.Is(err, entity.ErrUnknownEvent) {
		label = "unknown"
	}
	metrics.InboundEvents.WithLabelValues(label, resultOf(err)).Inc()

	if err != nil {
		c.reject(frame.Event, err)
	}
}

// reject 记录被丢弃的事件并告诉客户端原因
func (c *Client) reject(event entity.EventKind, err error) {
	c.logger.Warn("inbound event dropped",
		zap.String("event", string(event)),
		zap.Error(err))

	msg, encErr := encodeFrame(entity.EventError, entity.ErrorPayload{Event: event, Error: err.Error()})
	if encErr != nil {
		return
	}
	_ = c.Send(msg)
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, entity.ErrUnknownEvent):
		return "unknown"
	case errors.Is(err, entity.ErrNotRegistered):
		return "unregistered"
	case errors.Is(err, entity.ErrIdentityConflict):
		return "conflict"
	default:
		return "malformed"
	}
}
