package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/ports/in"
)

// Server 升级 HTTP 请求并运行客户端读写协程
type Server struct {
	hub      *Hub
	relay    in.RelayUseCase
	settings Settings
	upgrader websocket.Upgrader
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewServer allowedOrigins 可以包含 "*"；没有 Origin 头的请求总是放行
func NewServer(hub *Hub, relay in.RelayUseCase, settings Settings, allowedOrigins []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.L()
	}
	return &Server{
		hub:      hub,
		relay:    relay,
		settings: settings,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// HandleConnection 连接在发送 join 之前保持空闲
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}

	id := entity.ConnectionID(uuid.NewString())
	client := newClient(id, conn, s.hub, s.relay, s.settings, s.logger)

	s.hub.Add(client)
	s.relay.Connect(r.Context(), id)

	s.wg.Add(1)
	go client.writePump()
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()

	s.logger.Debug("websocket connected",
		zap.String("conn_id", string(id)),
		zap.String("remote", r.RemoteAddr))
}

// Shutdown 关闭所有客户端并等待断开流程结束
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
