package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/metrics"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/ports/in"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/ports/out"
)

var (
	_ in.RelayUseCase         = (*Relay)(nil)
	_ in.PresenceQueryUseCase = (*Relay)(nil)
)

// Options NewRelay 的参数，零值使用默认值
type Options struct {
	DeliveryDelay   time.Duration
	NodeID          string
	PresenceRepo    out.PresenceRepository
	// PresenceRefresh 续期已连接用户在镜像中的在线记录，需小于记录的 TTL。
	// 为零时关闭
	PresenceRefresh time.Duration
	Publisher       out.EventPublisher
	Logger          *zap.Logger
	Now             func() time.Time
}

// Relay 持有单个进程的注册表、房间和在线状态。
// 一把互斥锁串行化所有修改，传输层的锁总在它之后获取
type Relay struct {
	mu        sync.Mutex
	conns     map[entity.ConnectionID]struct{}
	registry  *ConnectionRegistry
	rooms     *RoomTracker
	presence  *PresenceMachine
	router    *EventRouter
	transport out.Transport

	confirmer *DeliveryConfirmer
	repo      out.PresenceRepository
	nodeID    string
	now       func() time.Time
	logger    *zap.Logger

	stop      chan struct{}
	closeOnce sync.Once
	loops     sync.WaitGroup
}

func NewRelay(transport out.Transport, opts Options) *Relay {
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	confirmer := NewDeliveryConfirmer(transport, opts.DeliveryDelay, opts.Logger.Named("confirmer"))
	r := &Relay{
		conns:    make(map[entity.ConnectionID]struct{}),
		registry: NewConnectionRegistry(),
		rooms:    NewRoomTracker(transport),
		presence: NewPresenceMachine(transport, PresenceConfig{
			NodeID:    opts.NodeID,
			Repo:      opts.PresenceRepo,
			Publisher: opts.Publisher,
			Now:       opts.Now,
			Logger:    opts.Logger.Named("presence"),
		}),
		router:    NewEventRouter(transport, confirmer, opts.Now, opts.Logger.Named("router")),
		transport: transport,
		confirmer: confirmer,
		repo:      opts.PresenceRepo,
		nodeID:    opts.NodeID,
		now:       opts.Now,
		logger:    opts.Logger,
		stop:      make(chan struct{}),
	}

	if opts.PresenceRepo != nil && opts.PresenceRefresh > 0 {
		r.loops.Add(1)
		go r.refreshLoop(opts.PresenceRefresh)
	}
	return r
}

func (r *Relay) refreshLoop(every time.Duration) {
	defer r.loops.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.RefreshPresence()
		}
	}
}

// RefreshPresence 续期每个已连接用户在镜像中的在线记录。
// 在 relay 锁内入队，不会越过之后的离线切换
func (r *Relay) RefreshPresence() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence.Refresh(r.registry.OnlineUserIDs())
}

func (r *Relay) Connect(ctx context.Context, connID entity.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connID] = struct{}{}
	metrics.ConnectionsActive.Set(float64(len(r.conns)))
	r.logger.Debug("connection opened", zap.String("conn_id", string(connID)))
}

func (r *Relay) Handle(ctx context.Context, connID entity.ConnectionID, ev entity.InboundEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if join, ok := ev.(*entity.JoinEvent); ok {
		return r.join(connID, join.UserID)
	}

	userID, ok := r.registry.UserOf(connID)
	if !ok {
		return fmt.Errorf("%w: %s sent %s", entity.ErrNotRegistered, connID, ev.Kind())
	}

	switch e := ev.(type) {
	case *entity.JoinConversationEvent:
		if already := r.rooms.Join(connID, e.ConversationID); !already {
			r.logger.Debug("joined conversation",
				zap.String("user_id", string(userID)),
				zap.String("conn_id", string(connID)),
				zap.String("conversation_id", string(e.ConversationID)))
		}
		// 每次加入都回 ack，重复加入也一样
		if err := r.transport.EmitToConnection(connID, entity.EventConversationJoined,
			entity.ConversationJoinedPayload{ConversationID: e.ConversationID}); err != nil {
			r.logger.Warn("conversation_joined ack failed",
				zap.String("conn_id", string(connID)), zap.Error(err))
		}
	case *entity.LeaveConversationEvent:
		r.rooms.Leave(connID, e.ConversationID)
	default:
		r.router.Route(ev)
	}
	return nil
}

func (r *Relay) join(connID entity.ConnectionID, userID entity.UserID) error {
	first, err := r.registry.Register(connID, userID)
	if err != nil {
		return err
	}
	r.rooms.JoinPersonal(connID, userID)
	metrics.OnlineUsers.Set(float64(r.registry.OnlineUsers()))

	r.logger.Debug("connection registered",
		zap.String("user_id", string(userID)),
		zap.String("conn_id", string(connID)),
		zap.Bool("first", first))

	if first {
		r.presence.Online(userID)
	}
	return nil
}

func (r *Relay) Disconnect(ctx context.Context, connID entity.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, connID)
	metrics.ConnectionsActive.Set(float64(len(r.conns)))
	r.rooms.Drop(connID)

	userID, last, ok := r.registry.Unregister(connID)
	if !ok {
		return
	}
	metrics.OnlineUsers.Set(float64(r.registry.OnlineUsers()))
	r.logger.Debug("connection unregistered",
		zap.String("user_id", string(userID)),
		zap.String("conn_id", string(connID)),
		zap.Bool("last", last))

	if !last {
		return
	}
	if n := r.confirmer.CancelSender(userID); n > 0 {
		r.logger.Debug("cancelled pending confirmations of offline sender",
			zap.String("user_id", string(userID)), zap.Int("count", n))
	}
	r.presence.Offline(userID)
}

func (r *Relay) IsOnline(userID entity.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registry.IsOnline(userID)
}

// GetPresence 在线状态取自注册表；最后在线时间先取本进程，其次取镜像
func (r *Relay) GetPresence(ctx context.Context, userID entity.UserID) (*entity.UserPresence, error) {
	r.mu.Lock()
	online := r.registry.IsOnline(userID)
	lastSeen, seen := r.presence.LastSeen(userID)
	r.mu.Unlock()

	if online {
		return &entity.UserPresence{
			UserID:     userID,
			Online:     true,
			Status:     entity.PresenceStatusOnline,
			NodeID:     r.nodeID,
			LastSeenAt: r.now().UTC(),
		}, nil
	}

	p := &entity.UserPresence{
		UserID: userID,
		Status: entity.PresenceStatusOffline,
	}
	if seen {
		p.LastSeenAt = lastSeen.UTC()
		return p, nil
	}
	if r.repo == nil {
		return p, nil
	}

	mirrored, err := r.repo.GetPresence(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get mirrored presence of %s: %w", userID, err)
	}
	if mirrored != nil {
		p.LastSeenAt = mirrored.LastSeenAt.UTC()
	}
	return p, nil
}

func (r *Relay) Stats() entity.RelayStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return entity.RelayStats{
		Connections:          len(r.conns),
		OnlineUsers:          r.registry.OnlineUsers(),
		PendingConfirmations: r.confirmer.Pending(),
	}
}

// Rooms 返回 userID 任一存活连接加入的房间
func (r *Relay) Rooms(userID entity.UserID) []entity.ConversationID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms.Rooms(r.registry.Connections(userID)...)
}

// Close 停止续期循环，取消待触发确认并刷完在线状态镜像
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		close(r.stop)
		r.loops.Wait()
		r.confirmer.Stop()
		r.presence.Close()
	})
}
