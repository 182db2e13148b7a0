package application

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/ports/out"
)

const (
	defaultMirrorQueue   = 1024
	defaultMirrorTimeout = 3 * time.Second
)

// PresenceMachine 广播 OFFLINE<->ONLINE 状态切换并写入镜像。
// Online/Offline 只在注册表跨越边界时调用，每次切换只触发一次。
// 广播和镜像都不等待结果，状态不会回滚
type PresenceMachine struct {
	transport out.Transport
	repo      out.PresenceRepository
	publisher out.EventPublisher
	nodeID    string
	now       func() time.Time
	logger    *zap.Logger

	// 由 Relay 加锁保护
	lastSeen map[entity.UserID]time.Time

	mirrorTimeout time.Duration
	queue         chan mirrorJob
	qmu           sync.Mutex
	closed        bool
	wg            sync.WaitGroup
}

// mirrorJob 一次状态切换，或对仍在线用户的续期
type mirrorJob struct {
	event   *entity.PresenceEvent
	refresh []entity.UserID
	at      time.Time
}

type PresenceConfig struct {
	NodeID        string
	Repo          out.PresenceRepository
	Publisher     out.EventPublisher
	MirrorQueue   int
	MirrorTimeout time.Duration
	Now           func() time.Time
	Logger        *zap.Logger
}

func NewPresenceMachine(transport out.Transport, cfg PresenceConfig) *PresenceMachine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}
	if cfg.MirrorQueue <= 0 {
		cfg.MirrorQueue = defaultMirrorQueue
	}
	if cfg.MirrorTimeout <= 0 {
		cfg.MirrorTimeout = defaultMirrorTimeout
	}

	p := &PresenceMachine{
		transport:     transport,
		repo:          cfg.Repo,
		publisher:     cfg.Publisher,
		nodeID:        cfg.NodeID,
		now:           cfg.Now,
		logger:        cfg.Logger,
		lastSeen:      make(map[entity.UserID]time.Time),
		mirrorTimeout: cfg.MirrorTimeout,
	}

	// 单个 worker 保证同一用户的镜像写入按切换顺序执行
	if p.repo != nil || p.publisher != nil {
		p.queue = make(chan mirrorJob, cfg.MirrorQueue)
		p.wg.Add(1)
		go p.runMirror()
	}
	return p
}

// Online OFFLINE -> ONLINE
func (p *PresenceMachine) Online(userID entity.UserID) {
	p.transition(userID, entity.PresenceStatusOffline, entity.PresenceStatusOnline)
}

// Offline ONLINE -> OFFLINE，在这里记录 lastSeen
func (p *PresenceMachine) Offline(userID entity.UserID) {
	p.transition(userID, entity.PresenceStatusOnline, entity.PresenceStatusOffline)
}

// LastSeen 本进程观察到的该用户最近一次切换时间
func (p *PresenceMachine) LastSeen(userID entity.UserID) (time.Time, bool) {
	t, ok := p.lastSeen[userID]
	return t, ok
}

// Refresh 续期镜像中这些用户的在线记录，排在之前的切换之后
func (p *PresenceMachine) Refresh(users []entity.UserID) {
	if p.repo == nil || len(users) == 0 {
		return
	}
	p.enqueue(mirrorJob{refresh: users, at: p.now()})
}

// Close 排空镜像队列；Close 之后的切换只广播不写镜像
func (p *PresenceMachine) Close() {
	p.qmu.Lock()
	if !p.closed {
		p.closed = true
		if p.queue != nil {
			close(p.queue)
		}
	}
	p.qmu.Unlock()
	p.wg.Wait()
}

func (p *PresenceMachine) transition(userID entity.UserID, from, to entity.PresenceStatus) {
	now := p.now()
	p.lastSeen[userID] = now

	payload := entity.UserStatusPayload{
		UserID:   userID,
		Status:   to,
		LastSeen: entity.FormatTime(now),
	}
	// 用户自己的连接都在其个人分组里
	if err := p.transport.BroadcastExcept(entity.UserGroup(userID), entity.EventUserStatus, payload); err != nil {
		p.logger.Warn("presence broadcast failed",
			zap.String("user_id", string(userID)),
			zap.String("status", string(to)),
			zap.Error(err))
	}

	p.logger.Info("presence changed",
		zap.String("user_id", string(userID)),
		zap.String("status", string(to)))

	if p.queue == nil {
		return
	}
	p.enqueue(mirrorJob{event: &entity.PresenceEvent{
		UserID:    userID,
		OldStatus: from,
		NewStatus: to,
		NodeID:    p.nodeID,
		Timestamp: now,
	}})
}

func (p *PresenceMachine) enqueue(job mirrorJob) {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- job:
	default:
		if job.event != nil {
			p.logger.Warn("presence mirror queue full, dropping event",
				zap.String("user_id", string(job.event.UserID)),
				zap.String("status", string(job.event.NewStatus)))
			return
		}
		p.logger.Warn("presence mirror queue full, dropping refresh", zap.Int("users", len(job.refresh)))
	}
}

func (p *PresenceMachine) runMirror() {
	defer p.wg.Done()
	for job := range p.queue {
		if job.event != nil {
			p.mirror(job.event)
			continue
		}
		p.refresh(job.refresh, job.at)
	}
}

func (p *PresenceMachine) refresh(users []entity.UserID, at time.Time) {
	for _, userID := range users {
		ctx, cancel := context.WithTimeout(context.Background(), p.mirrorTimeout)
		err := p.repo.Refresh(ctx, userID, p.nodeID, at)
		cancel()
		if err != nil {
			p.logger.Warn("presence mirror refresh failed",
				zap.String("user_id", string(userID)), zap.Error(err))
		}
	}
}

func (p *PresenceMachine) mirror(ev *entity.PresenceEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), p.mirrorTimeout)
	defer cancel()

	if p.repo != nil {
		var err error
		if ev.NewStatus == entity.PresenceStatusOnline {
			err = p.repo.SetOnline(ctx, ev.UserID, ev.NodeID, ev.Timestamp)
		} else {
			err = p.repo.SetOffline(ctx, ev.UserID, ev.NodeID, ev.Timestamp)
		}
		if err != nil {
			p.logger.Warn("presence mirror write failed",
				zap.String("user_id", string(ev.UserID)), zap.Error(err))
		}
	}

	if p.publisher != nil {
		if err := p.publisher.PublishPresenceChange(ctx, ev); err != nil {
			p.logger.Warn("presence publish failed",
				zap.String("user_id", string(ev.UserID)), zap.Error(err))
		}
	}
}
