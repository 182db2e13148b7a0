package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
	"github.com/EthanQC/chat-relay/services/relay_service/internal/ports/out"
)

const (
	presenceKeyPrefix = "relay:presence:"
	lastSeenKeyPrefix = "relay:lastseen:"
	// 最后在线时间比在线记录保留更久
	lastSeenTTL = 7 * 24 * time.Hour

	DefaultPresenceTTL = 5 * time.Minute
)

// setOfflineScript 记录最后在线时间，只有记录属于 nodeID 时才删除在线记录
var setOfflineScript = redis.NewScript(`
local presence_key = KEYS[1]
local last_seen_key = KEYS[2]
local node_id = ARGV[1]

redis.call('SET', last_seen_key, ARGV[2], 'PX', ARGV[3])

local data = redis.call('GET', presence_key)
if data and (cjson.decode(data).node_id or '') == node_id then
    redis.call('DEL', presence_key)
    return 1
end
return 0
`)

// refreshScript 重写在线记录并刷新 TTL，记录属于其他节点时跳过
var refreshScript = redis.NewScript(`
local presence_key = KEYS[1]
local node_id = ARGV[1]

local data = redis.call('GET', presence_key)
if data and (cjson.decode(data).node_id or '') ~= node_id then
    return 0
end
redis.call('SET', presence_key, ARGV[2], 'PX', ARGV[3])
return 1
`)

// PresenceRepositoryRedis 在线状态切换的镜像。在线记录不续期时
// 在 ttl 后过期，避免崩溃节点的用户一直显示在线
type PresenceRepositoryRedis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ out.PresenceRepository = (*PresenceRepositoryRedis)(nil)

func NewPresenceRepositoryRedis(client redis.UniversalClient, ttl time.Duration) *PresenceRepositoryRedis {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &PresenceRepositoryRedis{client: client, ttl: ttl}
}

func presenceKey(userID entity.UserID) string { return presenceKeyPrefix + string(userID) }

func lastSeenKey(userID entity.UserID) string { return lastSeenKeyPrefix + string(userID) }

func onlineRecord(userID entity.UserID, nodeID string, at time.Time) ([]byte, error) {
	data, err := json.Marshal(&entity.UserPresence{
		UserID:     userID,
		Online:     true,
		Status:     entity.PresenceStatusOnline,
		NodeID:     nodeID,
		LastSeenAt: at.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode presence of %s: %w", userID, err)
	}
	return data, nil
}

func (r *PresenceRepositoryRedis) SetOnline(ctx context.Context, userID entity.UserID, nodeID string, at time.Time) error {
	data, err := onlineRecord(userID, nodeID, at)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, presenceKey(userID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("set online %s: %w", userID, err)
	}
	return nil
}

// Refresh 仍连接在 nodeID 上的用户的心跳
func (r *PresenceRepositoryRedis) Refresh(ctx context.Context, userID entity.UserID, nodeID string, at time.Time) error {
	data, err := onlineRecord(userID, nodeID, at)
	if err != nil {
		return err
	}
	err = refreshScript.Run(ctx, r.client, []string{presenceKey(userID)},
		nodeID, string(data), r.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("refresh online %s: %w", userID, err)
	}
	return nil
}

// SetOffline 总会记录最后在线时间，在线记录只有属于 nodeID 时才删除
func (r *PresenceRepositoryRedis) SetOffline(ctx context.Context, userID entity.UserID, nodeID string, lastSeen time.Time) error {
	err := setOfflineScript.Run(ctx, r.client, []string{presenceKey(userID), lastSeenKey(userID)},
		nodeID, strconv.FormatInt(lastSeen.UnixMilli(), 10), lastSeenTTL.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("set offline %s: %w", userID, err)
	}
	return nil
}

func (r *PresenceRepositoryRedis) GetPresence(ctx context.Context, userID entity.UserID) (*entity.UserPresence, error) {
	current, err := r.online(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current != nil {
		return current, nil
	}

	presence := &entity.UserPresence{
		UserID: userID,
		Status: entity.PresenceStatusOffline,
	}
	ms, err := r.client.Get(ctx, lastSeenKey(userID)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return presence, nil
	case err != nil:
		return nil, fmt.Errorf("get last seen of %s: %w", userID, err)
	}
	presence.LastSeenAt = time.UnixMilli(ms).UTC()
	return presence, nil
}

// online 当前没有节点持有 userID 时返回 nil
func (r *PresenceRepositoryRedis) online(ctx context.Context, userID entity.UserID) (*entity.UserPresence, error) {
	data, err := r.client.Get(ctx, presenceKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get presence of %s: %w", userID, err)
	}

	var presence entity.UserPresence
	if err := json.Unmarshal(data, &presence); err != nil {
		return nil, fmt.Errorf("decode presence of %s: %w", userID, err)
	}
	return &presence, nil
}
