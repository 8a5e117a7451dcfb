package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"learnhub/realtime-service/utils"
)

const (
	presenceKeyPrefix = "presence:"
	onlineSetKey      = "online_users"
)

// RedisPresence mirrors the presence registry into Redis so any instance can
// answer IsOnline. Each user is a hash keyed by "instanceID:clientID" that
// expires unless the owning instances keep refreshing it. Keying by instance
// keeps one instance's removal from deleting a reconnect on another.
type RedisPresence struct {
	redis      *redis.Client
	logger     *utils.Logger
	ttl        time.Duration
	instanceID string
}

func NewRedisPresence(redisClient *redis.Client, instanceID string, logger *utils.Logger) *RedisPresence {
	return &RedisPresence{
		redis:      redisClient,
		logger:     logger.With("component", "presence-mirror"),
		ttl:        120 * time.Second, // Default 2 minutes
		instanceID: instanceID,
	}
}

func (rp *RedisPresence) SetPresenceTTL(ttl time.Duration) {
	rp.ttl = ttl
}

// TTL is the expiry applied to each user's presence hash.
func (rp *RedisPresence) TTL() time.Duration {
	return rp.ttl
}

func (rp *RedisPresence) field(clientID string) string {
	return rp.instanceID + ":" + clientID
}

func (rp *RedisPresence) Add(ctx context.Context, userID, clientID string) error {
	key := presenceKeyPrefix + userID

	pipe := rp.redis.TxPipeline()
	pipe.HSet(ctx, key, rp.field(clientID), rp.instanceID)
	pipe.Expire(ctx, key, rp.ttl)
	pipe.SAdd(ctx, onlineSetKey, userID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add presence: %w", err)
	}
	return nil
}

func (rp *RedisPresence) Remove(ctx context.Context, userID, clientID string) error {
	key := presenceKeyPrefix + userID

	pipe := rp.redis.TxPipeline()
	pipe.HDel(ctx, key, rp.field(clientID))
	remaining := pipe.HLen(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}

	if remaining.Val() == 0 {
		if err := rp.redis.SRem(ctx, onlineSetKey, userID).Err(); err != nil {
			return fmt.Errorf("failed to update online set: %w", err)
		}
	}
	return nil
}

func (rp *RedisPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := rp.redis.HLen(ctx, presenceKeyPrefix+userID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to get presence: %w", err)
	}
	return n > 0, nil
}

// OnlineUsers lists users with a live presence hash and prunes the online
// set of users whose hash has expired.
func (rp *RedisPresence) OnlineUsers(ctx context.Context) ([]string, error) {
	userIDs, err := rp.redis.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}

	if len(userIDs) == 0 {
		return []string{}, nil
	}

	pipe := rp.redis.Pipeline()
	cmds := make([]*redis.IntCmd, len(userIDs))
	for i, userID := range userIDs {
		cmds[i] = pipe.Exists(ctx, presenceKeyPrefix+userID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to get presence data: %w", err)
	}

	online := make([]string, 0, len(userIDs))
	var expired []interface{}
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			online = append(online, userIDs[i])
		} else {
			expired = append(expired, userIDs[i])
		}
	}

	if len(expired) > 0 {
		if err := rp.redis.SRem(ctx, onlineSetKey, expired...).Err(); err != nil {
			rp.logger.Warn("Failed to prune online set", "error", err)
		}
	}

	return online, nil
}

// Refresh extends the expiry of the given users' presence hashes.
func (rp *RedisPresence) Refresh(ctx context.Context, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}

	pipe := rp.redis.Pipeline()
	for _, userID := range userIDs {
		pipe.Expire(ctx, presenceKeyPrefix+userID, rp.ttl)
		pipe.SAdd(ctx, onlineSetKey, userID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}
