package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineSetKey  = "presence:online"
	refcountKey   = "presence:refcount"
	lastActiveKey = "presence:last_active"
)

// connectScript atomically bumps the user's connection refcount and adds
// the user to the online set on the first connection. Returns the new count.
var connectScript = redis.NewScript(`
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
if n == 1 then
	redis.call("SADD", KEYS[2], ARGV[1])
end
redis.call("HSET", KEYS[3], ARGV[1], ARGV[2])
return n
`)

// disconnectScript decrements the refcount and removes the user from the
// online set when no connections remain. Returns the remaining count.
var disconnectScript = redis.NewScript(`
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call("HDEL", KEYS[1], ARGV[1])
	redis.call("SREM", KEYS[2], ARGV[1])
	return 0
end
return n
`)

// RedisStore shares the online set between gateway instances so a user
// connected to one instance is reported online by all of them.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Connect(ctx context.Context, userID string) (bool, error) {
	now := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	n, err := connectScript.Run(ctx, s.client,
		[]string{refcountKey, onlineSetKey, lastActiveKey}, userID, now).Int64()
	if err != nil {
		return false, fmt.Errorf("presence connect: %w", err)
	}

	return n == 1, nil
}

func (s *RedisStore) Disconnect(ctx context.Context, userID string) (bool, error) {
	n, err := disconnectScript.Run(ctx, s.client,
		[]string{refcountKey, onlineSetKey}, userID).Int64()
	if err != nil {
		return false, fmt.Errorf("presence disconnect: %w", err)
	}

	return n == 0, nil
}

func (s *RedisStore) OnlineUsers(ctx context.Context) ([]string, error) {
	users, err := s.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("presence online users: %w", err)
	}

	return users, nil
}

func (s *RedisStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	online, err := s.client.SIsMember(ctx, onlineSetKey, userID).Result()
	if err != nil {
		return false, fmt.Errorf("presence is online: %w", err)
	}

	return online, nil
}

func (s *RedisStore) Touch(ctx context.Context, userID string) error {
	now := time.Now().UTC().Unix()
	if err := s.client.HSet(ctx, lastActiveKey, userID, now).Err(); err != nil {
		return fmt.Errorf("presence touch: %w", err)
	}

	return nil
}

func (s *RedisStore) LastActive(ctx context.Context, userID string) (time.Time, error) {
	val, err := s.client.HGet(ctx, lastActiveKey, userID).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("presence last active: %w", err)
	}

	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("presence last active: %w", err)
	}

	return time.Unix(unix, 0).UTC(), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
