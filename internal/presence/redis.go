package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "teamsync:presence:"

// unregisterScript deletes the connection's reverse key and, only when the
// user's entry still points at that connection, the user's entry.
var unregisterScript = redis.NewScript(`
local userID = redis.call('GET', KEYS[1])
if not userID then
  return 0
end
redis.call('DEL', KEYS[1])
local userKey = ARGV[1] .. userID
if redis.call('GET', userKey) == ARGV[2] then
  redis.call('DEL', userKey)
  return 1
end
return 0
`)

// touchScript renews both keys of a connection, but only while the user's
// entry still points at it.
var touchScript = redis.NewScript(`
local userID = redis.call('GET', KEYS[1])
if not userID then
  return 0
end
local userKey = ARGV[1] .. userID
if redis.call('GET', userKey) ~= ARGV[2] then
  return 0
end
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('PEXPIRE', userKey, ARGV[3])
return 1
`)

// RedisConfig configures a RedisRegistry. A zero TTL keeps entries until
// they are unregistered.
type RedisConfig struct {
	KeyPrefix string
	TTL       time.Duration
}

// RedisRegistry shares presence between processes through Redis.
// Only the mapping is shared; frames still reach a connection only through
// the process that holds its socket.
type RedisRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// DialRedis parses a redis:// URL and verifies the server is reachable.
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisRegistry stores presence under cfg.KeyPrefix, defaulting to
// "teamsync:presence:".
func NewRedisRegistry(client *redis.Client, cfg RedisConfig) *RedisRegistry {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisRegistry{client: client, prefix: prefix, ttl: cfg.TTL}
}

func (r *RedisRegistry) userKeyPrefix() string { return r.prefix + "user:" }

func (r *RedisRegistry) userKey(userID string) string { return r.userKeyPrefix() + userID }

func (r *RedisRegistry) connectionKey(connectionID string) string {
	return r.prefix + "conn:" + connectionID
}

func (r *RedisRegistry) Register(ctx context.Context, userID, connectionID string) error {
	userID = strings.TrimSpace(userID)
	connectionID = strings.TrimSpace(connectionID)
	if userID == "" || connectionID == "" {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.userKey(userID), connectionID, r.ttl)
		pipe.Set(ctx, r.connectionKey(connectionID), userID, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("register presence: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Lookup(ctx context.Context, userID string) (string, bool, error) {
	connectionID, err := r.client.Get(ctx, r.userKey(strings.TrimSpace(userID))).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup presence: %w", err)
	}
	return connectionID, true, nil
}

// Touch resets the expiry of both keys held by connectionID.
func (r *RedisRegistry) Touch(ctx context.Context, connectionID string) error {
	connectionID = strings.TrimSpace(connectionID)
	if r.ttl <= 0 || connectionID == "" {
		return nil
	}
	err := touchScript.Run(ctx, r.client,
		[]string{r.connectionKey(connectionID)},
		r.userKeyPrefix(), connectionID, r.ttl.Milliseconds(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("touch presence: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Unregister(ctx context.Context, connectionID string) error {
	err := unregisterScript.Run(ctx, r.client,
		[]string{r.connectionKey(connectionID)},
		r.userKeyPrefix(), connectionID,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("unregister presence: %w", err)
	}
	return nil
}

var _ Registry = (*RedisRegistry)(nil)
