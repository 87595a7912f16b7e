package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces flow keys in a shared Redis.
const DefaultKeyPrefix = "smart-auth:flow:"

// RedisRepo stores flows in Redis with a TTL matching ExpiresAt, so expiry needs no sweeping.
type RedisRepo struct {
	client    redis.UniversalClient
	keyPrefix string
	nowFunc   func() time.Time
}

// NewRedisRepo connects to the Redis server at redisURL (redis:// or rediss://) and checks connectivity.
func NewRedisRepo(ctx context.Context, redisURL, keyPrefix string) (*RedisRepo, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("[sessions.NewRedisRepo] invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		// Close the client to prevent resource leak
		_ = client.Close()
		return nil, fmt.Errorf("[sessions.NewRedisRepo] failed to connect to redis: %w", err)
	}
	return NewRedisRepoWithClient(client, keyPrefix), nil
}

// NewRedisRepoWithClient wraps a pre-configured client.
func NewRedisRepoWithClient(client redis.UniversalClient, keyPrefix string) *RedisRepo {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisRepo{client: client, keyPrefix: keyPrefix, nowFunc: time.Now}
}

func (r *RedisRepo) key(sessionID string) string {
	return r.keyPrefix + sessionID
}

func (r *RedisRepo) Upsert(ctx context.Context, flow *FlowState) error {
	if err := validate(flow); err != nil {
		return err
	}

	var ttl time.Duration
	if !flow.ExpiresAt.IsZero() {
		ttl = flow.ExpiresAt.Sub(r.nowFunc())
		if ttl <= 0 {
			return fmt.Errorf("%w: flow for session %s has already expired", ErrInvalidFlowState, flow.SessionID)
		}
	}

	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal flow state: %w", err)
	}
	if err := r.client.Set(ctx, r.key(flow.SessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("[RedisRepo.Upsert] %w", err)
	}
	return nil
}

// Consume uses GETDEL so two concurrent callbacks cannot both read the same flow.
func (r *RedisRepo) Consume(ctx context.Context, sessionID string) (*FlowState, error) {
	if sessionID == "" {
		return nil, ErrNotFound
	}

	data, err := r.client.GetDel(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("[RedisRepo.Consume] %w", err)
	}

	var flow FlowState
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow state: %w", err)
	}
	if flow.Expired(r.nowFunc()) {
		return nil, ErrNotFound
	}
	return &flow, nil
}

// DeleteExpired is a no-op: Redis evicts keys when their TTL lapses.
func (r *RedisRepo) DeleteExpired(context.Context) (int, error) {
	return 0, nil
}

// Ping checks Redis connectivity (health check).
func (r *RedisRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (r *RedisRepo) Close() error {
	return r.client.Close()
}
