package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "geopresence:session:"

// RedisStore 会话身份存放在 Redis，TTL 即会话寿命；每次保存刷新 TTL
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore 从 URL 创建并测试连接
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL cannot be empty")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) Load(ctx context.Context, key string) (Identity, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Identity{}, ErrIdentityNotFound
	}
	if err != nil {
		return Identity{}, storeError(err, "redis", key)
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return Identity{}, storeError(err, "redis", key)
	}
	return loaded(id)
}

func (s *RedisStore) Save(ctx context.Context, key string, id Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return storeError(err, "redis", key)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+key, data, s.ttl).Err(); err != nil {
		return storeError(err, "redis", key)
	}
	return nil
}

// Close 关闭连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}
