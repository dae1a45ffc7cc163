package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "installments:idempotency:"

// redisClient is the subset of redis.Cmdable used here.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisStore shares idempotency records between service instances.
type RedisStore struct {
	client redisClient
	close  func() error
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client, close: client.Close}, nil
}

func (s *RedisStore) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func (s *RedisStore) Get(ctx context.Context, key string) (Response, bool, error) {
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Response{}, false, nil
	}
	if err != nil {
		return Response{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, false, fmt.Errorf("decode stored response %s: %w", key, err)
	}
	return resp, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, resp Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response %s: %w", key, err)
	}
	if err := s.client.SetNX(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return nil
}
