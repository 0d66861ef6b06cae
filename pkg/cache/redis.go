package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ocrtool/ocrtool/internal/config"
	"github.com/ocrtool/ocrtool/pkg/logger"
)

const keyPrefix = "ocrtool:"

// RedisStore 基于 Redis 的快照缓存
type RedisStore struct {
	rdb *redis.Client
}

// NewStore 根据配置创建缓存；未配置 Redis 时返回进程内缓存
func NewStore(cfg config.RedisConfig) (Store, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return NewMemoryStore(), nil
	}
	return NewRedisStore(cfg)
}

// NewRedisStore 连接 Redis 并验证连通性
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis cache initialized successfully")
	return &RedisStore{rdb: rdb}, nil
}

// Set 设置缓存
func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return s.rdb.Set(ctx, keyPrefix+key, data, ttl).Err()
}

// Get 获取缓存
func (s *RedisStore) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := s.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get value: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return nil
}

// Close 关闭Redis连接
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
