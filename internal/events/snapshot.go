package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/watchdog"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss 表示缓存不存在
var ErrCacheMiss = errors.New("cache miss")

// KVStore 抽象的 KV 存储（用于在单元测试中替换 Redis）
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// RedisKVStore 基于 go-redis 的 KV 实现
type RedisKVStore struct {
	client *redis.Client
}

func NewRedisKVStore(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{client: client}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// SnapshotStore 保存最近一次 tick 的主题状态
//
// TTL 为 3 个 tick 周期：watchdog 停止后快照自动过期，读取方据此判断 watchdog 是否存活。
type SnapshotStore struct {
	kv  KVStore
	key string
	ttl time.Duration
}

var _ watchdog.SnapshotWriter = (*SnapshotStore)(nil)

// NewSnapshotStore 创建快照存储
func NewSnapshotStore(kv KVStore, key string, interval time.Duration) *SnapshotStore {
	return &SnapshotStore{
		kv:  kv,
		key: key,
		ttl: 3 * interval,
	}
}

// WriteSnapshot 覆盖写入快照
func (s *SnapshotStore) WriteSnapshot(ctx context.Context, snap watchdog.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.kv.Set(ctx, s.key, string(data), s.ttl)
}

// LatestSnapshot 读取快照，不存在时返回 ErrCacheMiss
func (s *SnapshotStore) LatestSnapshot(ctx context.Context) (*watchdog.Snapshot, error) {
	val, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, err
	}
	var snap watchdog.Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
