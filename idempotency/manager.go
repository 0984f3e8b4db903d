package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/internal/xjson"
)

// DefaultTTL applies when Set is called with a non-positive ttl.
const DefaultTTL = time.Hour

// Manager 幂等性管理器接口
// 缓存节点调用结果，避免对计费服务重复调用
type Manager interface {
	// GenerateKey 根据输入生成幂等键
	GenerateKey(inputs ...any) (string, error)

	// Get 获取缓存的结果
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)

	// Set 设置缓存结果
	Set(ctx context.Context, key string, result any, ttl time.Duration) error

	// Delete 删除缓存
	Delete(ctx context.Context, key string) error

	// Exists 检查幂等键是否存在
	Exists(ctx context.Context, key string) (bool, error)
}

// Key derives a deterministic key: SHA-256 over the JSON encoding of inputs.
// Map keys are sorted by the encoder, so equal inputs give equal keys.
func Key(inputs ...any) (string, error) {
	if len(inputs) == 0 {
		return "", errors.New("at least one input is required")
	}
	data, err := xjson.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("marshal idempotency inputs: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// redisManager 基于 Redis 的实现，多个 worker 共享
type redisManager struct {
	redis  redis.UniversalClient
	prefix string
	logger *zap.Logger
}

// NewRedisManager 创建基于 Redis 的幂等性管理器
func NewRedisManager(client redis.UniversalClient, prefix string, logger *zap.Logger) Manager {
	if prefix == "" {
		prefix = "nodeflow:idempotency:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisManager{
		redis:  client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "idempotency")),
	}
}

func (m *redisManager) GenerateKey(inputs ...any) (string, error) {
	return Key(inputs...)
}

func (m *redisManager) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	data, err := m.redis.Get(ctx, m.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	m.logger.Debug("幂等键命中", zap.String("key", key), zap.Int("data_size", len(data)))
	return data, true, nil
}

func (m *redisManager) Set(ctx context.Context, key string, result any, ttl time.Duration) error {
	data, err := xjson.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal cached result: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := m.redis.Set(ctx, m.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	m.logger.Debug("幂等键已存储", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

func (m *redisManager) Delete(ctx context.Context, key string) error {
	if err := m.redis.Del(ctx, m.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (m *redisManager) Exists(ctx context.Context, key string) (bool, error) {
	n, err := m.redis.Exists(ctx, m.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// MemoryManager 进程内实现，用于单机运行与测试
type MemoryManager struct {
	mu              sync.RWMutex
	cache           map[string]cacheEntry
	logger          *zap.Logger
	now             func() time.Time
	cleanupInterval time.Duration
	stopOnce        sync.Once
	stopCh          chan struct{}
}

type cacheEntry struct {
	data      json.RawMessage
	expiresAt time.Time
}

// NewMemoryManager 创建内存管理器；cleanupInterval<=0 时使用 5 分钟
func NewMemoryManager(logger *zap.Logger, cleanupInterval time.Duration) *MemoryManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	m := &MemoryManager{
		cache:           make(map[string]cacheEntry),
		logger:          logger.With(zap.String("component", "idempotency")),
		now:             time.Now,
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

func (m *MemoryManager) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCh:
			return
		}
	}
}

func (m *MemoryManager) cleanup() {
	now := m.now()
	m.mu.Lock()
	expired := 0
	for key, entry := range m.cache {
		if now.After(entry.expiresAt) {
			delete(m.cache, key)
			expired++
		}
	}
	remaining := len(m.cache)
	m.mu.Unlock()

	if expired > 0 {
		m.logger.Debug("cleaned up expired idempotency entries",
			zap.Int("expired", expired),
			zap.Int("remaining", remaining))
	}
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (m *MemoryManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *MemoryManager) GenerateKey(inputs ...any) (string, error) {
	return Key(inputs...)
}

func (m *MemoryManager) lookup(key string) (cacheEntry, bool) {
	m.mu.RLock()
	entry, ok := m.cache[key]
	m.mu.RUnlock()
	if !ok {
		return cacheEntry{}, false
	}
	if m.now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.cache, key)
		m.mu.Unlock()
		return cacheEntry{}, false
	}
	return entry, true
}

func (m *MemoryManager) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	entry, ok := m.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return entry.data, true, nil
}

func (m *MemoryManager) Set(_ context.Context, key string, result any, ttl time.Duration) error {
	data, err := xjson.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal cached result: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	m.cache[key] = cacheEntry{data: data, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryManager) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryManager) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.lookup(key)
	return ok, nil
}

// GetTyped unmarshals a cached result into T.
func GetTyped[T any](m Manager, ctx context.Context, key string) (T, bool, error) {
	var zero T
	raw, found, err := m.Get(ctx, key)
	if err != nil || !found {
		return zero, found, err
	}
	var result T
	if err := xjson.Unmarshal(raw, &result); err != nil {
		return zero, false, fmt.Errorf("unmarshal cached result: %w", err)
	}
	return result, true, nil
}
