// Package cache provides the shared Redis connection and result-cache
// instrumentation.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/idempotency"
	"github.com/BaSui01/nodeflow/internal/tlsutil"
)

// =============================================================================
// 💾 Redis 连接管理器
// =============================================================================

// Manager 持有进程内共享的 Redis 客户端；检查点存储与幂等缓存复用同一连接池
type Manager struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// Config 缓存配置
type Config struct {
	Addr         string `yaml:"addr" json:"addr"`
	Password     string `yaml:"password" json:"password"`
	DB           int    `yaml:"db" json:"db"`
	MaxRetries   int    `yaml:"max_retries" json:"max_retries"`
	PoolSize     int    `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns" json:"min_idle_conns"`

	// TLS 为 true 时使用 tlsutil 的加固配置，CAFile 可指定私有 CA
	TLS    bool   `yaml:"tls" json:"tls"`
	CAFile string `yaml:"ca_file" json:"ca_file"`

	// 健康检查间隔，0 表示不检查
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// FromConfig 由全局配置中的 redis 段构建
func FromConfig(cfg config.RedisConfig) Config {
	c := DefaultConfig()
	c.Addr = cfg.Addr
	c.Password = cfg.Password
	c.DB = cfg.DB
	if cfg.PoolSize > 0 {
		c.PoolSize = cfg.PoolSize
	}
	c.MinIdleConns = cfg.MinIdleConns
	c.TLS = cfg.TLS
	c.CAFile = cfg.CAFile
	return c
}

// NewManager 连接 Redis 并验证连通性
func NewManager(ctx context.Context, cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if cfg.TLS {
		tlsCfg, err := tlsutil.ClientTLSConfig(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("redis tls: %w", err)
		}
		opts.TLSConfig = tlsCfg
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		redis:  client,
		config: cfg,
		logger: logger.With(zap.String("component", "cache")),
	}
	m.logger.Info("redis connection ready",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize),
		zap.Bool("tls", cfg.TLS),
	)
	return m, nil
}

// Client 返回共享客户端；调用方不负责关闭
func (m *Manager) Client() redis.UniversalClient {
	return m.redis
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("cache manager is closed")
	}
	return m.redis.Ping(ctx).Err()
}

// Close 关闭连接池
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.logger.Info("closing redis connection")
	return m.redis.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

// Run 周期性检查连接，直到 ctx 结束
func (m *Manager) Run(ctx context.Context) error {
	if m.config.HealthCheckInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := m.Ping(pingCtx); err != nil {
				m.logger.Error("redis health check failed", zap.Error(err))
			} else {
				m.logger.Debug("redis health check passed")
			}
			cancel()
		}
	}
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// Stats 键数量与本地连接池状态
type Stats struct {
	Keys       int64  `json:"keys"`
	Hits       uint32 `json:"pool_hits"`
	Misses     uint32 `json:"pool_misses"`
	Timeouts   uint32 `json:"pool_timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
}

// GetStats 返回当前库的键数量与连接池统计
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("cache manager is closed")
	}

	keys, err := m.redis.DBSize(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get redis dbsize: %w", err)
	}
	pool := m.redis.PoolStats()
	return &Stats{
		Keys:       keys,
		Hits:       pool.Hits,
		Misses:     pool.Misses,
		Timeouts:   pool.Timeouts,
		TotalConns: pool.TotalConns,
		IdleConns:  pool.IdleConns,
	}, nil
}

// =============================================================================
// 🎯 结果缓存埋点
// =============================================================================

// HitRecorder 接收命中/未命中事件，metrics.Collector 实现了它
type HitRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// instrumented 在 idempotency.Manager 的 Get 上记录命中率
type instrumented struct {
	idempotency.Manager
	name string
	rec  HitRecorder
}

// Instrument 包装幂等结果缓存；rec 为 nil 时原样返回
func Instrument(m idempotency.Manager, name string, rec HitRecorder) idempotency.Manager {
	if rec == nil {
		return m
	}
	return &instrumented{Manager: m, name: name, rec: rec}
}

func (i *instrumented) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	data, ok, err := i.Manager.Get(ctx, key)
	if err == nil {
		if ok {
			i.rec.RecordCacheHit(i.name)
		} else {
			i.rec.RecordCacheMiss(i.name)
		}
	}
	return data, ok, err
}
