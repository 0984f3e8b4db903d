package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/nodeflow/capabilities"
	"github.com/BaSui01/nodeflow/checkpoint"
	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/idempotency"
	"github.com/BaSui01/nodeflow/internal/cache"
	"github.com/BaSui01/nodeflow/internal/database"
	"github.com/BaSui01/nodeflow/resilience"
	"github.com/BaSui01/nodeflow/workflow"
)

const idempotencyKeyPrefix = "nodeflow:idempotency:"

// =============================================================================
// 🗄️ 存储后端
// =============================================================================

// backends 持有检查点存储及其底层连接。redis 和 database 驱动的连接由
// cache.Manager / database.PoolManager 管理，以便健康检查与指标复用同一连接。
type backends struct {
	store       checkpoint.Store
	cache       *cache.Manager
	pool        *database.PoolManager
	badger      *checkpoint.BadgerStore
	idempotency idempotency.Manager
	memIdem     *idempotency.MemoryManager
	logger      *zap.Logger
}

// checkpointConfig 把全局配置映射为 checkpoint.Config
func checkpointConfig(cfg *config.Config) checkpoint.Config {
	return checkpoint.Config{
		Type:    checkpoint.StoreType(cfg.Checkpoint.Driver),
		BaseDir: cfg.File.BaseDir,
		Redis: checkpoint.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Checkpoint.KeyPrefix,
		},
		Database: checkpoint.DatabaseConfig{
			Driver:      cfg.Database.Driver,
			DSN:         cfg.Database.GormDSN(),
			AutoMigrate: cfg.Database.AutoMigrate,
		},
		Badger: checkpoint.BadgerConfig{
			Dir:        cfg.Badger.Dir,
			InMemory:   cfg.Badger.InMemory,
			SyncWrites: cfg.Badger.SyncWrites,
		},
		Mongo: checkpoint.MongoConfig{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
		},
	}
}

// openBackends 按 checkpoint.driver 打开存储；失败时已打开的连接会被关闭
func openBackends(ctx context.Context, cfg *config.Config, rec cache.HitRecorder, logger *zap.Logger) (_ *backends, err error) {
	b := &backends{logger: logger}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	switch checkpoint.StoreType(cfg.Checkpoint.Driver) {
	case checkpoint.StoreTypeRedis:
		b.cache, err = cache.NewManager(ctx, cache.FromConfig(cfg.Redis), logger)
		if err != nil {
			return nil, err
		}
		b.store = checkpoint.NewRedisStore(b.cache.Client(), cfg.Checkpoint.KeyPrefix, logger)

	case checkpoint.StoreTypeGorm:
		dialector, derr := checkpoint.OpenDialector(cfg.Database.Driver, cfg.Database.GormDSN())
		if derr != nil {
			return nil, derr
		}
		db, oerr := gorm.Open(dialector, &gorm.Config{})
		if oerr != nil {
			return nil, fmt.Errorf("failed to connect database: %w", oerr)
		}
		b.pool, err = database.NewPoolManager(db, cfg.Database.Driver, database.FromConfig(cfg.Database), logger)
		if err != nil {
			if sqlDB, dberr := db.DB(); dberr == nil {
				_ = sqlDB.Close()
			}
			return nil, err
		}
		gs := checkpoint.NewGormStore(b.pool.DB(), logger)
		if cfg.Database.AutoMigrate {
			if err = gs.AutoMigrate(ctx); err != nil {
				return nil, err
			}
		}
		b.store = gs

	default:
		b.store, err = checkpoint.New(ctx, checkpointConfig(cfg), logger)
		if err != nil {
			return nil, err
		}
		b.badger, _ = b.store.(*checkpoint.BadgerStore)
	}

	// 有 redis 连接时幂等缓存跨进程共享，否则退回进程内缓存
	if b.cache != nil {
		b.idempotency = idempotency.NewRedisManager(b.cache.Client(), idempotencyKeyPrefix, logger)
	} else {
		b.memIdem = idempotency.NewMemoryManager(logger, time.Minute)
		b.idempotency = b.memIdem
	}
	b.idempotency = cache.Instrument(b.idempotency, "idempotency", rec)

	logger.Info("checkpoint store ready", zap.String("driver", cfg.Checkpoint.Driver))
	return b, nil
}

// Close 依次关闭存储与连接
func (b *backends) Close() error {
	var errs []error
	if b.store != nil {
		errs = append(errs, b.store.Close())
	}
	if b.memIdem != nil {
		b.memIdem.Close()
	}
	if b.pool != nil {
		errs = append(errs, b.pool.Close())
	}
	if b.cache != nil {
		errs = append(errs, b.cache.Close())
	}
	return errors.Join(errs...)
}

// runBadgerGC 周期性回收 badger value log，直到 ctx 结束
func (b *backends) runBadgerGC(ctx context.Context, interval time.Duration) error {
	if b.badger == nil || interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := b.badger.RunGC(0.5); err != nil {
				b.logger.Debug("badger value log gc", zap.Error(err))
			}
		}
	}
}

// =============================================================================
// ⚙️ 引擎
// =============================================================================

// engine 是能力注册表与其上的校验器、估算器；breakers 在未配置熔断时为 nil
type engine struct {
	registry  *workflow.Registry
	validator *workflow.Validator
	estimator *workflow.CostEstimator
	breakers  *resilience.CircuitBreakerRegistry
}

func newEngine(cfg *config.Config, logger *zap.Logger) (*engine, error) {
	opts := capabilities.OptionsFromConfig(cfg.Engine.RemoteGeneration)
	opts.Logger = logger
	reg, err := capabilities.NewRegistry(opts)
	if err != nil {
		return nil, fmt.Errorf("register capabilities: %w", err)
	}
	e := &engine{
		registry: reg,
		validator: workflow.NewValidator(reg,
			workflow.WithMaxNodes(cfg.Engine.MaxNodes),
			workflow.WithHighCostThreshold(cfg.Engine.HighCostThreshold),
			workflow.WithValidatorLogger(logger),
		),
		estimator: workflow.NewCostEstimator(reg, logger),
	}
	if cbCfg, ok := cfg.Engine.CircuitBreakerSettings(); ok {
		e.breakers = resilience.NewCircuitBreakerRegistry(cbCfg, func(ev resilience.CircuitBreakerEvent) {
			logger.Warn("circuit breaker state changed",
				zap.String("node_type", ev.NodeType),
				zap.String("from", ev.OldState.String()),
				zap.String("to", ev.NewState.String()),
				zap.String("reason", ev.Reason))
		}, logger)
	}
	return e, nil
}

// executorOptions 汇总执行器的公共选项；extra 追加在后面
func (e *engine) executorOptions(cfg *config.Config, b *backends, logger *zap.Logger, extra ...workflow.ExecutorOption) []workflow.ExecutorOption {
	opts := []workflow.ExecutorOption{
		workflow.WithExecutorValidator(e.validator),
		workflow.WithCheckpointStore(b.store),
		workflow.WithRetryPolicy(cfg.Engine.RetryPolicy()),
		workflow.WithIdempotency(b.idempotency, cfg.Engine.IdempotencyTTL),
		workflow.WithResumeLease(cfg.Engine.ResumeLease),
		workflow.WithLogger(logger),
	}
	if e.breakers != nil {
		opts = append(opts, workflow.WithCircuitBreakers(e.breakers))
	}
	return append(opts, extra...)
}
