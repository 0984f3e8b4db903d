package checkpoint

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// New creates a Store based on the configuration.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		store Store
		err   error
	)
	switch cfg.Type {
	case StoreTypeMemory, "":
		store = NewMemoryStore()
	case StoreTypeFile:
		store, err = NewFileStore(cfg.BaseDir, logger)
	case StoreTypeRedis:
		store, err = DialRedisStore(ctx, cfg.Redis, logger)
	case StoreTypeGorm:
		store, err = OpenGormStore(ctx, cfg.Database, logger)
	case StoreTypeBadger:
		store, err = OpenBadgerStore(cfg.Badger, logger)
	case StoreTypeMongo:
		store, err = OpenMongoStore(ctx, cfg.Mongo, logger)
	default:
		return nil, fmt.Errorf("unsupported checkpoint store type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s checkpoint store: %w", cfg.Type, err)
	}

	logger.Info("checkpoint store ready", zap.String("type", string(cfg.Type)))
	return store, nil
}

// MustNew creates a Store or panics on error.
//
// WARNING: only for application initialization. Use New anywhere else.
func MustNew(ctx context.Context, cfg Config, logger *zap.Logger) Store {
	store, err := New(ctx, cfg, logger)
	if err != nil {
		panic(fmt.Sprintf("failed to create checkpoint store: %v", err))
	}
	return store
}
