package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
)

// RedisStore is a Redis-based CheckpointStore for distributed deployments.
// Keys:
//
//	<prefix>run:<run>        run record (JSON string)
//	<prefix>nodes:<run>      hash node id -> checkpoint JSON
//	<prefix>index:all        zset of run ids scored by creation time
//	<prefix>index:wf:<wf>    zset of run ids per workflow
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ownClient bool
	logger    *zap.Logger
}

// NewRedisStore wraps an existing client. The caller keeps ownership of it.
func NewRedisStore(client redis.UniversalClient, keyPrefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.With(zap.String("component", "redis_checkpoint_store")),
	}
}

// DialRedisStore connects to Redis and verifies the connection.
func DialRedisStore(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewRedisStore(client, cfg.KeyPrefix, logger)
	s.ownClient = true
	return s, nil
}

func (s *RedisStore) runKey(runID string) string { return s.keyPrefix + "run:" + runID }
func (s *RedisStore) nodesKey(runID string) string { return s.keyPrefix + "nodes:" + runID }
func (s *RedisStore) allKey() string { return s.keyPrefix + "index:all" }
func (s *RedisStore) workflowKey(wfID string) string { return s.keyPrefix + "index:wf:" + wfID }

func (s *RedisStore) SaveRun(ctx context.Context, run *workflow.RunRecord) error {
	data, err := encodeRun(run)
	if err != nil {
		return err
	}
	score := float64(run.CreatedAt.UnixNano())

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.runKey(run.RunID), data, 0)
	pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: run.RunID})
	if run.WorkflowID != "" {
		pipe.ZAdd(ctx, s.workflowKey(run.WorkflowID), redis.Z{Score: score, Member: run.RunID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}
	return nil
}

func (s *RedisStore) LoadRun(ctx context.Context, runID string) (*workflow.RunRecord, error) {
	data, err := s.client.Get(ctx, s.runKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, workflow.RunNotFound(runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return decodeRun(data)
}

func (s *RedisStore) ListRuns(ctx context.Context, workflowID string, limit int) ([]*workflow.RunRecord, error) {
	index := s.allKey()
	if workflowID != "" {
		index = s.workflowKey(workflowID)
	}
	ids, err := s.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	if len(ids) == 0 {
		return []*workflow.RunRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.runKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load runs: %w", err)
	}

	runs := make([]*workflow.RunRecord, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// 索引残留：记录已删除
			continue
		}
		run, err := decodeRun([]byte(str))
		if err != nil {
			s.logger.Warn("skipping unreadable run", zap.String("run_id", ids[i]), zap.Error(err))
			continue
		}
		runs = append(runs, run)
	}
	return limitRuns(runs, limit), nil
}

func (s *RedisStore) DeleteRun(ctx context.Context, runID string) error {
	run, err := s.LoadRun(ctx, runID)
	if err != nil && !errors.Is(err, types.ErrRunNotFound) {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.runKey(runID), s.nodesKey(runID))
	pipe.ZRem(ctx, s.allKey(), runID)
	if run != nil && run.WorkflowID != "" {
		pipe.ZRem(ctx, s.workflowKey(run.WorkflowID), runID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	return nil
}

func (s *RedisStore) SaveNodeCheckpoint(ctx context.Context, cp *workflow.NodeCheckpoint) error {
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.nodesKey(cp.RunID), cp.NodeID, data).Err(); err != nil {
		return fmt.Errorf("failed to save checkpoint %s/%s: %w", cp.RunID, cp.NodeID, err)
	}
	return nil
}

func (s *RedisStore) LoadNodeCheckpoints(ctx context.Context, runID string) (map[string]*workflow.NodeCheckpoint, error) {
	fields, err := s.client.HGetAll(ctx, s.nodesKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoints for %s: %w", runID, err)
	}
	out := make(map[string]*workflow.NodeCheckpoint, len(fields))
	for nodeID, raw := range fields {
		cp, err := decodeCheckpoint([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", nodeID, err)
		}
		out[nodeID] = cp
	}
	return out, nil
}

// Close closes the client when the store dialed it.
func (s *RedisStore) Close() error {
	if !s.ownClient {
		return nil
	}
	err := s.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
