package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/workflow"
)

// BadgerStore 是嵌入式的 CheckpointStore，适合单节点、无外部依赖的部署。
// 键布局: run/<run> 与 node/<run>\x00<node>
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger
}

const (
	badgerRunPrefix  = "run/"
	badgerNodePrefix = "node/"
)

// OpenBadgerStore 打开（或创建）badger 数据库
func OpenBadgerStore(cfg BadgerConfig, logger *zap.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("%w: badger dir is required", ErrInvalidInput)
		}
		opts = badger.DefaultOptions(cfg.Dir).WithSyncWrites(cfg.SyncWrites)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{
		db:     db,
		logger: logger.With(zap.String("component", "badger_checkpoint_store")),
	}, nil
}

func badgerRunKey(runID string) []byte {
	return []byte(badgerRunPrefix + runID)
}

func badgerNodePrefixFor(runID string) []byte {
	return []byte(badgerNodePrefix + runID + "\x00")
}

func badgerNodeKey(runID, nodeID string) []byte {
	return append(badgerNodePrefixFor(runID), nodeID...)
}

func (s *BadgerStore) SaveRun(_ context.Context, run *workflow.RunRecord) error {
	data, err := encodeRun(run)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerRunKey(run.RunID), data)
	})
}

func (s *BadgerStore) LoadRun(_ context.Context, runID string) (*workflow.RunRecord, error) {
	var run *workflow.RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerRunKey(runID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, err := decodeRun(val)
			run = r
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, workflow.RunNotFound(runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return run, nil
}

func (s *BadgerStore) ListRuns(_ context.Context, workflowID string, limit int) ([]*workflow.RunRecord, error) {
	runs := make([]*workflow.RunRecord, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerRunPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				run, err := decodeRun(val)
				if err != nil {
					s.logger.Warn("skipping unreadable run", zap.ByteString("key", item.Key()), zap.Error(err))
					return nil
				}
				if workflowID == "" || run.WorkflowID == workflowID {
					runs = append(runs, run)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return limitRuns(runs, limit), nil
}

func (s *BadgerStore) DeleteRun(_ context.Context, runID string) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := badgerNodePrefixFor(runID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan checkpoints of %s: %w", runID, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return txn.Delete(badgerRunKey(runID))
	})
}

func (s *BadgerStore) SaveNodeCheckpoint(_ context.Context, cp *workflow.NodeCheckpoint) error {
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerNodeKey(cp.RunID, cp.NodeID), data)
	})
}

func (s *BadgerStore) LoadNodeCheckpoints(_ context.Context, runID string) (map[string]*workflow.NodeCheckpoint, error) {
	out := make(map[string]*workflow.NodeCheckpoint)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := badgerNodePrefixFor(runID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				cp, err := decodeCheckpoint(val)
				if err != nil {
					return err
				}
				out[cp.NodeID] = cp
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoints for %s: %w", runID, err)
	}
	return out, nil
}

// RunGC 回收 value log 空间；ErrNoRewrite 表示无需回收
func (s *BadgerStore) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

func (s *BadgerStore) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return ErrStoreClosed
	}
	return nil
}
