package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/workflow"
)

// FileStore 是基于文件的 CheckpointStore，适合单节点部署。
// 布局: <base>/runs/<run>/run.json 与 <base>/runs/<run>/nodes/<node>.json
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
	logger  *zap.Logger
}

// NewFileStore 创建文件存储并确保目录存在
func NewFileStore(baseDir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseDir == "" {
		return nil, fmt.Errorf("%w: base dir is required", ErrInvalidInput)
	}
	runsDir := filepath.Join(baseDir, "runs")
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileStore{
		baseDir: runsDir,
		logger:  logger.With(zap.String("component", "file_checkpoint_store")),
	}, nil
}

// 文件名转义，防止 id 中的路径分隔符逃出目录
func escapeName(id string) string {
	return url.PathEscape(id)
}

func (s *FileStore) runDir(runID string) string {
	return filepath.Join(s.baseDir, escapeName(runID))
}

// writeAtomic 写入临时文件后重命名
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	// 节点 checkpoint 返回 nil 时必须已落盘
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) checkOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *FileStore) SaveRun(_ context.Context, run *workflow.RunRecord) error {
	data, err := encodeRun(run)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	dir := s.runDir(run.RunID)
	if err := os.MkdirAll(filepath.Join(dir, "nodes"), 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	return writeAtomic(filepath.Join(dir, "run.json"), data)
}

func (s *FileStore) LoadRun(_ context.Context, runID string) (*workflow.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.readRun(s.runDir(runID), runID)
}

func (s *FileStore) readRun(dir, runID string) (*workflow.RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(dir, "run.json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, workflow.RunNotFound(runID)
	}
	if err != nil {
		return nil, err
	}
	return decodeRun(data)
}

func (s *FileStore) ListRuns(_ context.Context, workflowID string, limit int) ([]*workflow.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}
	runs := make([]*workflow.RunRecord, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		run, err := s.readRun(filepath.Join(s.baseDir, e.Name()), e.Name())
		if err != nil {
			// 半写入的目录不影响列表
			s.logger.Warn("skipping unreadable run", zap.String("dir", e.Name()), zap.Error(err))
			continue
		}
		if workflowID != "" && run.WorkflowID != workflowID {
			continue
		}
		runs = append(runs, run)
	}
	return limitRuns(runs, limit), nil
}

func (s *FileStore) DeleteRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	return os.RemoveAll(s.runDir(runID))
}

func (s *FileStore) SaveNodeCheckpoint(_ context.Context, cp *workflow.NodeCheckpoint) error {
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	dir := filepath.Join(s.runDir(cp.RunID), "nodes")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create nodes directory: %w", err)
	}
	return writeAtomic(filepath.Join(dir, escapeName(cp.NodeID)+".json"), data)
}

func (s *FileStore) LoadNodeCheckpoints(_ context.Context, runID string) (map[string]*workflow.NodeCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	dir := filepath.Join(s.runDir(runID), "nodes")
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]*workflow.NodeCheckpoint{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string]*workflow.NodeCheckpoint, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		cp, err := decodeCheckpoint(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out[cp.NodeID] = cp
	}
	return out, nil
}

// Close 关闭存储
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping 检查存储是否可用
func (s *FileStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := os.Stat(s.baseDir)
	return err
}
