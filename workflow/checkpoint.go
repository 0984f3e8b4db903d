package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/nodeflow/internal/xjson"
	"github.com/BaSui01/nodeflow/types"
)

// RunStatus is the lifecycle state of a run record.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunRecord is the durable header of one workflow run. It carries the
// definition and inputs so a fresh process can resume the run by id alone.
type RunRecord struct {
	RunID          string         `json:"run_id"`
	WorkflowID     string         `json:"workflow_id"`
	Status         RunStatus      `json:"status"`
	Definition     *Definition    `json:"definition"`
	DefinitionHash string         `json:"definition_hash"`
	Inputs         map[string]any `json:"inputs,omitempty"`
	Outputs        map[string]any `json:"outputs,omitempty"`
	TotalCost      float64        `json:"total_cost"`
	FailedNodeID   string         `json:"failed_node_id,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NodeCheckpoint confirms that one node of one run succeeded with these
// outputs. Its presence is the only thing that stops a resumed run from
// invoking the node again.
type NodeCheckpoint struct {
	RunID       string         `json:"run_id"`
	NodeID      string         `json:"node_id"`
	NodeType    string         `json:"node_type"`
	Outputs     map[string]any `json:"outputs"`
	Cost        float64        `json:"cost"`
	Elapsed     time.Duration  `json:"elapsed"`
	Attempts    int            `json:"attempts"`
	CompletedAt time.Time      `json:"completed_at"`
}

// CheckpointStore is the durable execution substrate. SaveNodeCheckpoint must
// be durable when it returns nil. LoadRun returns an error matching
// types.ErrRunNotFound for unknown runs.
type CheckpointStore interface {
	SaveRun(ctx context.Context, run *RunRecord) error
	LoadRun(ctx context.Context, runID string) (*RunRecord, error)
	ListRuns(ctx context.Context, workflowID string, limit int) ([]*RunRecord, error)
	DeleteRun(ctx context.Context, runID string) error
	SaveNodeCheckpoint(ctx context.Context, cp *NodeCheckpoint) error
	LoadNodeCheckpoints(ctx context.Context, runID string) (map[string]*NodeCheckpoint, error)
}

// RunNotFound builds the error stores return for an unknown run.
func RunNotFound(runID string) error {
	return types.Errorf(types.ErrCodeRunNotFound, "run %q not found", runID)
}

// SortRuns orders runs newest first, breaking ties by run id. Stores use it
// for ListRuns.
func SortRuns(runs []*RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].RunID < runs[j].RunID
	})
}

// MemoryCheckpointStore keeps checkpoints in process memory. It survives
// nothing and exists for tests, the CLI and single-shot runs.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	runs        map[string]*RunRecord
	checkpoints map[string]map[string]*NodeCheckpoint
}

// NewMemoryCheckpointStore creates an empty store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		runs:        make(map[string]*RunRecord),
		checkpoints: make(map[string]map[string]*NodeCheckpoint),
	}
}

func (s *MemoryCheckpointStore) SaveRun(_ context.Context, run *RunRecord) error {
	cp := *run
	s.mu.Lock()
	s.runs[run.RunID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryCheckpointStore) LoadRun(_ context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, RunNotFound(runID)
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryCheckpointStore) ListRuns(_ context.Context, workflowID string, limit int) ([]*RunRecord, error) {
	s.mu.RLock()
	out := make([]*RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		if workflowID != "" && run.WorkflowID != workflowID {
			continue
		}
		cp := *run
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	SortRuns(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryCheckpointStore) DeleteRun(_ context.Context, runID string) error {
	s.mu.Lock()
	delete(s.runs, runID)
	delete(s.checkpoints, runID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryCheckpointStore) SaveNodeCheckpoint(_ context.Context, cp *NodeCheckpoint) error {
	c := *cp
	c.Outputs = cloneValues(cp.Outputs)

	s.mu.Lock()
	defer s.mu.Unlock()
	nodes, ok := s.checkpoints[cp.RunID]
	if !ok {
		nodes = make(map[string]*NodeCheckpoint)
		s.checkpoints[cp.RunID] = nodes
	}
	nodes[cp.NodeID] = &c
	return nil
}

func (s *MemoryCheckpointStore) LoadNodeCheckpoints(_ context.Context, runID string) (map[string]*NodeCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*NodeCheckpoint, len(s.checkpoints[runID]))
	for id, cp := range s.checkpoints[runID] {
		c := *cp
		c.Outputs = cloneValues(cp.Outputs)
		out[id] = &c
	}
	return out, nil
}

func cloneValues(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// normalizeValues round-trips m through JSON so values have the shapes a
// checkpoint store hands back: numbers as float64, structs and typed slices
// as map[string]any and []any. Live and restored runs then see identical
// inputs and outputs.
func normalizeValues(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := xjson.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := xjson.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
