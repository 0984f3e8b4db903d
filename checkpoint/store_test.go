package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	glebarez "github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/BaSui01/nodeflow/testutil/fixtures"
	"github.com/BaSui01/nodeflow/testutil/mocks"
	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
)

// =============================================================================
// 🧪 后端工厂
// =============================================================================

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends(t *testing.T) []backend {
	list := []backend{
		{"memory", func(t *testing.T) Store { return NewMemoryStore() }},
		{"file", func(t *testing.T) Store {
			s, err := NewFileStore(t.TempDir(), zaptest.NewLogger(t))
			require.NoError(t, err)
			return s
		}},
		{"redis", func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return NewRedisStore(client, "", zaptest.NewLogger(t))
		}},
		{"gorm", func(t *testing.T) Store {
			db, err := gorm.Open(glebarez.Open(filepath.Join(t.TempDir(), "checkpoints.db")), &gorm.Config{})
			require.NoError(t, err)
			t.Cleanup(func() {
				if sqlDB, err := db.DB(); err == nil {
					sqlDB.Close()
				}
			})
			s := NewGormStore(db, zaptest.NewLogger(t))
			require.NoError(t, s.AutoMigrate(context.Background()))
			return s
		}},
		{"badger", func(t *testing.T) Store {
			s, err := OpenBadgerStore(BadgerConfig{InMemory: true}, zaptest.NewLogger(t))
			require.NoError(t, err)
			return s
		}},
	}

	// mongo 需要真实服务
	if uri := os.Getenv("NODEFLOW_TEST_MONGO_URI"); uri != "" {
		list = append(list, backend{"mongo", func(t *testing.T) Store {
			db := "nodeflow_test_" + time.Now().Format("150405.000000")
			s, err := OpenMongoStore(context.Background(), MongoConfig{URI: uri, Database: db}, zaptest.NewLogger(t))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.client.Database(db).Drop(context.Background()) })
			return s
		}})
	}
	return list
}

func openStore(t *testing.T, b backend) Store {
	t.Helper()
	s := b.open(t)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func sampleRun(runID, workflowID string, created time.Time) *workflow.RunRecord {
	def := fixtures.Chain("step", 2)
	def.ID = workflowID
	hash, _ := def.Hash()
	return &workflow.RunRecord{
		RunID:          runID,
		WorkflowID:     workflowID,
		Status:         workflow.RunRunning,
		Definition:     def,
		DefinitionHash: hash,
		Inputs:         map[string]any{"seed": "s", "n": 3.0},
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func sampleCheckpoint(runID, nodeID string) *workflow.NodeCheckpoint {
	return &workflow.NodeCheckpoint{
		RunID:    runID,
		NodeID:   nodeID,
		NodeType: "step",
		Outputs: map[string]any{
			"out":    nodeID + "-result",
			"n":      2.0,
			"nested": map[string]any{"k": []any{1.0, "x"}},
		},
		Cost:        1.25,
		Elapsed:     1500 * time.Millisecond,
		Attempts:    2,
		CompletedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// 🧪 统一契约测试
// =============================================================================

func TestStores_RunRecords(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, b)
			require.NoError(t, s.Ping(ctx))

			run := sampleRun("run-1", "wf-a", baseTime)
			require.NoError(t, s.SaveRun(ctx, run))

			got, err := s.LoadRun(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, run, got)

			// 覆盖写入
			run.Status = workflow.RunCompleted
			run.Outputs = map[string]any{"result": "done"}
			run.TotalCost = 4.5
			run.UpdatedAt = baseTime.Add(time.Minute)
			require.NoError(t, s.SaveRun(ctx, run))

			got, err = s.LoadRun(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, workflow.RunCompleted, got.Status)
			assert.Equal(t, map[string]any{"result": "done"}, got.Outputs)
			assert.InDelta(t, 4.5, got.TotalCost, 1e-9)
			assert.True(t, baseTime.Equal(got.CreatedAt))

			_, err = s.LoadRun(ctx, "missing")
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrRunNotFound))
		})
	}
}

func TestStores_ListRuns(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, b)

			require.NoError(t, s.SaveRun(ctx, sampleRun("r1", "wf-a", baseTime)))
			require.NoError(t, s.SaveRun(ctx, sampleRun("r2", "wf-b", baseTime.Add(time.Second))))
			require.NoError(t, s.SaveRun(ctx, sampleRun("r3", "wf-a", baseTime.Add(2*time.Second))))
			require.NoError(t, s.SaveRun(ctx, sampleRun("r0", "wf-a", baseTime)))

			all, err := s.ListRuns(ctx, "", 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"r3", "r2", "r0", "r1"}, runIDs(all))

			wfA, err := s.ListRuns(ctx, "wf-a", 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"r3", "r0", "r1"}, runIDs(wfA))

			limited, err := s.ListRuns(ctx, "wf-a", 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"r3", "r0"}, runIDs(limited))

			none, err := s.ListRuns(ctx, "wf-none", 0)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStores_NodeCheckpoints(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, b)
			require.NoError(t, s.SaveRun(ctx, sampleRun("run-1", "wf-a", baseTime)))

			empty, err := s.LoadNodeCheckpoints(ctx, "run-1")
			require.NoError(t, err)
			assert.NotNil(t, empty)
			assert.Empty(t, empty)

			cp1 := sampleCheckpoint("run-1", "step1")
			cp2 := sampleCheckpoint("run-1", "step2")
			require.NoError(t, s.SaveNodeCheckpoint(ctx, cp1))
			require.NoError(t, s.SaveNodeCheckpoint(ctx, cp2))
			require.NoError(t, s.SaveNodeCheckpoint(ctx, sampleCheckpoint("run-2", "step1")))

			// 同一节点再次写入覆盖
			cp2.Attempts = 3
			require.NoError(t, s.SaveNodeCheckpoint(ctx, cp2))

			got, err := s.LoadNodeCheckpoints(ctx, "run-1")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, cp1, got["step1"])
			assert.Equal(t, 3, got["step2"].Attempts)
		})
	}
}

func TestStores_DeleteRun(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, b)
			require.NoError(t, s.SaveRun(ctx, sampleRun("run-1", "wf-a", baseTime)))
			require.NoError(t, s.SaveRun(ctx, sampleRun("run-2", "wf-a", baseTime)))
			require.NoError(t, s.SaveNodeCheckpoint(ctx, sampleCheckpoint("run-1", "step1")))
			require.NoError(t, s.SaveNodeCheckpoint(ctx, sampleCheckpoint("run-2", "step1")))

			require.NoError(t, s.DeleteRun(ctx, "run-1"))
			require.NoError(t, s.DeleteRun(ctx, "never-existed"))

			_, err := s.LoadRun(ctx, "run-1")
			assert.True(t, errors.Is(err, types.ErrRunNotFound))
			cps, err := s.LoadNodeCheckpoints(ctx, "run-1")
			require.NoError(t, err)
			assert.Empty(t, cps)

			runs, err := s.ListRuns(ctx, "wf-a", 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"run-2"}, runIDs(runs))
			cps, err = s.LoadNodeCheckpoints(ctx, "run-2")
			require.NoError(t, err)
			assert.Len(t, cps, 1)
		})
	}
}

// A run crashed after step1 is resumed by a fresh executor against the same
// backend; step1 is restored rather than invoked again.
func TestStores_ResumeAfterCrash(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			s := openStore(t, b)
			node := newChainNode()
			reg := workflow.NewRegistry(nil)
			node.Register(reg, "step")
			def := fixtures.Chain("step", 3)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			crash := func(ev workflow.RunEvent) {
				if ev.Type == workflow.EventNodeCompleted && ev.NodeID == "step1" {
					cancel()
				}
			}
			first, err := workflow.NewExecutor(reg, workflow.WithCheckpointStore(s),
				workflow.WithExecutorEventEmitter(crash)).
				Execute(ctx, def, map[string]any{"seed": "s"}, workflow.WithRunID("crash-1"))
			require.NoError(t, err)
			require.True(t, first.Cancelled)
			require.Equal(t, 1, node.CallCount())

			resumed, err := workflow.NewExecutor(reg, workflow.WithCheckpointStore(s)).
				Resume(context.Background(), "crash-1")
			require.NoError(t, err)
			require.True(t, resumed.Success, resumed.Error)

			assert.Equal(t, 3, node.CallCount())
			assert.Equal(t, []string{"step1"}, resumed.ResumedNodes)
			assert.Equal(t, map[string]any{"result": "s>>>"}, resumed.Outputs)
			assert.InDelta(t, 4.5, resumed.TotalCost, 1e-9)

			record, err := s.LoadRun(context.Background(), "crash-1")
			require.NoError(t, err)
			assert.Equal(t, workflow.RunCompleted, record.Status)
		})
	}
}

// Typed outputs (int, []string) reach downstream nodes and the report in the
// same shape whether the producer ran live or was restored from the backend.
func TestStores_ResumeMatchesUninterruptedOutputs(t *testing.T) {
	def := &workflow.Definition{
		ID:   "typed",
		Name: "typed",
		Nodes: []workflow.NodeDefinition{
			fixtures.Node("count", "count", nil, []string{"n:integer", "tags:array"}),
			fixtures.Node("pass", "pass", []string{"n:integer!", "tags:array!"}, []string{"n:integer", "tags:array"}),
		},
		Connections: []workflow.Connection{
			fixtures.Connect("count", "n", "pass", "n"),
			fixtures.Connect("count", "tags", "pass", "tags"),
		},
		Outputs: []workflow.OutputDeclaration{
			{Name: "n", NodeID: "pass", Output: "n"},
			{Name: "tags", NodeID: "pass", Output: "tags"},
		},
	}
	newRegistry := func() (*workflow.Registry, *mocks.MockCapability) {
		reg := workflow.NewRegistry(nil)
		mocks.NewMockCapability().
			WithOutputs(map[string]any{"n": 7, "tags": []string{"a", "b"}}).
			Register(reg, "count")
		pass := mocks.NewMockCapability().
			WithOutputFunc(func(inputs map[string]any) map[string]any { return inputs }).
			Register(reg, "pass")
		return reg, pass
	}

	refReg, refPass := newRegistry()
	ref, err := workflow.NewExecutor(refReg).Execute(context.Background(), def, nil)
	require.NoError(t, err)
	require.True(t, ref.Success, ref.Error)
	assert.Equal(t, map[string]any{"n": float64(7), "tags": []any{"a", "b"}}, ref.Outputs)

	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			s := openStore(t, b)
			reg, pass := newRegistry()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			crash := func(ev workflow.RunEvent) {
				if ev.Type == workflow.EventNodeCompleted && ev.NodeID == "count" {
					cancel()
				}
			}
			first, err := workflow.NewExecutor(reg, workflow.WithCheckpointStore(s),
				workflow.WithExecutorEventEmitter(crash)).
				Execute(ctx, def, nil, workflow.WithRunID("typed-1"))
			require.NoError(t, err)
			require.True(t, first.Cancelled)

			resumed, err := workflow.NewExecutor(reg, workflow.WithCheckpointStore(s)).
				Resume(context.Background(), "typed-1")
			require.NoError(t, err)
			require.True(t, resumed.Success, resumed.Error)

			assert.Equal(t, ref.Outputs, resumed.Outputs)
			require.Len(t, pass.Calls(), 1)
			assert.Equal(t, refPass.Calls()[0].Inputs, pass.Calls()[0].Inputs)
		})
	}
}

func TestStores_CloseTwice(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			require.NoError(t, s.Close())
			assert.NoError(t, s.Close())
		})
	}
}

func TestEncodeRejectsMissingIDs(t *testing.T) {
	_, err := encodeRun(&workflow.RunRecord{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = encodeRun(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = encodeCheckpoint(&workflow.NodeCheckpoint{RunID: "r"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

// newChainNode appends ">" to its input and costs 1.5 per call.
func newChainNode() *mocks.MockCapability {
	return mocks.NewMockCapability().
		WithOutputFunc(func(inputs map[string]any) map[string]any {
			in, _ := inputs["in"].(string)
			return map[string]any{"out": in + ">"}
		}).
		WithCost(1.5)
}

func runIDs(runs []*workflow.RunRecord) []string {
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.RunID)
	}
	return out
}
