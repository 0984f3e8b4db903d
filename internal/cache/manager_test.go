package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/checkpoint"
	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/idempotency"
	"github.com/BaSui01/nodeflow/workflow"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 10 * time.Millisecond

	manager, err := NewManager(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return mr, manager
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.RedisConfig{Addr: "redis:6379", Password: "pw", DB: 2, TLS: true, CAFile: "/ca.pem"})
	assert.Equal(t, "redis:6379", cfg.Addr)
	assert.Equal(t, "pw", cfg.Password)
	assert.Equal(t, 2, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize) // 未设置时保留默认
	assert.True(t, cfg.TLS)
	assert.Equal(t, "/ca.pem", cfg.CAFile)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
}

func TestNewManager(t *testing.T) {
	_, manager := setupTestRedis(t)

	assert.NotNil(t, manager.Client())
	assert.NoError(t, manager.Ping(context.Background()))
}

func TestNewManager_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.MaxRetries = -1
	_, err := NewManager(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestNewManager_BadCAFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TLS = true
	cfg.CAFile = "/nonexistent/ca.pem"
	_, err := NewManager(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis tls")
}

func TestManager_Close(t *testing.T) {
	_, manager := setupTestRedis(t)

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	assert.Error(t, manager.Ping(context.Background()))
	_, err := manager.GetStats(context.Background())
	assert.Error(t, err)
}

func TestManager_GetStats(t *testing.T) {
	mr, manager := setupTestRedis(t)
	require.NoError(t, mr.Set("a", "1"))
	require.NoError(t, mr.Set("b", "2"))

	stats, err := manager.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Keys)
	assert.GreaterOrEqual(t, stats.TotalConns, uint32(1))
}

func TestManager_Run(t *testing.T) {
	_, manager := setupTestRedis(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- manager.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

// 检查点存储与幂等缓存共享同一客户端
func TestManager_SharedClient(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	store := checkpoint.NewRedisStore(manager.Client(), "nf:ckpt:", nil)
	require.NoError(t, store.SaveRun(ctx, &workflow.RunRecord{
		RunID:      "run-1",
		WorkflowID: "wf",
		Status:     workflow.RunRunning,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}))

	idem := idempotency.NewRedisManager(manager.Client(), "nf:idem:", nil)
	require.NoError(t, idem.Set(ctx, "k", map[string]any{"v": 1}, time.Minute))

	assert.True(t, mr.Exists("nf:ckpt:run:run-1"))
	assert.True(t, mr.Exists("nf:idem:k"))
}

// =============================================================================
// 🎯 Instrument 测试
// =============================================================================

type hitCounter struct {
	mu     sync.Mutex
	hits   map[string]int
	misses map[string]int
}

func newHitCounter() *hitCounter {
	return &hitCounter{hits: map[string]int{}, misses: map[string]int{}}
}

func (h *hitCounter) RecordCacheHit(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hits[name]++
}

func (h *hitCounter) RecordCacheMiss(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.misses[name]++
}

func TestInstrument(t *testing.T) {
	base := idempotency.NewMemoryManager(nil, 0)
	defer base.Close()
	rec := newHitCounter()
	m := Instrument(base, "idempotency", rec)
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "key", "value", time.Minute))
	data, ok, err := m.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `"value"`, string(data))

	assert.Equal(t, 1, rec.hits["idempotency"])
	assert.Equal(t, 1, rec.misses["idempotency"])
}

func TestInstrument_NilRecorder(t *testing.T) {
	base := idempotency.NewMemoryManager(nil, 0)
	defer base.Close()
	assert.Same(t, base, Instrument(base, "idempotency", nil))
}
