package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/nodeflow/events"
	"github.com/BaSui01/nodeflow/runner"
	"github.com/BaSui01/nodeflow/templates"
	"github.com/BaSui01/nodeflow/testutil/fixtures"
	"github.com/BaSui01/nodeflow/testutil/mocks"
	"github.com/BaSui01/nodeflow/workflow"
)

// testEnv 组装一套完整的 handler 依赖：mock 能力、内存存储、事件 hub 与模板目录
type testEnv struct {
	step    *mocks.MockCapability
	store   *workflow.MemoryCheckpointStore
	hub     *events.Hub
	runner  *runner.Runner
	catalog *templates.Catalog
	mux     *http.ServeMux
}

func newTestEnv(t *testing.T, delay time.Duration) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	reg := workflow.NewRegistry(logger)
	step := mocks.NewMockCapability().
		WithOutputs(map[string]any{"out": "done"}).
		WithEstimate(1.5).
		WithDelay(delay).
		Register(reg, "step")

	store := workflow.NewMemoryCheckpointStore()
	hub := events.NewHub(events.WithLogger(logger))
	exec := workflow.NewExecutor(reg,
		workflow.WithCheckpointStore(store),
		workflow.WithExecutorEventEmitter(hub.Emitter()),
		workflow.WithLogger(logger))
	r := runner.New(exec, runner.WithMaxConcurrentRuns(4), runner.WithLogger(logger))

	dir := t.TempDir()
	require.NoError(t, workflow.SaveDefinitionFile(fixtures.Chain("step", 2), filepath.Join(dir, "chain.json")))
	broken := fixtures.Chain("missing", 1)
	broken.ID = "broken"
	require.NoError(t, workflow.SaveDefinitionFile(broken, filepath.Join(dir, "broken.yaml")))
	catalog := templates.NewCatalog(exec.Validator(), logger)
	require.NoError(t, catalog.Load(dir))

	env := &testEnv{step: step, store: store, hub: hub, runner: r, catalog: catalog, mux: http.NewServeMux()}

	wh := NewWorkflowHandler(exec.Validator(), workflow.NewCostEstimator(reg, logger), logger)
	rh := NewRunHandler(r, catalog, logger)
	ch := NewCapabilityHandler(reg)
	th := NewTemplateHandler(catalog, logger)
	eh := NewEventsHandler(hub, store, r.IsActive, logger)

	env.mux.HandleFunc("POST /v1/workflows/validate", wh.HandleValidate)
	env.mux.HandleFunc("POST /v1/workflows/estimate", wh.HandleEstimate)
	env.mux.HandleFunc("POST /v1/runs", rh.HandleCreate)
	env.mux.HandleFunc("GET /v1/runs", rh.HandleList)
	env.mux.HandleFunc("GET /v1/runs/{id}", rh.HandleGet)
	env.mux.HandleFunc("POST /v1/runs/{id}/resume", rh.HandleResume)
	env.mux.HandleFunc("POST /v1/runs/{id}/cancel", rh.HandleCancel)
	env.mux.HandleFunc("GET /v1/runs/{id}/events", eh.HandleEvents)
	env.mux.HandleFunc("GET /v1/capabilities", ch.HandleList)
	env.mux.HandleFunc("GET /v1/templates", th.HandleList)
	env.mux.HandleFunc("GET /v1/templates/{id}", th.HandleGet)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
		hub.Close()
	})
	return env
}

// envelope 与 Response 相同，但保留 data 的原始 JSON 以便按具体类型解码
type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *ErrorInfo      `json:"error"`
	RequestID string          `json:"request_id"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func seed() map[string]any { return map[string]any{"seed": "s"} }

func (e *testEnv) waitStatus(t *testing.T, runID string, want workflow.RunStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec, err := e.store.LoadRun(context.Background(), runID)
		return err == nil && rec.Status == want && !e.runner.IsActive(runID)
	}, 3*time.Second, 5*time.Millisecond)
}
