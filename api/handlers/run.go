package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/api"
	"github.com/BaSui01/nodeflow/runner"
	"github.com/BaSui01/nodeflow/templates"
	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// =============================================================================
// 🏃 运行 Handler
// =============================================================================

// RunHandler 创建、查询、恢复与取消运行
type RunHandler struct {
	runner    *runner.Runner
	store     workflow.CheckpointStore
	templates *templates.Catalog
	logger    *zap.Logger
}

// NewRunHandler 创建运行处理器；catalog 为 nil 时不支持 template_id
func NewRunHandler(r *runner.Runner, catalog *templates.Catalog, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		runner:    r,
		store:     r.Executor().Store(),
		templates: catalog,
		logger:    logger.With(zap.String("handler", "run")),
	}
}

func eventsURL(runID string) string {
	return "/v1/runs/" + runID + "/events"
}

func wantsWait(r *http.Request) bool {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return wait
}

// definition 解析请求中的内联定义或模板 id
func (h *RunHandler) definition(req *api.RunRequest) (*workflow.Definition, error) {
	switch {
	case req.Definition != nil && req.TemplateID != "":
		return nil, types.NewError(types.ErrCodeInvalidRequest, "definition and template_id are mutually exclusive")
	case req.Definition != nil:
		return req.Definition, nil
	case req.TemplateID == "":
		return nil, types.NewError(types.ErrCodeInvalidRequest, "definition or template_id is required")
	case h.templates == nil:
		return nil, types.NewError(types.ErrCodeNotFound, "no templates are loaded")
	}

	e, ok := h.templates.Get(req.TemplateID)
	if !ok {
		return nil, types.Errorf(types.ErrCodeNotFound, "template %q not found", req.TemplateID)
	}
	if !e.Valid {
		verr := &workflow.ValidationError{WorkflowID: e.ID}
		if e.Validation != nil {
			verr.Issues = e.Validation.Errors
		}
		return nil, verr
	}
	return e.Definition, nil
}

// HandleCreate 处理 POST /v1/runs
// 默认后台执行并返回 202；?wait=true 时同步执行并返回报告
func (h *RunHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.RunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	def, err := h.definition(&req)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}

	if wantsWait(r) {
		report, err := h.runner.Run(r.Context(), def, req.Inputs, req.RunID)
		if err != nil {
			WriteErr(w, r, err, h.logger)
			return
		}
		WriteSuccess(w, r, report)
		return
	}

	runID, err := h.runner.Start(r.Context(), def, req.Inputs, req.RunID)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}

	h.logger.Info("run accepted",
		zap.String("run_id", runID),
		zap.String("workflow_id", def.ID))

	WriteSuccessStatus(w, r, http.StatusAccepted, api.RunAccepted{
		RunID:      runID,
		WorkflowID: def.ID,
		Status:     workflow.RunRunning,
		EventsURL:  eventsURL(runID),
	})
}

// HandleList 处理 GET /v1/runs?workflow_id=&limit=
func (h *RunHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteError(w, r, types.Errorf(types.ErrCodeInvalidRequest, "invalid limit %q", raw), h.logger)
			return
		}
		limit = min(n, maxListLimit)
	}

	runs, err := h.store.ListRuns(r.Context(), q.Get("workflow_id"), limit)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}

	out := make([]api.RunSummary, 0, len(runs))
	for _, rec := range runs {
		out = append(out, api.NewRunSummary(rec, h.runner.IsActive(rec.RunID)))
	}
	WriteSuccess(w, r, out)
}

// HandleGet 处理 GET /v1/runs/{id}
func (h *RunHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	rec, err := h.store.LoadRun(r.Context(), runID)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	cps, err := h.store.LoadNodeCheckpoints(r.Context(), runID)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.RunDetail{
		Run:         rec,
		Checkpoints: cps,
		Active:      h.runner.IsActive(runID),
	})
}

// HandleResume 处理 POST /v1/runs/{id}/resume
func (h *RunHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	rec, err := h.store.LoadRun(r.Context(), runID)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}

	if wantsWait(r) {
		report, err := h.runner.ResumeSync(r.Context(), runID)
		if err != nil {
			WriteErr(w, r, err, h.logger)
			return
		}
		WriteSuccess(w, r, report)
		return
	}

	if err := h.runner.Resume(r.Context(), runID); err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}

	h.logger.Info("run resumed",
		zap.String("run_id", runID),
		zap.String("previous_status", string(rec.Status)))

	WriteSuccessStatus(w, r, http.StatusAccepted, api.RunAccepted{
		RunID:      runID,
		WorkflowID: rec.WorkflowID,
		Status:     workflow.RunRunning,
		EventsURL:  eventsURL(runID),
	})
}

// HandleCancel 处理 POST /v1/runs/{id}/cancel
// 只能取消本进程中正在执行的运行；记录随后变为 cancelled
func (h *RunHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if h.runner.Cancel(runID) {
		WriteSuccessStatus(w, r, http.StatusAccepted, map[string]string{
			"run_id": runID,
			"status": "cancelling",
		})
		return
	}

	rec, err := h.store.LoadRun(r.Context(), runID)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteError(w, r, types.Errorf(types.ErrCodeInvalidRequest,
		"run %q is not active (status %s)", runID, rec.Status).WithHTTPStatus(http.StatusConflict), h.logger)
}
