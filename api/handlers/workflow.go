package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/api"
	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
)

// =============================================================================
// 🧩 工作流定义 Handler
// =============================================================================

// WorkflowHandler 校验与成本估算，不执行任何节点
type WorkflowHandler struct {
	validator *workflow.Validator
	estimator *workflow.CostEstimator
	logger    *zap.Logger
}

// NewWorkflowHandler 创建工作流定义处理器
func NewWorkflowHandler(validator *workflow.Validator, estimator *workflow.CostEstimator, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{
		validator: validator,
		estimator: estimator,
		logger:    logger.With(zap.String("handler", "workflow")),
	}
}

func (h *WorkflowHandler) decode(w http.ResponseWriter, r *http.Request) (*api.ValidateRequest, bool) {
	var req api.ValidateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return nil, false
	}
	if req.Definition == nil {
		WriteError(w, r, types.NewError(types.ErrCodeInvalidRequest, "definition is required"), h.logger)
		return nil, false
	}
	return &req, true
}

// HandleValidate 处理 POST /v1/workflows/validate
// 定义不合法时仍返回 200，结果里 valid=false 并列出全部问题
func (h *WorkflowHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	result := h.validator.Validate(req.Definition)
	h.logger.Debug("workflow validated",
		zap.String("workflow_id", req.Definition.ID),
		zap.Bool("valid", result.Valid),
		zap.Int("errors", len(result.Errors)),
		zap.Int("warnings", len(result.Warnings)))

	WriteSuccess(w, r, result)
}

// HandleEstimate 处理 POST /v1/workflows/estimate
func (h *WorkflowHandler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	resp := api.EstimateResponse{Validation: h.validator.Validate(req.Definition)}
	if resp.Validation.Valid {
		resp.Estimate = h.estimator.Estimate(req.Definition, req.Inputs)
	}
	WriteSuccess(w, r, resp)
}
