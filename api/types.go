package api

import (
	"time"

	"github.com/BaSui01/nodeflow/workflow"
)

// =============================================================================
// 工作流定义类型
// =============================================================================

// ValidateRequest 校验或估算请求。
// @Description 提交待校验的工作流定义，estimate 额外使用 inputs
type ValidateRequest struct {
	// 工作流定义
	Definition *workflow.Definition `json:"definition" binding:"required"`
	// 绑定输入，仅 estimate 使用
	Inputs map[string]any `json:"inputs,omitempty"`
}

// EstimateResponse 估算结果，校验失败时 Estimate 为空。
type EstimateResponse struct {
	Validation *workflow.ValidationResult `json:"validation"`
	Estimate   *workflow.CostEstimate     `json:"estimate,omitempty"`
}

// =============================================================================
// 运行类型
// =============================================================================

// RunRequest 创建运行的请求。Definition 与 TemplateID 二选一。
// @Description 创建运行
type RunRequest struct {
	// 内联工作流定义
	Definition *workflow.Definition `json:"definition,omitempty"`
	// 已加载模板的 id
	TemplateID string `json:"template_id,omitempty" example:"image-to-video"`
	// 绑定输入
	Inputs map[string]any `json:"inputs,omitempty"`
	// 可选的运行 id，缺省时生成 UUID
	RunID string `json:"run_id,omitempty"`
}

// RunAccepted 后台运行已受理。
type RunAccepted struct {
	RunID      string             `json:"run_id"`
	WorkflowID string             `json:"workflow_id,omitempty"`
	Status     workflow.RunStatus `json:"status"`
	EventsURL  string             `json:"events_url"`
}

// RunSummary 运行列表中的一项，不含定义与输出。
type RunSummary struct {
	RunID        string             `json:"run_id"`
	WorkflowID   string             `json:"workflow_id"`
	Status       workflow.RunStatus `json:"status"`
	TotalCost    float64            `json:"total_cost"`
	FailedNodeID string             `json:"failed_node_id,omitempty"`
	Active       bool               `json:"active"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// NewRunSummary 从运行记录构建摘要
func NewRunSummary(r *workflow.RunRecord, active bool) RunSummary {
	return RunSummary{
		RunID:        r.RunID,
		WorkflowID:   r.WorkflowID,
		Status:       r.Status,
		TotalCost:    r.TotalCost,
		FailedNodeID: r.FailedNodeID,
		Active:       active,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// RunDetail 运行记录加已落盘的节点检查点。
type RunDetail struct {
	Run         *workflow.RunRecord                 `json:"run"`
	Checkpoints map[string]*workflow.NodeCheckpoint `json:"checkpoints"`
	Active      bool                                `json:"active"`
}

// =============================================================================
// 能力与模板类型
// =============================================================================

// TemplateSummary 模板列表项
type TemplateSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	File        string    `json:"file"`
	Hash        string    `json:"hash,omitempty"`
	Valid       bool      `json:"valid"`
	LoadedAt    time.Time `json:"loaded_at"`
}
