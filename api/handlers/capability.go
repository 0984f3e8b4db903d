package handlers

import (
	"net/http"

	"github.com/BaSui01/nodeflow/workflow"
)

// CapabilityHandler 列出已注册的节点类型
type CapabilityHandler struct {
	registry *workflow.Registry
}

// NewCapabilityHandler 创建能力列表处理器
func NewCapabilityHandler(registry *workflow.Registry) *CapabilityHandler {
	return &CapabilityHandler{registry: registry}
}

// HandleList 处理 GET /v1/capabilities
func (h *CapabilityHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, h.registry.List())
}
