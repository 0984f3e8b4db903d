package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/api"
	"github.com/BaSui01/nodeflow/templates"
	"github.com/BaSui01/nodeflow/types"
)

// TemplateHandler 暴露从定义目录加载的模板
type TemplateHandler struct {
	catalog *templates.Catalog
	logger  *zap.Logger
}

// NewTemplateHandler 创建模板处理器
func NewTemplateHandler(catalog *templates.Catalog, logger *zap.Logger) *TemplateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateHandler{catalog: catalog, logger: logger.With(zap.String("handler", "template"))}
}

// HandleList 处理 GET /v1/templates
func (h *TemplateHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	entries := h.catalog.List()
	out := make([]api.TemplateSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, api.TemplateSummary{
			ID:          e.ID,
			Name:        e.Name,
			Description: e.Description,
			File:        e.File,
			Hash:        e.Hash,
			Valid:       e.Valid,
			LoadedAt:    e.LoadedAt,
		})
	}
	WriteSuccess(w, r, out)
}

// HandleGet 处理 GET /v1/templates/{id}，返回定义与校验结果
func (h *TemplateHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, ok := h.catalog.Get(id)
	if !ok {
		WriteError(w, r, types.Errorf(types.ErrCodeNotFound, "template %q not found", id), h.logger)
		return
	}
	WriteSuccess(w, r, e)
}
