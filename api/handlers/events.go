package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/events"
	"github.com/BaSui01/nodeflow/internal/xjson"
	"github.com/BaSui01/nodeflow/workflow"
)

const eventWriteTimeout = 10 * time.Second

// =============================================================================
// 📡 运行事件流 Handler
// =============================================================================

// EventsHandler 通过 websocket 推送单个运行的事件
type EventsHandler struct {
	hub      *events.Hub
	store    workflow.CheckpointStore
	isActive func(runID string) bool
	origins  []string
	logger   *zap.Logger
}

// EventsOption 配置 EventsHandler
type EventsOption func(*EventsHandler)

// WithOriginPatterns 允许的跨域 Origin（websocket.AcceptOptions.OriginPatterns）
func WithOriginPatterns(patterns ...string) EventsOption {
	return func(h *EventsHandler) {
		h.origins = patterns
	}
}

// NewEventsHandler 创建事件流处理器。isActive 判断运行是否仍在本进程执行。
func NewEventsHandler(hub *events.Hub, store workflow.CheckpointStore, isActive func(string) bool, logger *zap.Logger, opts ...EventsOption) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &EventsHandler{
		hub:      hub,
		store:    store,
		isActive: isActive,
		logger:   logger.With(zap.String("handler", "events")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// statusEvent 把运行记录的状态转成一条快照事件
func statusEvent(rec *workflow.RunRecord) workflow.RunEvent {
	ev := workflow.RunEvent{
		RunID:      rec.RunID,
		WorkflowID: rec.WorkflowID,
		NodeID:     rec.FailedNodeID,
		Cost:       rec.TotalCost,
		Error:      rec.Error,
		Timestamp:  rec.UpdatedAt,
	}
	switch rec.Status {
	case workflow.RunCompleted:
		ev.Type = workflow.EventRunCompleted
	case workflow.RunFailed:
		ev.Type = workflow.EventRunFailed
	default:
		// running 但不在本进程执行的运行也按 cancelled 报告
		ev.Type = workflow.EventRunCancelled
	}
	return ev
}

// HandleEvents 处理 GET /v1/runs/{id}/events
// 先订阅再查记录，避免错过订阅前一刻结束的运行
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	sub := h.hub.Subscribe(runID)
	defer sub.Cancel()

	rec, err := h.store.LoadRun(r.Context(), runID)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Debug("websocket accept failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 客户端只读；CloseRead 在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())
	logger := h.logger.With(zap.String("run_id", runID))

	if !h.isActive(runID) {
		// 运行可能在首次读取后才结束，重读拿到最终状态
		if latest, err := h.store.LoadRun(ctx, runID); err == nil {
			rec = latest
		}
		if err := h.write(ctx, conn, statusEvent(rec)); err != nil {
			logger.Debug("failed to send run status", zap.Error(err))
			return
		}
		conn.Close(websocket.StatusNormalClosure, "run is not active")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				if dropped := sub.Dropped(); dropped > 0 {
					logger.Info("slow event subscriber dropped events", zap.Int64("dropped", dropped))
				}
				conn.Close(websocket.StatusNormalClosure, "run finished")
				return
			}
			if err := h.write(ctx, conn, ev); err != nil {
				logger.Debug("event stream closed", zap.Error(err))
				return
			}
		}
	}
}

func (h *EventsHandler) write(ctx context.Context, conn *websocket.Conn, ev workflow.RunEvent) error {
	data, err := xjson.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
