package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	traceIDKey    contextKey = "trace_id"
	requestIDKey  contextKey = "request_id"
	runIDKey      contextKey = "run_id"
	workflowIDKey contextKey = "workflow_id"
	subjectKey    contextKey = "subject"
)

func with(ctx context.Context, key contextKey, v string) context.Context {
	return context.WithValue(ctx, key, v)
}

func get(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return with(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) {
	return get(ctx, traceIDKey)
}

// WithRequestID 设置请求 ID（X-Request-ID）
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return with(ctx, requestIDKey, requestID)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) {
	return get(ctx, requestIDKey)
}

// WithRunID 设置 RunID
func WithRunID(ctx context.Context, runID string) context.Context {
	return with(ctx, runIDKey, runID)
}

// RunID 获取 RunID
func RunID(ctx context.Context) (string, bool) {
	return get(ctx, runIDKey)
}

// WithWorkflowID 设置 WorkflowID
func WithWorkflowID(ctx context.Context, workflowID string) context.Context {
	return with(ctx, workflowIDKey, workflowID)
}

// WorkflowID 获取 WorkflowID
func WorkflowID(ctx context.Context) (string, bool) {
	return get(ctx, workflowIDKey)
}

// WithSubject 设置已认证调用方（JWT sub）
func WithSubject(ctx context.Context, subject string) context.Context {
	return with(ctx, subjectKey, subject)
}

// Subject 获取已认证调用方
func Subject(ctx context.Context) (string, bool) {
	return get(ctx, subjectKey)
}
