package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	traceIDKey     contextKey = "trace_id"
	executionIDKey contextKey = "execution_id"
	workflowIDKey  contextKey = "workflow_id"
	ownerIDKey     contextKey = "owner_id"
	requestIDKey   contextKey = "request_id"
)

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) {
	return lookup(ctx, traceIDKey)
}

// WithExecutionID 设置当前运行的 ExecutionID
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, executionIDKey, executionID)
}

// ExecutionID 获取 ExecutionID
func ExecutionID(ctx context.Context) (string, bool) {
	return lookup(ctx, executionIDKey)
}

// WithWorkflowID 设置 WorkflowID
func WithWorkflowID(ctx context.Context, workflowID string) context.Context {
	return context.WithValue(ctx, workflowIDKey, workflowID)
}

// WorkflowID 获取 WorkflowID
func WorkflowID(ctx context.Context) (string, bool) {
	return lookup(ctx, workflowIDKey)
}

// WithOwnerID 设置租户（工作流所有者）ID
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// OwnerID 获取租户 ID
func OwnerID(ctx context.Context) (string, bool) {
	return lookup(ctx, ownerIDKey)
}

// WithRequestID 设置 HTTP 请求 ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) {
	return lookup(ctx, requestIDKey)
}

func lookup(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
