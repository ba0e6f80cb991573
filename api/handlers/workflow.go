package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/internal/ctxkeys"
	"github.com/BaSui01/mailflow/types"
	"github.com/BaSui01/mailflow/workflow"
	"github.com/BaSui01/mailflow/workflow/dsl"
)

// OwnerHeader 携带工作流所有者（租户）ID
const OwnerHeader = "X-Owner-ID"

// maxListLimit 执行记录单次查询上限
const maxListLimit = 500

// WorkflowEngine 工作流引擎的 HTTP 侧依赖
type WorkflowEngine interface {
	CreateWorkflow(ctx context.Context, ownerID string, def workflow.Definition) (*workflow.Workflow, error)
	ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]any, opts workflow.RunOptions) (*workflow.ExecutionResult, error)
	TestWorkflow(ctx context.Context, workflowID string) (*workflow.TestReport, error)
	DeployWorkflow(ctx context.Context, workflowID string) (*workflow.DeploymentResult, error)
}

// WorkflowReader 只读查询（由存储层实现）
type WorkflowReader interface {
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]*workflow.ExecutionSnapshot, error)
}

// ExecuteRequest 执行请求体
type ExecuteRequest struct {
	Input               map[string]any                 `json:"input,omitempty"`
	Strategy            workflow.OrchestrationStrategy `json:"strategy,omitempty"`
	NodeFailureStrategy workflow.NodeFailurePolicy     `json:"node_failure_strategy,omitempty"`
}

// WorkflowHandler 工作流 API 处理器
type WorkflowHandler struct {
	engine WorkflowEngine
	reader WorkflowReader
	logger *zap.Logger
}

// NewWorkflowHandler 创建工作流处理器
func NewWorkflowHandler(engine WorkflowEngine, reader WorkflowReader, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{engine: engine, reader: reader, logger: logger.With(zap.String("handler", "workflow"))}
}

// Register 在 mux 上注册 /api/v1/workflows 路由
func (h *WorkflowHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/workflows", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/workflows/{id}", h.HandleGet)
	mux.HandleFunc("POST /api/v1/workflows/{id}/test", h.HandleTest)
	mux.HandleFunc("POST /api/v1/workflows/{id}/deploy", h.HandleDeploy)
	mux.HandleFunc("POST /api/v1/workflows/{id}/executions", h.HandleExecute)
	mux.HandleFunc("GET /api/v1/workflows/{id}/executions", h.HandleListExecutions)
}

// HandleCreate 创建工作流。请求体为 JSON Definition，或
// Content-Type 为 application/yaml 时的 YAML 定义文件。
func (h *WorkflowHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	def, err := h.decodeDefinition(w, r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	wf, err := h.engine.CreateWorkflow(r.Context(), owner, *def)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	h.logger.Info("workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("owner_id", owner),
		zap.Int("nodes", len(wf.Nodes)))
	WriteData(w, r, http.StatusCreated, wf)
}

func (h *WorkflowHandler) decodeDefinition(w http.ResponseWriter, r *http.Request) (*workflow.Definition, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml":
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			return nil, types.NewValidationError("read request body", err.Error()).WithCause(err)
		}
		def, err := dsl.NewParser().Parse(data)
		if err != nil {
			if _, ok := types.AsError(err); ok {
				return nil, err
			}
			return nil, types.NewValidationError("invalid workflow definition", err.Error()).WithCause(err)
		}
		return def, nil
	default:
		var def workflow.Definition
		if err := DecodeJSONBody(w, r, &def, false); err != nil {
			return nil, err
		}
		return &def, nil
	}
}

// HandleGet 查询单个工作流
func (h *WorkflowHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	wf, err := h.authorize(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, wf)
}

// authorize 加载路径中的工作流并校验调用方是其所有者。
// 所有者不匹配时与不存在同样返回 NOT_FOUND，不暴露其他租户的工作流 ID。
func (h *WorkflowHandler) authorize(r *http.Request) (*workflow.Workflow, error) {
	owner, err := ownerFrom(r)
	if err != nil {
		return nil, err
	}
	id := r.PathValue("id")
	wf, err := h.reader.GetWorkflow(r.Context(), id)
	if err != nil {
		return nil, storeError(id, err)
	}
	if wf.OwnerID != owner {
		h.logger.Warn("workflow owner mismatch",
			zap.String("workflow_id", id),
			zap.String("owner_id", owner))
		return nil, types.NewNotFoundError("workflow", id)
	}
	return wf, nil
}

// HandleTest 静态检查工作流，不执行任何节点
func (h *WorkflowHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	wf, err := h.authorize(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	report, err := h.engine.TestWorkflow(r.Context(), wf.ID)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, report)
}

// HandleDeploy 测试通过后将工作流标记为已部署
func (h *WorkflowHandler) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	wf, err := h.authorize(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	res, err := h.engine.DeployWorkflow(r.Context(), wf.ID)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, res)
}

// HandleExecute 同步执行工作流，返回完整执行结果
func (h *WorkflowHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	wf, err := h.authorize(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	var req ExecuteRequest
	if err := DecodeJSONBody(w, r, &req, true); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	res, err := h.engine.ExecuteWorkflow(r.Context(), wf.ID, req.Input, workflow.RunOptions{
		Strategy:            req.Strategy,
		NodeFailureStrategy: req.NodeFailureStrategy,
	})
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, res)
}

// HandleListExecutions 查询执行记录（新到旧），?limit=N
func (h *WorkflowHandler) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteError(w, r, types.NewValidationError("limit must be a non-negative integer", raw), h.logger)
			return
		}
		limit = min(n, maxListLimit)
	}

	wf, err := h.authorize(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	snaps, err := h.reader.ListExecutions(r.Context(), wf.ID, limit)
	if err != nil {
		WriteError(w, r, storeError(wf.ID, err), h.logger)
		return
	}
	if snaps == nil {
		snaps = []*workflow.ExecutionSnapshot{}
	}
	WriteSuccess(w, r, snaps)
}

// ownerFrom 优先读取请求头，其次是认证中间件写入的 context
func ownerFrom(r *http.Request) (string, error) {
	if owner := r.Header.Get(OwnerHeader); owner != "" {
		return owner, nil
	}
	if owner, ok := ctxkeys.OwnerID(r.Context()); ok {
		return owner, nil
	}
	return "", types.NewValidationError(OwnerHeader + " header is required")
}

func storeError(id string, err error) error {
	if _, ok := types.AsError(err); ok {
		return err
	}
	if errors.Is(err, workflow.ErrWorkflowNotFound) {
		return types.NewNotFoundError("workflow", id).WithCause(err)
	}
	return types.NewError(types.ErrStorage, "storage request failed").WithWorkflow(id).WithCause(err)
}
