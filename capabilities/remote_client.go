package capabilities

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/internal/xjson"
	"github.com/BaSui01/nodeflow/resilience"
	"github.com/BaSui01/nodeflow/types"
)

const (
	defaultJobsPath = "/v1/jobs"
	maxResponseSize = 8 << 20

	headerIdempotencyKey = "Idempotency-Key"
	headerRunID          = "X-Nodeflow-Run-Id"
	headerNodeID         = "X-Nodeflow-Node-Id"
)

// Job status values reported by the generation service.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// jobRequest 提交给生成服务的请求体
type jobRequest struct {
	Model  string         `json:"model,omitempty"`
	Inputs map[string]any `json:"inputs"`
	Params map[string]any `json:"params,omitempty"`
}

// jobResponse 提交与轮询共用的响应体
type jobResponse struct {
	ID       string         `json:"id"`
	Status   string         `json:"status"`
	Stage    string         `json:"stage,omitempty"`
	Progress float64        `json:"progress,omitempty"`
	Outputs  map[string]any `json:"outputs,omitempty"`
	Cost     *float64       `json:"cost,omitempty"`
	Error    *jobError      `json:"error,omitempty"`

	raw []byte
}

type jobError struct {
	Message   string `json:"message"`
	Type      string `json:"type,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (j *jobResponse) done() bool {
	switch strings.ToLower(j.Status) {
	case JobSucceeded, "completed", JobFailed, "error", JobCancelled, "canceled":
		return true
	}
	return false
}

func (j *jobResponse) succeeded() bool {
	s := strings.ToLower(j.Status)
	return s == JobSucceeded || s == "completed"
}

// failure 把失败的任务转成错误；服务标记 retryable 时为暂时性错误。
func (j *jobResponse) failure() error {
	msg := "generation job " + j.ID + " " + strings.ToLower(j.Status)
	retryable := false
	if j.Error != nil {
		if j.Error.Message != "" {
			msg += ": " + j.Error.Message
		}
		retryable = j.Error.Retryable
	}
	code := types.ErrCodeNodeFailed
	if retryable {
		code = types.ErrCodeUpstreamError
	}
	return types.NewError(code, msg).WithRetryable(retryable)
}

// pick 按 gjson 路径从原始响应中取值
func (j *jobResponse) pick(path string) (any, bool) {
	res := gjson.GetBytes(j.raw, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// remoteClient 是所有 remote_generation 节点共享的 HTTP 客户端
type remoteClient struct {
	opts   Options
	http   *http.Client
	logger *zap.Logger
}

func newRemoteClient(opts Options) *remoteClient {
	return &remoteClient{
		opts:   opts,
		http:   opts.HTTPClient,
		logger: opts.Logger.With(zap.String("component", "remote_generation")),
	}
}

type requestMeta struct {
	idempotencyKey string
	runID          string
	nodeID         string
}

func (c *remoteClient) submit(ctx context.Context, endpoint string, req jobRequest, meta requestMeta) (*jobResponse, error) {
	body, err := xjson.Marshal(req)
	if err != nil {
		return nil, resilience.Terminal(fmt.Errorf("encode job request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Terminal(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if meta.idempotencyKey != "" {
		httpReq.Header.Set(headerIdempotencyKey, meta.idempotencyKey)
	}
	if meta.runID != "" {
		httpReq.Header.Set(headerRunID, meta.runID)
	}
	if meta.nodeID != "" {
		httpReq.Header.Set(headerNodeID, meta.nodeID)
	}
	return c.do(httpReq)
}

func (c *remoteClient) poll(ctx context.Context, endpoint, jobID string) (*jobResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, resilience.Terminal(err)
	}
	return c.do(httpReq)
}

func (c *remoteClient) do(req *http.Request) (*jobResponse, error) {
	req.Header.Set("Accept", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, types.NewError(types.ErrCodeUnavailable, "generation service unreachable").
			WithCause(err).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(io.LimitReader(resp.Body, maxResponseSize))
		return nil, mapHTTPError(resp.StatusCode, msg)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, types.NewError(types.ErrCodeUpstreamError, "read generation response").
			WithCause(err).
			WithRetryable(true)
	}
	job := &jobResponse{raw: data}
	if err := xjson.Unmarshal(data, job); err != nil {
		return nil, types.NewError(types.ErrCodeUpstreamError, "decode generation response").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true)
	}
	return job, nil
}

// mapHTTPError 将 HTTP 状态码映射为带重试标记的 types.Error
func mapHTTPError(status int, msg string) *types.Error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	var code types.ErrorCode
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = types.ErrCodeUnauthorized
	case http.StatusNotFound:
		code = types.ErrCodeNotFound
	case http.StatusTooManyRequests:
		code = types.ErrCodeRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		code = types.ErrCodeTimeout
	case http.StatusServiceUnavailable:
		code = types.ErrCodeUnavailable
	case http.StatusBadGateway, 529:
		code = types.ErrCodeUpstreamError
	default:
		if status >= 500 {
			code = types.ErrCodeUpstreamError
		} else {
			code = types.ErrCodeInvalidRequest
		}
	}
	return types.NewError(code, msg).
		WithHTTPStatus(status).
		WithRetryable(resilience.ClassifyHTTPStatus(status) == resilience.ClassTransient)
}

// readErrorMessage 读取响应体中的错误消息
// 尝试解析 JSON 错误响应，失败则回退到原始文本
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := xjson.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}
