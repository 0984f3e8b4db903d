package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/internal/ctxkeys"
	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		data       any
		wantStatus int
	}{
		{name: "simple object", data: map[string]string{"message": "hello"}, wantStatus: http.StatusOK},
		{name: "array", data: []int{1, 2, 3}, wantStatus: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.wantStatus, tt.data)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(ctxkeys.WithRequestID(r.Context(), "req-1"))

	WriteSuccess(w, r, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
	assert.Equal(t, "req-1", resp.RequestID)
}

func TestWriteError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            *types.Error
		expectedStatus int
	}{
		{"invalid request", types.NewError(types.ErrCodeInvalidRequest, "definition is required"), http.StatusBadRequest},
		{"run not found", types.NewError(types.ErrCodeRunNotFound, "run not found"), http.StatusNotFound},
		{"too many runs", types.NewError(types.ErrCodeTooManyRuns, "limit reached").WithRetryable(true), http.StatusTooManyRequests},
		{"explicit status wins", types.NewError(types.ErrCodeInternalError, "teapot").WithHTTPStatus(http.StatusTeapot), http.StatusTeapot},
		{"internal error", types.NewError(types.ErrCodeInternalError, "database connection failed"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
			assert.Equal(t, tt.err.Retryable, resp.Error.Retryable)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestWriteError_RetryAfterOnOverload(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, nil, types.NewError(types.ErrCodeTooManyRuns, "busy"), nil)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestWriteErr(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)

	t.Run("validation error carries issues", func(t *testing.T) {
		w := httptest.NewRecorder()
		verr := &workflow.ValidationError{
			WorkflowID: "wf",
			Issues: []workflow.ValidationIssue{
				{Code: workflow.IssueCircularDependency, Message: "cycle", Path: []string{"a", "b", "a"}},
			},
		}
		WriteErr(w, r, verr, zap.NewNop())

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		resp := decodeResponse(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, string(types.ErrCodeValidationFailed), resp.Error.Code)
		require.Len(t, resp.Error.Issues, 1)
		assert.Equal(t, workflow.IssueCircularDependency, resp.Error.Issues[0].Code)
		assert.Equal(t, []string{"a", "b", "a"}, resp.Error.Issues[0].Path)
	})

	t.Run("wrapped typed error keeps its code", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := errors.Join(errors.New("context"), types.ErrRunNotFound)
		WriteErr(w, r, err, zap.NewNop())

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, string(types.ErrCodeRunNotFound), decodeResponse(t, w).Error.Code)
	})

	t.Run("plain error is internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteErr(w, r, context.DeadlineExceeded, zap.NewNop())

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, string(types.ErrCodeInternalError), resp.Error.Code)
		assert.NotContains(t, resp.Error.Message, "deadline")
	})
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorMessage(w, nil, http.StatusMethodNotAllowed, types.ErrCodeInvalidRequest, "use POST", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "use POST", decodeResponse(t, w).Error.Message)
}

func TestDecodeJSONBody(t *testing.T) {
	logger := zap.NewNop()

	type TestStruct struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	tests := []struct {
		name      string
		body      string
		wantErr   bool
		checkFunc func(*testing.T, *TestStruct)
	}{
		{
			name: "valid JSON",
			body: `{"name":"test","value":123}`,
			checkFunc: func(t *testing.T, ts *TestStruct) {
				assert.Equal(t, "test", ts.Name)
				assert.Equal(t, 123, ts.Value)
			},
		},
		{name: "invalid JSON", body: `{"name":"test",}`, wantErr: true},
		{name: "unknown field", body: `{"name":"test","unknown":"field"}`, wantErr: true},
		{name: "empty body", body: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tt.body))

			var result TestStruct
			err := DecodeJSONBody(w, r, &result, logger)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, http.StatusBadRequest, w.Code)
				return
			}
			assert.NoError(t, err)
			if tt.checkFunc != nil {
				tt.checkFunc(t, &result)
			}
		})
	}
}

func TestDecodeJSONBody_MaxBodySize(t *testing.T) {
	type TestStruct struct {
		Name string `json:"name"`
	}

	oversized := `{"name":"` + strings.Repeat("x", 2<<20) + `"}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(oversized))

	var result TestStruct
	err := DecodeJSONBody(w, r, &result, zap.NewNop())
	assert.Error(t, err, "body exceeding 1 MB should be rejected")
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        bool
	}{
		{"valid application/json", "application/json", true},
		{"valid with charset", "application/json; charset=utf-8", true},
		{"valid with uppercase charset", "application/json; charset=UTF-8", true},
		{"valid with extra whitespace", "application/json;  charset=utf-8", true},
		{"invalid text/plain", "text/plain", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", nil)
			r.Header.Set("Content-Type", tt.contentType)

			assert.Equal(t, tt.want, ValidateContentType(w, r, zap.NewNop()))
		})
	}
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := NewResponseWriter(w)

	// 初始状态
	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.False(t, rw.Written)

	rw.WriteHeader(http.StatusCreated)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.True(t, rw.Written)

	// 再次写入应该被忽略
	rw.WriteHeader(http.StatusBadRequest)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)

	n, err := rw.Write([]byte("test"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.EqualValues(t, 4, rw.Bytes)
	assert.Same(t, w, rw.Unwrap())

	rw.Flush()
	assert.True(t, w.Flushed)

	// recorder 不支持 hijack
	_, _, err = rw.Hijack()
	assert.ErrorIs(t, err, http.ErrNotSupported)
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code       types.ErrorCode
		wantStatus int
	}{
		{types.ErrCodeInvalidRequest, http.StatusBadRequest},
		{types.ErrCodeUnknownType, http.StatusBadRequest},
		{types.ErrCodeValidationFailed, http.StatusUnprocessableEntity},
		{types.ErrCodeUnauthorized, http.StatusUnauthorized},
		{types.ErrCodeRunNotFound, http.StatusNotFound},
		{types.ErrCodeRunNotResumable, http.StatusConflict},
		{types.ErrCodeDefinitionChanged, http.StatusConflict},
		{types.ErrCodeTooManyRuns, http.StatusTooManyRequests},
		{types.ErrCodeTimeout, http.StatusGatewayTimeout},
		{types.ErrCodeUnavailable, http.StatusServiceUnavailable},
		{types.ErrCodeUpstreamError, http.StatusBadGateway},
		{types.ErrCodeStoreNotEnabled, http.StatusNotImplemented},
		{types.ErrCodeCheckpointFailed, http.StatusInternalServerError},
		{"UNKNOWN_CODE", http.StatusInternalServerError}, // 默认
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, mapErrorCodeToHTTPStatus(tt.code))
		})
	}
}
