package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrCodeUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true)

	assert.Equal(t, ErrCodeUpstreamError, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, root)
	assert.Equal(t, "[UPSTREAM_ERROR] upstream failed: root", err.Error())
}

func TestError_SentinelMatchesByCode(t *testing.T) {
	t.Parallel()

	err := Errorf(ErrCodeUnknownType, "unknown node type %q", "upscale")
	wrapped := fmt.Errorf("instantiate node n1: %w", err)

	assert.ErrorIs(t, wrapped, ErrUnknownType)
	assert.NotErrorIs(t, wrapped, ErrDuplicateType)
	assert.Equal(t, ErrCodeUnknownType, GetErrorCode(wrapped))
	assert.False(t, IsRetryable(wrapped))
}

func TestGetErrorCode_PlainError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}
