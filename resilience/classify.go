package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/BaSui01/nodeflow/types"
)

// FailureClass partitions node invocation failures.
type FailureClass int

const (
	// ClassTerminal 不可重试：非法输入、永久拒绝
	ClassTerminal FailureClass = iota
	// ClassTransient 可重试：超时、限流、上游 5xx
	ClassTransient
)

func (c FailureClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a node type's breaker rejects a call.
var ErrCircuitOpen = types.NewError(types.ErrCodeCircuitOpen, "circuit breaker open").WithRetryable(true)

type classifiedError struct {
	class FailureClass
	err   error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Transient marks err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassTransient, err: err}
}

// Terminal marks err as non-retryable. A nil err stays nil.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassTerminal, err: err}
}

// Classify decides whether err is worth retrying. The outermost explicit
// Transient/Terminal wrapper wins; otherwise well-known error shapes are
// inspected and anything unrecognised is terminal.
func Classify(err error) FailureClass {
	if err == nil {
		return ClassTerminal
	}

	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}

	if errors.Is(err, context.Canceled) {
		return ClassTerminal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var te *types.Error
	if errors.As(err, &te) {
		if te.Retryable {
			return ClassTransient
		}
		switch te.Code {
		case types.ErrCodeRateLimited, types.ErrCodeUpstreamError, types.ErrCodeTimeout,
			types.ErrCodeUnavailable, types.ErrCodeCircuitOpen:
			return ClassTransient
		}
		return ClassTerminal
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassTransient
	}

	return ClassTerminal
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}

// ClassifyHTTPStatus maps a remote status code onto a failure class.
// 408/425/429 和 5xx 视为暂时性错误。
func ClassifyHTTPStatus(status int) FailureClass {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= 500:
		return ClassTransient
	default:
		return ClassTerminal
	}
}
