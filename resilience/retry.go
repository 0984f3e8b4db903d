package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy 定义节点调用的重试策略
type RetryPolicy struct {
	MaxRetries      int                                               // 最大重试次数（0 表示只执行一次）
	InitialDelay    time.Duration                                     // 首次重试前的等待时间
	MaxDelay        time.Duration                                     // 单次等待上限
	Multiplier      float64                                           // 指数退避倍数
	Jitter          bool                                              // ±25% 随机抖动
	RetryableErrors []error                                           // 仅当 ShouldRetry 为空时生效；为空表示全部可重试
	ShouldRetry     func(err error) bool                              // 自定义分类，优先于 RetryableErrors
	OnRetry         func(attempt int, err error, delay time.Duration) // 每次重试前回调
}

// DefaultRetryPolicy 返回默认重试策略：3 次重试，1s 起步，30s 封顶，倍数 2
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		ShouldRetry:  IsTransient,
	}
}

// Clone returns a shallow copy so callers can override fields per node.
func (p *RetryPolicy) Clone() *RetryPolicy {
	if p == nil {
		return DefaultRetryPolicy()
	}
	cp := *p
	cp.RetryableErrors = append([]error(nil), p.RetryableErrors...)
	return &cp
}

// MaxAttempts is MaxRetries+1.
func (p *RetryPolicy) MaxAttempts() int {
	return p.MaxRetries + 1
}

// Retryer 重试器接口
type Retryer interface {
	// Do 执行 fn，失败时按策略重试；attempt 从 1 开始
	Do(ctx context.Context, fn func(attempt int) error) error

	// DoWithResult 执行 fn 并返回结果
	DoWithResult(ctx context.Context, fn func(attempt int) (any, error)) (any, error)
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

type backoffRetryer struct {
	policy *RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer 创建指数退避重试器。policy 会被复制，调用方之后的修改不会生效。
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	p := policy.Clone()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoffRetryer{policy: p, logger: logger}
}

func (r *backoffRetryer) Do(ctx context.Context, fn func(attempt int) error) error {
	_, err := r.DoWithResult(ctx, func(attempt int) (any, error) {
		return nil, fn(attempt)
	})
	return err
}

func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func(attempt int) (any, error)) (any, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts(); attempt++ {
		if attempt > 1 {
			delay := r.calculateDelay(attempt - 1)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts()),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("retry aborted: %w", errors.Join(ctx.Err(), lastErr))
			case <-timer.C:
			}
		}

		result, err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !r.isRetryable(err) {
			r.logger.Debug("错误不可重试", zap.Int("attempt", attempt), zap.Error(err))
			return nil, err
		}
	}

	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxAttempts()),
		zap.Error(lastErr),
	)
	return nil, &ExhaustedError{Attempts: r.policy.MaxAttempts(), Err: lastErr}
}

// calculateDelay: initial * multiplier^(retry-1)，封顶后叠加抖动
func (r *backoffRetryer) calculateDelay(retry int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(retry-1))
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	if r.policy.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}

	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}
	return time.Duration(delay)
}

func (r *backoffRetryer) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if r.policy.ShouldRetry != nil {
		return r.policy.ShouldRetry(err)
	}
	if len(r.policy.RetryableErrors) == 0 {
		return true
	}
	for _, target := range r.policy.RetryableErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// DoTyped is a type-safe wrapper around Retryer.DoWithResult.
func DoTyped[T any](r Retryer, ctx context.Context, fn func(attempt int) (T, error)) (T, error) {
	result, err := r.DoWithResult(ctx, func(attempt int) (any, error) {
		return fn(attempt)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
