package config

import (
	"fmt"
	"strings"

	"github.com/BaSui01/nodeflow/resilience"
)

// CheckpointDrivers 支持的检查点驱动
var CheckpointDrivers = []string{"memory", "file", "redis", "database", "badger", "mongo"}

// Validate 检查配置，一次返回全部问题
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, "rate limit must not be negative")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "server.tls_cert_file and server.tls_key_file must be set together")
	}

	e := c.Engine
	if e.MaxConcurrentRuns <= 0 {
		errs = append(errs, "engine.max_concurrent_runs must be positive")
	}
	if e.MaxNodes < 0 {
		errs = append(errs, "engine.max_nodes must not be negative")
	}
	if e.HighCostThreshold < 0 {
		errs = append(errs, "engine.high_cost_threshold must not be negative")
	}
	if e.ResumeLease < 0 {
		errs = append(errs, "engine.resume_lease must not be negative")
	}
	if e.HeartbeatTimeout <= 0 || e.HeartbeatCheckInterval <= 0 {
		errs = append(errs, "engine heartbeat timeout and check interval must be positive")
	}
	if e.Retry.MaxRetries < 0 {
		errs = append(errs, "engine.retry.max_retries must not be negative")
	}
	if e.Retry.Multiplier < 1 {
		errs = append(errs, "engine.retry.multiplier must be at least 1")
	}
	if e.Retry.MaxDelay > 0 && e.Retry.InitialDelay > e.Retry.MaxDelay {
		errs = append(errs, "engine.retry.initial_delay exceeds max_delay")
	}
	if e.CircuitBreaker.Enabled && (e.CircuitBreaker.FailureThreshold <= 0 || e.CircuitBreaker.Timeout <= 0) {
		errs = append(errs, "engine.circuit_breaker needs a positive failure_threshold and timeout")
	}

	if !validDriver(c.Checkpoint.Driver) {
		errs = append(errs, fmt.Sprintf("unknown checkpoint driver %q (supported: %s)",
			c.Checkpoint.Driver, strings.Join(CheckpointDrivers, ", ")))
	}
	switch c.Checkpoint.Driver {
	case "file":
		if c.File.BaseDir == "" {
			errs = append(errs, "file.base_dir is required for the file checkpoint driver")
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis checkpoint driver")
		}
	case "database":
		switch c.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
		}
	case "badger":
		if c.Badger.Dir == "" && !c.Badger.InMemory {
			errs = append(errs, "badger.dir is required unless badger.in_memory is set")
		}
	case "mongo":
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			errs = append(errs, "mongo.uri and mongo.database are required for the mongo checkpoint driver")
		}
	}

	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, "auth.jwt_secret must be at least 16 bytes when auth is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validDriver(d string) bool {
	for _, v := range CheckpointDrivers {
		if d == v {
			return true
		}
	}
	return false
}

// RetryPolicy 转换为执行器使用的重试策略，分类使用 resilience.IsTransient
func (e EngineConfig) RetryPolicy() *resilience.RetryPolicy {
	p := resilience.DefaultRetryPolicy()
	p.MaxRetries = e.Retry.MaxRetries
	p.InitialDelay = e.Retry.InitialDelay
	p.MaxDelay = e.Retry.MaxDelay
	p.Multiplier = e.Retry.Multiplier
	p.Jitter = e.Retry.Jitter
	return p
}

// CircuitBreakerSettings 转换为 resilience 的熔断配置；未启用时返回 false
func (e EngineConfig) CircuitBreakerSettings() (resilience.CircuitBreakerConfig, bool) {
	if !e.CircuitBreaker.Enabled {
		return resilience.CircuitBreakerConfig{}, false
	}
	cb := resilience.DefaultCircuitBreakerConfig()
	cb.FailureThreshold = e.CircuitBreaker.FailureThreshold
	cb.RecoveryTimeout = e.CircuitBreaker.Timeout
	if e.CircuitBreaker.SuccessThreshold > 0 {
		cb.SuccessThreshold = e.CircuitBreaker.SuccessThreshold
	}
	return cb, true
}
