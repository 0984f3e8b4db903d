package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/nodeflow/resilience"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, EngineConfig{}, cfg.Engine)
	assert.NotEqual(t, CheckpointConfig{}, cfg.Checkpoint)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, BadgerConfig{}, cfg.Badger)
	assert.NotEqual(t, FileConfig{}, cfg.File)
	assert.NotEqual(t, MongoConfig{}, cfg.Mongo)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.False(t, cfg.Auth.Enabled)
}

func TestDefaultEngineConfig(t *testing.T) {
	cfg := DefaultEngineConfig()
	assert.Equal(t, 16, cfg.MaxConcurrentRuns)
	assert.Equal(t, 256, cfg.MaxNodes)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, time.Minute, cfg.ResumeLease)
	assert.Equal(t, 2*time.Minute, cfg.HeartbeatTimeout)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatCheckInterval)
	assert.Equal(t, DefaultRetryConfig(), cfg.Retry)
	assert.True(t, cfg.CircuitBreaker.Enabled)
	assert.Empty(t, cfg.RemoteGeneration.BaseURL)
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 50, cfg.RateLimitRPS)
	assert.Equal(t, 100, cfg.RateLimitBurst)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
}

func TestEngineConfig_RetryPolicy(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Retry = RetryConfig{MaxRetries: 2, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, Multiplier: 3, Jitter: false}

	p := cfg.RetryPolicy()
	assert.Equal(t, 2, p.MaxRetries)
	assert.Equal(t, 3, p.MaxAttempts())
	assert.Equal(t, 10*time.Millisecond, p.InitialDelay)
	assert.Equal(t, time.Second, p.MaxDelay)
	assert.InDelta(t, 3.0, p.Multiplier, 1e-9)
	assert.False(t, p.Jitter)
	require.NotNil(t, p.ShouldRetry)

	// 只有暂时性错误会重试
	assert.True(t, p.ShouldRetry(resilience.Transient(assert.AnError)))
	assert.False(t, p.ShouldRetry(assert.AnError))
}

func TestEngineConfig_CircuitBreakerSettings(t *testing.T) {
	cfg := DefaultEngineConfig()
	cb, ok := cfg.CircuitBreakerSettings()
	require.True(t, ok)
	assert.Equal(t, 5, cb.FailureThreshold)
	assert.Equal(t, 30*time.Second, cb.RecoveryTimeout)
	assert.Equal(t, 2, cb.SuccessThreshold)

	cfg.CircuitBreaker.Enabled = false
	_, ok = cfg.CircuitBreakerSettings()
	assert.False(t, ok)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "negative port", modify: func(c *Config) { c.Server.HTTPPort = -1 }, wantErr: "invalid HTTP port"},
		{name: "port too large", modify: func(c *Config) { c.Server.HTTPPort = 70000 }, wantErr: "invalid HTTP port"},
		{name: "cert without key", modify: func(c *Config) { c.Server.TLSCertFile = "cert.pem" }, wantErr: "tls_key_file"},
		{name: "no run slots", modify: func(c *Config) { c.Engine.MaxConcurrentRuns = 0 }, wantErr: "max_concurrent_runs"},
		{name: "negative retries", modify: func(c *Config) { c.Engine.Retry.MaxRetries = -1 }, wantErr: "max_retries"},
		{name: "shrinking backoff", modify: func(c *Config) { c.Engine.Retry.Multiplier = 0.5 }, wantErr: "multiplier"},
		{name: "delay above cap", modify: func(c *Config) { c.Engine.Retry.InitialDelay = time.Hour }, wantErr: "initial_delay exceeds max_delay"},
		{name: "unknown driver", modify: func(c *Config) { c.Checkpoint.Driver = "etcd" }, wantErr: `unknown checkpoint driver "etcd"`},
		{
			name:    "file driver without dir",
			modify:  func(c *Config) { c.Checkpoint.Driver = "file"; c.File.BaseDir = "" },
			wantErr: "file.base_dir",
		},
		{
			name:    "database driver unsupported",
			modify:  func(c *Config) { c.Checkpoint.Driver = "database"; c.Database.Driver = "oracle" },
			wantErr: `unsupported database driver "oracle"`,
		},
		{
			name:   "in-memory badger needs no dir",
			modify: func(c *Config) { c.Checkpoint.Driver = "badger"; c.Badger.Dir = ""; c.Badger.InMemory = true },
		},
		{
			name:    "mongo without database",
			modify:  func(c *Config) { c.Checkpoint.Driver = "mongo"; c.Mongo.Database = "" },
			wantErr: "mongo.uri and mongo.database",
		},
		{
			name:    "short jwt secret",
			modify:  func(c *Config) { c.Auth.Enabled = true; c.Auth.JWTSecret = "short" },
			wantErr: "jwt_secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Engine.MaxConcurrentRuns = 0
	cfg.Checkpoint.Driver = "etcd"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
	assert.Contains(t, err.Error(), "max_concurrent_runs")
	assert.Contains(t, err.Error(), "etcd")
}
