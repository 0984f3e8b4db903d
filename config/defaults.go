// =============================================================================
// 📦 nodeflow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Engine:     DefaultEngineConfig(),
		Checkpoint: DefaultCheckpointConfig(),
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		Badger:     DefaultBadgerConfig(),
		File:       DefaultFileConfig(),
		Mongo:      DefaultMongoConfig(),
		Auth:       AuthConfig{},
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultEngineConfig 返回默认引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxConcurrentRuns:      16,
		MaxNodes:               256,
		HighCostThreshold:      0,
		IdempotencyTTL:         24 * time.Hour,
		ResumeLease:            time.Minute,
		HeartbeatTimeout:       2 * time.Minute,
		HeartbeatCheckInterval: 15 * time.Second,
		DefinitionsDir:         "",
		Retry:                  DefaultRetryConfig(),
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		},
		RemoteGeneration: RemoteGenerationConfig{
			RequestTimeout: 30 * time.Second,
			PollInterval:   2 * time.Second,
			CostPerCall:    1,
		},
	}
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// DefaultCheckpointConfig 默认使用内存存储
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Driver:    "memory",
		KeyPrefix: "nodeflow:checkpoint:",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "nodeflow",
		Password:        "",
		Name:            "nodeflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     false,
	}
}

// DefaultBadgerConfig 返回默认 badger 配置
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		Dir:        "./data/badger",
		SyncWrites: true,
		GCInterval: 10 * time.Minute,
	}
}

// DefaultFileConfig 返回默认文件存储配置
func DefaultFileConfig() FileConfig {
	return FileConfig{BaseDir: "./data/checkpoints"}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "nodeflow",
		ConnectTimeout: 10 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "nodeflow",
		SampleRate:   0.1,
	}
}
