package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/nodeflow/internal/xjson"
	"github.com/BaSui01/nodeflow/workflow"
)

// Common errors
var (
	ErrStoreClosed  = errors.New("checkpoint store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType selects a storage backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeGorm   StoreType = "database"
	StoreTypeBadger StoreType = "badger"
	StoreTypeMongo  StoreType = "mongo"
)

// StoreTypes lists every supported backend.
func StoreTypes() []StoreType {
	return []StoreType{StoreTypeMemory, StoreTypeFile, StoreTypeRedis, StoreTypeGorm, StoreTypeBadger, StoreTypeMongo}
}

// Valid reports whether t names a supported backend.
func (t StoreType) Valid() bool {
	for _, s := range StoreTypes() {
		if s == t {
			return true
		}
	}
	return false
}

// Store is a workflow.CheckpointStore with a lifecycle.
type Store interface {
	workflow.CheckpointStore

	// Close releases the backend. Calling it twice is safe.
	Close() error

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error
}

// Config selects and configures a backend.
type Config struct {
	Type StoreType `json:"type" yaml:"type"`

	// BaseDir is the root directory of the file store.
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Badger   BadgerConfig   `json:"badger" yaml:"badger"`
	Mongo    MongoConfig    `json:"mongo" yaml:"mongo"`
}

// RedisConfig contains Redis-specific configuration.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DatabaseConfig selects a gorm dialect. Driver is postgres, mysql or sqlite.
type DatabaseConfig struct {
	Driver      string `json:"driver" yaml:"driver"`
	DSN         string `json:"dsn" yaml:"dsn"`
	AutoMigrate bool   `json:"auto_migrate" yaml:"auto_migrate"`
}

// BadgerConfig configures the embedded store. InMemory ignores Dir.
type BadgerConfig struct {
	Dir        string `json:"dir" yaml:"dir"`
	InMemory   bool   `json:"in_memory" yaml:"in_memory"`
	SyncWrites bool   `json:"sync_writes" yaml:"sync_writes"`
}

// MongoConfig configures the mongo store.
type MongoConfig struct {
	URI            string        `json:"uri" yaml:"uri"`
	Database       string        `json:"database" yaml:"database"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Type:    StoreTypeMemory,
		BaseDir: "./data/checkpoints",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: DefaultKeyPrefix,
		},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "nodeflow.db"},
		Badger:   BadgerConfig{Dir: "./data/badger", SyncWrites: true},
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "nodeflow",
			ConnectTimeout: 10 * time.Second,
		},
	}
}

// DefaultKeyPrefix prefixes every redis key the store writes.
const DefaultKeyPrefix = "nodeflow:checkpoint:"

func encodeRun(run *workflow.RunRecord) ([]byte, error) {
	if run == nil || run.RunID == "" {
		return nil, fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}
	data, err := xjson.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run %s: %w", run.RunID, err)
	}
	return data, nil
}

func decodeRun(data []byte) (*workflow.RunRecord, error) {
	var run workflow.RunRecord
	if err := xjson.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

func encodeCheckpoint(cp *workflow.NodeCheckpoint) ([]byte, error) {
	if cp == nil || cp.RunID == "" || cp.NodeID == "" {
		return nil, fmt.Errorf("%w: run id and node id are required", ErrInvalidInput)
	}
	data, err := xjson.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint %s/%s: %w", cp.RunID, cp.NodeID, err)
	}
	return data, nil
}

func decodeCheckpoint(data []byte) (*workflow.NodeCheckpoint, error) {
	var cp workflow.NodeCheckpoint
	if err := xjson.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// limitRuns sorts newest first and applies limit when positive.
func limitRuns(runs []*workflow.RunRecord, limit int) []*workflow.RunRecord {
	workflow.SortRuns(runs)
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs
}
