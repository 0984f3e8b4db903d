package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNew(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name string
		cfg  Config
		want any
	}{
		{"default is memory", Config{}, &MemoryStore{}},
		{"memory", Config{Type: StoreTypeMemory}, &MemoryStore{}},
		{"file", Config{Type: StoreTypeFile, BaseDir: t.TempDir()}, &FileStore{}},
		{"redis", Config{Type: StoreTypeRedis, Redis: RedisConfig{Addr: mr.Addr()}}, &RedisStore{}},
		{"database", Config{Type: StoreTypeGorm, Database: DatabaseConfig{
			Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "cp.db"), AutoMigrate: true,
		}}, &GormStore{}},
		{"badger", Config{Type: StoreTypeBadger, Badger: BadgerConfig{InMemory: true}}, &BadgerStore{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(context.Background(), tt.cfg, zaptest.NewLogger(t))
			require.NoError(t, err)
			defer s.Close()
			assert.IsType(t, tt.want, s)
			assert.NoError(t, s.Ping(context.Background()))
		})
	}
}

func TestNew_Errors(t *testing.T) {
	_, err := New(context.Background(), Config{Type: "etcd"}, nil)
	assert.ErrorContains(t, err, "unsupported checkpoint store type")

	_, err = New(context.Background(), Config{Type: StoreTypeFile}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = New(context.Background(), Config{Type: StoreTypeMongo}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Panics(t, func() { MustNew(context.Background(), Config{Type: "etcd"}, nil) })
}

func TestStoreType_Valid(t *testing.T) {
	for _, st := range StoreTypes() {
		assert.True(t, st.Valid(), st)
	}
	assert.False(t, StoreType("etcd").Valid())
	assert.False(t, StoreType("").Valid())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, StoreTypeMemory, cfg.Type)
	assert.Equal(t, DefaultKeyPrefix, cfg.Redis.KeyPrefix)
	assert.True(t, cfg.Badger.SyncWrites)
	assert.NotEmpty(t, cfg.Mongo.Database)
}
