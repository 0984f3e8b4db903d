package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/nodeflow/workflow"
)

// RunModel is the workflow_runs row. Payload holds the full JSON record;
// the other columns exist for filtering and ordering.
type RunModel struct {
	RunID      string    `gorm:"column:run_id;primaryKey;size:128"`
	WorkflowID string    `gorm:"column:workflow_id;size:128;index:idx_workflow_runs_workflow"`
	Status     string    `gorm:"column:status;size:32"`
	Payload    string    `gorm:"column:payload;type:text;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;index:idx_workflow_runs_created"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (RunModel) TableName() string { return "workflow_runs" }

// NodeCheckpointModel is the node_checkpoints row.
type NodeCheckpointModel struct {
	RunID       string    `gorm:"column:run_id;primaryKey;size:128"`
	NodeID      string    `gorm:"column:node_id;primaryKey;size:128"`
	Payload     string    `gorm:"column:payload;type:text;not null"`
	CompletedAt time.Time `gorm:"column:completed_at"`
}

func (NodeCheckpointModel) TableName() string { return "node_checkpoints" }

// GormStore is a relational CheckpointStore.
type GormStore struct {
	db     *gorm.DB
	owned  bool
	logger *zap.Logger
}

// NewGormStore wraps an open connection. The caller keeps ownership of db.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{db: db, logger: logger.With(zap.String("component", "gorm_checkpoint_store"))}
}

// OpenDialector maps a driver name onto its gorm dialector.
func OpenDialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", driver)
	}
}

// OpenGormStore opens a connection per cfg. With AutoMigrate set the tables
// are created; otherwise run `nodeflow migrate up` first.
func OpenGormStore(ctx context.Context, cfg DatabaseConfig, logger *zap.Logger) (*GormStore, error) {
	dialector, err := OpenDialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	s := NewGormStore(db, logger)
	s.owned = true
	if cfg.AutoMigrate {
		if err := s.AutoMigrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// AutoMigrate creates or updates both tables.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&RunModel{}, &NodeCheckpointModel{}); err != nil {
		return fmt.Errorf("failed to migrate checkpoint tables: %w", err)
	}
	return nil
}

// DB returns the underlying connection.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) SaveRun(ctx context.Context, run *workflow.RunRecord) error {
	data, err := encodeRun(run)
	if err != nil {
		return err
	}
	row := RunModel{
		RunID:      run.RunID,
		WorkflowID: run.WorkflowID,
		Status:     string(run.Status),
		Payload:    string(data),
		CreatedAt:  run.CreatedAt,
		UpdatedAt:  run.UpdatedAt,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"workflow_id", "status", "payload", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}
	return nil
}

func (s *GormStore) LoadRun(ctx context.Context, runID string) (*workflow.RunRecord, error) {
	var row RunModel
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.RunNotFound(runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return decodeRun([]byte(row.Payload))
}

func (s *GormStore) ListRuns(ctx context.Context, workflowID string, limit int) ([]*workflow.RunRecord, error) {
	q := s.db.WithContext(ctx).Model(&RunModel{})
	if workflowID != "" {
		q = q.Where("workflow_id = ?", workflowID)
	}
	q = q.Order("created_at DESC").Order("run_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []RunModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*workflow.RunRecord, 0, len(rows))
	for _, row := range rows {
		run, err := decodeRun([]byte(row.Payload))
		if err != nil {
			s.logger.Warn("skipping unreadable run", zap.String("run_id", row.RunID), zap.Error(err))
			continue
		}
		runs = append(runs, run)
	}
	return limitRuns(runs, 0), nil
}

func (s *GormStore) DeleteRun(ctx context.Context, runID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).Delete(&NodeCheckpointModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete checkpoints of %s: %w", runID, err)
		}
		if err := tx.Where("run_id = ?", runID).Delete(&RunModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete run %s: %w", runID, err)
		}
		return nil
	})
}

func (s *GormStore) SaveNodeCheckpoint(ctx context.Context, cp *workflow.NodeCheckpoint) error {
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}
	row := NodeCheckpointModel{
		RunID:       cp.RunID,
		NodeID:      cp.NodeID,
		Payload:     string(data),
		CompletedAt: cp.CompletedAt,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "node_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "completed_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s/%s: %w", cp.RunID, cp.NodeID, err)
	}
	return nil
}

func (s *GormStore) LoadNodeCheckpoints(ctx context.Context, runID string) (map[string]*workflow.NodeCheckpoint, error) {
	var rows []NodeCheckpointModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load checkpoints for %s: %w", runID, err)
	}
	out := make(map[string]*workflow.NodeCheckpoint, len(rows))
	for _, row := range rows {
		cp, err := decodeCheckpoint([]byte(row.Payload))
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", row.NodeID, err)
		}
		out[cp.NodeID] = cp
	}
	return out, nil
}

// Close closes the connection when the store opened it.
func (s *GormStore) Close() error {
	if !s.owned {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
