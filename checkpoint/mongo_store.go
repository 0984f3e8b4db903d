package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/workflow"
)

// runDocument keeps the record as a JSON payload so nested values decode to
// the same Go types as every other backend.
type runDocument struct {
	RunID      string    `bson:"_id"`
	WorkflowID string    `bson:"workflow_id"`
	Status     string    `bson:"status"`
	Payload    string    `bson:"payload"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

type checkpointDocument struct {
	ID          string    `bson:"_id"`
	RunID       string    `bson:"run_id"`
	NodeID      string    `bson:"node_id"`
	Payload     string    `bson:"payload"`
	CompletedAt time.Time `bson:"completed_at"`
}

// MongoStore stores runs and node checkpoints in two collections.
type MongoStore struct {
	client      *mongo.Client
	runs        *mongo.Collection
	checkpoints *mongo.Collection
	logger      *zap.Logger
}

// OpenMongoStore connects, verifies the server and ensures indexes.
func OpenMongoStore(ctx context.Context, cfg MongoConfig, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URI == "" || cfg.Database == "" {
		return nil, fmt.Errorf("%w: mongo uri and database are required", ErrInvalidInput)
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI).SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &MongoStore{
		client:      client,
		runs:        db.Collection("runs"),
		checkpoints: db.Collection("node_checkpoints"),
		logger:      logger.With(zap.String("component", "mongo_checkpoint_store")),
	}
	if err := s.ensureIndexes(pingCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.runs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "workflow_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create runs index: %w", err)
	}
	_, err = s.checkpoints.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "run_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create checkpoints index: %w", err)
	}
	return nil
}

func (s *MongoStore) SaveRun(ctx context.Context, run *workflow.RunRecord) error {
	data, err := encodeRun(run)
	if err != nil {
		return err
	}
	doc := runDocument{
		RunID:      run.RunID,
		WorkflowID: run.WorkflowID,
		Status:     string(run.Status),
		Payload:    string(data),
		CreatedAt:  run.CreatedAt,
		UpdatedAt:  run.UpdatedAt,
	}
	_, err = s.runs.ReplaceOne(ctx, bson.M{"_id": run.RunID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}
	return nil
}

func (s *MongoStore) LoadRun(ctx context.Context, runID string) (*workflow.RunRecord, error) {
	var doc runDocument
	err := s.runs.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, workflow.RunNotFound(runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return decodeRun([]byte(doc.Payload))
}

func (s *MongoStore) ListRuns(ctx context.Context, workflowID string, limit int) ([]*workflow.RunRecord, error) {
	filter := bson.M{}
	if workflowID != "" {
		filter["workflow_id"] = workflowID
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.runs.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	var docs []runDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode runs: %w", err)
	}

	runs := make([]*workflow.RunRecord, 0, len(docs))
	for _, doc := range docs {
		run, err := decodeRun([]byte(doc.Payload))
		if err != nil {
			s.logger.Warn("skipping unreadable run", zap.String("run_id", doc.RunID), zap.Error(err))
			continue
		}
		runs = append(runs, run)
	}
	return limitRuns(runs, 0), nil
}

func (s *MongoStore) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.checkpoints.DeleteMany(ctx, bson.M{"run_id": runID}); err != nil {
		return fmt.Errorf("failed to delete checkpoints of %s: %w", runID, err)
	}
	if _, err := s.runs.DeleteOne(ctx, bson.M{"_id": runID}); err != nil {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	return nil
}

func (s *MongoStore) SaveNodeCheckpoint(ctx context.Context, cp *workflow.NodeCheckpoint) error {
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}
	id := cp.RunID + "/" + cp.NodeID
	doc := checkpointDocument{
		ID:          id,
		RunID:       cp.RunID,
		NodeID:      cp.NodeID,
		Payload:     string(data),
		CompletedAt: cp.CompletedAt,
	}
	_, err = s.checkpoints.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s/%s: %w", cp.RunID, cp.NodeID, err)
	}
	return nil
}

func (s *MongoStore) LoadNodeCheckpoints(ctx context.Context, runID string) (map[string]*workflow.NodeCheckpoint, error) {
	cursor, err := s.checkpoints.Find(ctx, bson.M{"run_id": runID})
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoints for %s: %w", runID, err)
	}
	var docs []checkpointDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoints for %s: %w", runID, err)
	}

	out := make(map[string]*workflow.NodeCheckpoint, len(docs))
	for _, doc := range docs {
		cp, err := decodeCheckpoint([]byte(doc.Payload))
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", doc.NodeID, err)
		}
		out[cp.NodeID] = cp
	}
	return out, nil
}

func (s *MongoStore) Close() error {
	err := s.client.Disconnect(context.Background())
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return nil
	}
	return err
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}
