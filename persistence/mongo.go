package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/config"
	"github.com/BaSui01/mailflow/workflow"
)

const (
	workflowsCollection  = "workflows"
	executionsCollection = "workflow_executions"
)

// Definitions and snapshots are stored as JSON strings: BSON would decode
// nested parameter maps as bson.D and break expression lookups.
type workflowDocument struct {
	ID         string    `bson:"_id"`
	OwnerID    string    `bson:"owner_id"`
	Name       string    `bson:"name"`
	Status     string    `bson:"status"`
	Definition string    `bson:"definition"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

type executionDocument struct {
	ID         string    `bson:"_id"`
	WorkflowID string    `bson:"workflow_id"`
	OwnerID    string    `bson:"owner_id"`
	Status     string    `bson:"status"`
	Snapshot   string    `bson:"snapshot"`
	Error      string    `bson:"error,omitempty"`
	StartTime  time.Time `bson:"start_time"`
	EndTime    time.Time `bson:"end_time"`
}

// MongoStore persists workflows in MongoDB.
type MongoStore struct {
	client     *mongo.Client
	workflows  *mongo.Collection
	executions *mongo.Collection
	logger     *zap.Logger
}

// NewMongoStore connects to MongoDB and ensures the execution index exists.
func NewMongoStore(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (*MongoStore, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	s, err := NewMongoStoreFromClient(client, cfg.Database, logger)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// NewMongoStoreFromClient uses an already connected client.
func NewMongoStoreFromClient(client *mongo.Client, database string, logger *zap.Logger) (*MongoStore, error) {
	if client == nil || database == "" {
		return nil, fmt.Errorf("mongo client and database are required: %w", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db := client.Database(database)
	return &MongoStore{
		client:     client,
		workflows:  db.Collection(workflowsCollection),
		executions: db.Collection(executionsCollection),
		logger:     logger.With(zap.String("component", "mongo_store")),
	}, nil
}

// EnsureIndexes creates the (workflow_id, start_time desc) index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.executions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "workflow_id", Value: 1},
			{Key: "start_time", Value: -1},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create execution index: %w", err)
	}
	return nil
}

// GetWorkflow loads a workflow by id.
func (s *MongoStore) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	var doc workflowDocument
	err := s.workflows.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
	}

	def, err := decodeDefinition(doc.Definition)
	if err != nil {
		return nil, err
	}
	return &workflow.Workflow{
		ID:         doc.ID,
		OwnerID:    doc.OwnerID,
		Status:     workflow.WorkflowStatus(doc.Status),
		Definition: def,
		CreatedAt:  doc.CreatedAt.UTC(),
		UpdatedAt:  doc.UpdatedAt.UTC(),
	}, nil
}

// InsertWorkflow stores a new workflow; duplicate ids are rejected.
func (s *MongoStore) InsertWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	if err := validateWorkflowInput(wf); err != nil {
		return err
	}
	def, err := encodeDefinition(wf.Definition)
	if err != nil {
		return err
	}

	_, err = s.workflows.InsertOne(ctx, workflowDocument{
		ID:         wf.ID,
		OwnerID:    wf.OwnerID,
		Name:       wf.Name,
		Status:     string(wf.Status),
		Definition: def,
		CreatedAt:  wf.CreatedAt.UTC(),
		UpdatedAt:  wf.UpdatedAt.UTC(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("workflow %s: %w", wf.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
	}
	return nil
}

// UpdateWorkflowStatus changes the status and bumps updated_at.
func (s *MongoStore) UpdateWorkflowStatus(ctx context.Context, id string, status workflow.WorkflowStatus) error {
	res, err := s.workflows.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: string(status)},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return notFound(id)
	}
	return nil
}

// InsertExecutionRecord stores a run snapshot.
func (s *MongoStore) InsertExecutionRecord(ctx context.Context, snap *workflow.ExecutionSnapshot) error {
	if err := validateSnapshotInput(snap); err != nil {
		return err
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	_, err = s.executions.InsertOne(ctx, executionDocument{
		ID:         snap.ExecutionID,
		WorkflowID: snap.WorkflowID,
		OwnerID:    snap.OwnerID,
		Status:     string(snap.Status),
		Snapshot:   data,
		Error:      snap.Error,
		StartTime:  snap.StartTime.UTC(),
		EndTime:    snap.EndTime.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", snap.ExecutionID, err)
	}
	return nil
}

// ListExecutions returns up to limit runs of a workflow, newest first.
func (s *MongoStore) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*workflow.ExecutionSnapshot, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(normalizeLimit(limit)))

	cursor, err := s.executions.Find(ctx, bson.D{{Key: "workflow_id", Value: workflowID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of %s: %w", workflowID, err)
	}
	var docs []executionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode executions of %s: %w", workflowID, err)
	}

	snaps := make([]*workflow.ExecutionSnapshot, 0, len(docs))
	for _, doc := range docs {
		snap, err := decodeSnapshot(doc.Snapshot)
		if err != nil {
			s.logger.Warn("skipping undecodable execution record",
				zap.String("execution_id", doc.ID), zap.Error(err))
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Ping checks the MongoDB connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
