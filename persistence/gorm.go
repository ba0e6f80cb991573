package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/mailflow/internal/database"
	"github.com/BaSui01/mailflow/workflow"
)

// workflowModel mirrors the workflows table.
type workflowModel struct {
	ID         string    `gorm:"primaryKey;size:64"`
	OwnerID    string    `gorm:"size:128;not null;index:idx_workflows_owner_id"`
	Name       string    `gorm:"size:255;not null"`
	Status     string    `gorm:"size:32;not null"`
	Definition string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (workflowModel) TableName() string { return "workflows" }

// executionModel mirrors the workflow_executions table.
type executionModel struct {
	ID         string     `gorm:"primaryKey;size:64"`
	WorkflowID string     `gorm:"size:64;not null;index:idx_workflow_executions_workflow_start,priority:1"`
	OwnerID    string     `gorm:"size:128;not null"`
	Status     string     `gorm:"size:32;not null"`
	Snapshot   string     `gorm:"type:text;not null"`
	Error      string     `gorm:"type:text;not null"`
	StartTime  time.Time  `gorm:"not null;index:idx_workflow_executions_workflow_start,priority:2"`
	EndTime    *time.Time
}

func (executionModel) TableName() string { return "workflow_executions" }

// txRetries bounds WithTransactionRetry for deadlocks and lock timeouts.
const txRetries = 3

// GormStore persists workflows in PostgreSQL, MySQL or SQLite.
type GormStore struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// NewGormStore wraps an open connection pool.
func NewGormStore(pool *database.PoolManager, logger *zap.Logger) (*GormStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool is required: %w", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "gorm_store")),
	}, nil
}

// AutoMigrate creates the tables from the models. Production deployments
// should prefer the versioned migrations in internal/migration.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	return s.pool.DB().WithContext(ctx).AutoMigrate(&workflowModel{}, &executionModel{})
}

// GetWorkflow loads a workflow by id.
func (s *GormStore) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	var row workflowModel
	err := s.pool.DB().WithContext(ctx).Where("id = ?", id).Limit(1).Find(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
	}
	if row.ID == "" {
		return nil, notFound(id)
	}

	def, err := decodeDefinition(row.Definition)
	if err != nil {
		return nil, err
	}
	return &workflow.Workflow{
		ID:         row.ID,
		OwnerID:    row.OwnerID,
		Status:     workflow.WorkflowStatus(row.Status),
		Definition: def,
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}, nil
}

// InsertWorkflow stores a new workflow; duplicate ids are rejected.
func (s *GormStore) InsertWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	if err := validateWorkflowInput(wf); err != nil {
		return err
	}
	def, err := encodeDefinition(wf.Definition)
	if err != nil {
		return err
	}
	row := workflowModel{
		ID:         wf.ID,
		OwnerID:    wf.OwnerID,
		Name:       wf.Name,
		Status:     string(wf.Status),
		Definition: def,
		CreatedAt:  wf.CreatedAt.UTC(),
		UpdatedAt:  wf.UpdatedAt.UTC(),
	}

	return s.pool.WithTransactionRetry(ctx, txRetries, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&workflowModel{}).Where("id = ?", wf.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("workflow %s: %w", wf.ID, ErrAlreadyExists)
		}
		return tx.Create(&row).Error
	})
}

// UpdateWorkflowStatus changes the status and bumps updated_at.
func (s *GormStore) UpdateWorkflowStatus(ctx context.Context, id string, status workflow.WorkflowStatus) error {
	db := s.pool.DB().WithContext(ctx)
	res := db.Model(&workflowModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":     string(status),
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update workflow %s: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// MySQL reports zero affected rows when nothing changed
	var count int64
	if err := db.Model(&workflowModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return notFound(id)
	}
	return nil
}

// InsertExecutionRecord stores a run snapshot.
func (s *GormStore) InsertExecutionRecord(ctx context.Context, snap *workflow.ExecutionSnapshot) error {
	if err := validateSnapshotInput(snap); err != nil {
		return err
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	row := executionModel{
		ID:         snap.ExecutionID,
		WorkflowID: snap.WorkflowID,
		OwnerID:    snap.OwnerID,
		Status:     string(snap.Status),
		Snapshot:   data,
		Error:      snap.Error,
		StartTime:  snap.StartTime.UTC(),
	}
	if !snap.EndTime.IsZero() {
		end := snap.EndTime.UTC()
		row.EndTime = &end
	}

	return s.pool.WithTransactionRetry(ctx, txRetries, func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
}

// ListExecutions returns up to limit runs of a workflow, newest first.
func (s *GormStore) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*workflow.ExecutionSnapshot, error) {
	var rows []executionModel
	err := s.pool.DB().WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("start_time DESC").
		Order("id DESC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of %s: %w", workflowID, err)
	}

	snaps := make([]*workflow.ExecutionSnapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := decodeSnapshot(row.Snapshot)
		if err != nil {
			s.logger.Warn("skipping undecodable execution record",
				zap.String("execution_id", row.ID), zap.Error(err))
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// PoolStats exposes the connection pool statistics.
func (s *GormStore) PoolStats() sql.DBStats {
	return s.pool.Stats()
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *GormStore) Close() error {
	return s.pool.Close()
}
