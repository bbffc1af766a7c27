package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/sanduku/internal/storage"
)

// ExecutionModel is the GORM model for execution history.
type ExecutionModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionID  string    `gorm:"index;not null"`
	Code       string    `gorm:"type:text;not null"`
	Output     string    `gorm:"type:text"`
	Errors     string    `gorm:"type:text"`
	DurationMs int64
	Success    bool
	Truncated  bool
	CreatedAt  time.Time `gorm:"index"`
}

func (ExecutionModel) TableName() string { return "executions" }

// ExecutionRepository implements storage.ExecutionStore on a *gorm.DB.
// Reused by the SQLite backend; GORM's dialects handle the SQL differences.
type ExecutionRepository struct {
	db *gorm.DB
}

func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

func (r *ExecutionRepository) Save(ctx context.Context, rec *storage.ExecutionRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m := toModel(rec)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("saving execution record: %w", err)
	}
	return nil
}

func (r *ExecutionRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]storage.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []ExecutionModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing execution records: %w", err)
	}
	records := make([]storage.ExecutionRecord, len(models))
	for i := range models {
		records[i] = toRecord(&models[i])
	}
	return records, nil
}

func (r *ExecutionRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&ExecutionModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging execution records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func toModel(rec *storage.ExecutionRecord) ExecutionModel {
	return ExecutionModel{
		ID:         rec.ID,
		SessionID:  rec.SessionID,
		Code:       rec.Code,
		Output:     rec.Output,
		Errors:     rec.Errors,
		DurationMs: rec.DurationMs,
		Success:    rec.Success,
		Truncated:  rec.Truncated,
		CreatedAt:  rec.CreatedAt,
	}
}

func toRecord(m *ExecutionModel) storage.ExecutionRecord {
	return storage.ExecutionRecord{
		ID:         m.ID,
		SessionID:  m.SessionID,
		Code:       m.Code,
		Output:     m.Output,
		Errors:     m.Errors,
		DurationMs: m.DurationMs,
		Success:    m.Success,
		Truncated:  m.Truncated,
		CreatedAt:  m.CreatedAt,
	}
}

var _ storage.ExecutionStore = (*ExecutionRepository)(nil)
