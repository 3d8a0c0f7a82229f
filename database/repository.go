package database

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agripredict/logger"
)

// MaxRunsPage caps how many runs one listing returns.
const MaxRunsPage = 200

// RunRepository handles database operations for cycle history
type RunRepository struct {
	db *Database
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *Database) *RunRepository {
	return &RunRepository{db: db}
}

// InitSchema creates or migrates the history tables
func (r *RunRepository) InitSchema() error {
	logger.Info().Msg("🔄 Starting database schema initialization...")
	if err := r.db.db.AutoMigrate(&TrainingRun{}, &PublishWebhookLog{}); err != nil {
		return wrapDBError("InitSchema", tableRuns, err)
	}
	logger.Info().Msg("✅ Database schema ready")
	return nil
}

// SaveRun records a finished cycle. Saving an id again overwrites the row.
func (r *RunRepository) SaveRun(ctx context.Context, run *TrainingRun) error {
	if err := validateRun(run); err != nil {
		return err
	}
	err := r.db.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(run).Error
	return wrapDBError("SaveRun", tableRuns, err)
}

// RecentRuns returns the newest runs first
func (r *RunRepository) RecentRuns(ctx context.Context, limit int) ([]TrainingRun, error) {
	if limit <= 0 || limit > MaxRunsPage {
		limit = MaxRunsPage
	}

	var runs []TrainingRun
	err := r.db.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, wrapDBError("RecentRuns", tableRuns, err)
	}
	return runs, nil
}

// GetRun retrieves one run by id
func (r *RunRepository) GetRun(ctx context.Context, id string) (*TrainingRun, error) {
	var run TrainingRun
	err := r.db.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{RunID: id}
	}
	if err != nil {
		return nil, wrapDBError("GetRun", tableRuns, err)
	}
	return &run, nil
}

// LastSuccessfulRun returns the most recent successful cycle
func (r *RunRepository) LastSuccessfulRun(ctx context.Context) (*TrainingRun, error) {
	var run TrainingRun
	err := r.db.db.WithContext(ctx).
		Where("outcome = ?", OutcomeSuccess).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Outcome: OutcomeSuccess}
	}
	if err != nil {
		return nil, wrapDBError("LastSuccessfulRun", tableRuns, err)
	}
	return &run, nil
}

// SaveWebhookLog saves a webhook delivery log
func (r *RunRepository) SaveWebhookLog(ctx context.Context, log *PublishWebhookLog) error {
	return wrapDBError("SaveWebhookLog", tableWebhookLogs, r.db.db.WithContext(ctx).Create(log).Error)
}
