package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/socratica-backend/internal/logger"
	"github.com/yungbote/socratica-backend/internal/types"
)

type PhaseRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rows []*types.Phase) ([]*types.Phase, error)
	GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Phase, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error
}

type phaseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPhaseRepo(db *gorm.DB, baseLog *logger.Logger) PhaseRepo {
	return &phaseRepo{db: db, log: baseLog.With("repo", "PhaseRepo")}
}

func (r *phaseRepo) Create(ctx context.Context, tx *gorm.DB, rows []*types.Phase) ([]*types.Phase, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return []*types.Phase{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *phaseRepo) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Phase, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Phase
	if sessionID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("phase_index ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *phaseRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(fields) == 0 {
		return nil
	}
	if err := transaction.WithContext(ctx).
		Model(&types.Phase{}).
		Where("id = ?", id).
		Updates(fields).Error; err != nil {
		return err
	}
	return nil
}
