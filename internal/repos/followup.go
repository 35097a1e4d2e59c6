package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/socratica-backend/internal/logger"
	"github.com/yungbote/socratica-backend/internal/types"
)

type FollowUpRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rows []*types.FollowUp) ([]*types.FollowUp, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.FollowUp, error)
	ListUnusedBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.FollowUp, error)
	MarkUsed(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
	// DeleteUnusedBySession removes the stale unused batch; used suggestions
	// are preserved for audit.
	DeleteUnusedBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) error
}

type followUpRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFollowUpRepo(db *gorm.DB, baseLog *logger.Logger) FollowUpRepo {
	return &followUpRepo{db: db, log: baseLog.With("repo", "FollowUpRepo")}
}

func (r *followUpRepo) Create(ctx context.Context, tx *gorm.DB, rows []*types.FollowUp) ([]*types.FollowUp, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return []*types.FollowUp{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *followUpRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.FollowUp, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.FollowUp
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *followUpRepo) ListUnusedBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.FollowUp, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.FollowUp
	if sessionID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("session_id = ? AND used_at IS NULL", sessionID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *followUpRepo) MarkUsed(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if err := transaction.WithContext(ctx).
		Model(&types.FollowUp{}).
		Where("id = ? AND used_at IS NULL", id).
		Update("used_at", at).Error; err != nil {
		return err
	}
	return nil
}

func (r *followUpRepo) DeleteUnusedBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if sessionID == uuid.Nil {
		return nil
	}
	if err := transaction.WithContext(ctx).
		Where("session_id = ? AND used_at IS NULL", sessionID).
		Delete(&types.FollowUp{}).Error; err != nil {
		return err
	}
	return nil
}
