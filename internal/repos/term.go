package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/socratica-backend/internal/logger"
	"github.com/yungbote/socratica-backend/internal/types"
)

type TermRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rows []*types.Term) ([]*types.Term, error)
	GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Term, error)
	// MarkCovered sets first_covered_at only if it is still unset and always
	// bumps the exposure counter. Coverage stays monotonic even when two
	// turns race on the same term.
	MarkCovered(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
}

type termRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTermRepo(db *gorm.DB, baseLog *logger.Logger) TermRepo {
	return &termRepo{db: db, log: baseLog.With("repo", "TermRepo")}
}

func (r *termRepo) Create(ctx context.Context, tx *gorm.DB, rows []*types.Term) ([]*types.Term, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return []*types.Term{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *termRepo) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Term, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Term
	if sessionID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("phase_index ASC, term ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *termRepo) MarkCovered(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if err := transaction.WithContext(ctx).
		Model(&types.Term{}).
		Where("id = ? AND first_covered_at IS NULL", id).
		Updates(map[string]any{"first_covered_at": at, "updated_at": at}).Error; err != nil {
		return err
	}
	if err := transaction.WithContext(ctx).
		Model(&types.Term{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"exposure_count": gorm.Expr("exposure_count + ?", 1),
			"updated_at":     at,
		}).Error; err != nil {
		return err
	}
	return nil
}
