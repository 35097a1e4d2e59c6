package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/socratica-backend/internal/logger"
	"github.com/yungbote/socratica-backend/internal/types"
)

type MessageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rows []*types.Message) ([]*types.Message, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Message, error)
	// ListRecentBySession returns the most recent limit messages in
	// chronological (oldest-first) order.
	ListRecentBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, limit int) ([]*types.Message, error)
	CountBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (int64, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: baseLog.With("repo", "MessageRepo")}
}

func (r *messageRepo) Create(ctx context.Context, tx *gorm.DB, rows []*types.Message) ([]*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return []*types.Message{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *messageRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Message
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

func (r *messageRepo) ListRecentBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, limit int) ([]*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Message
	if sessionID == uuid.Nil {
		return results, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 40
	}
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	// Flip newest-first to oldest-first for prompt assembly.
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

func (r *messageRepo) CountBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if sessionID == uuid.Nil {
		return 0, nil
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Message{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
