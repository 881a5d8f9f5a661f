package repository

import (
	"context"
	"errors"

	"taskledger/internal/model"

	"gorm.io/gorm"
)

type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Create(ctx context.Context, tx *gorm.DB, history *model.TaskHistory) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(history).Error
}

// GetByRequestNo 幂等查询，没有记录时返回 (nil, nil)
func (r *HistoryRepository) GetByRequestNo(ctx context.Context, requestNo string) (*model.TaskHistory, error) {
	var history model.TaskHistory
	err := r.db.WithContext(ctx).Where("request_no = ?", requestNo).First(&history).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &history, nil
}

func (r *HistoryRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.TaskHistory, int64, error) {
	var histories []*model.TaskHistory
	var total int64

	query := r.db.WithContext(ctx).Model(&model.TaskHistory{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&histories).Error

	return histories, total, err
}
