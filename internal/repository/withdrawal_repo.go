package repository

import (
	"context"
	"errors"
	"time"

	"taskledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrWithdrawalNotFound      = errors.New("提现单不存在")
	ErrWithdrawalStatusInvalid = errors.New("提现单状态不合法")
)

type WithdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) Create(ctx context.Context, tx *gorm.DB, withdrawal *model.Withdrawal) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(withdrawal).Error
}

func (r *WithdrawalRepository) GetByWithdrawalNo(ctx context.Context, withdrawalNo string) (*model.Withdrawal, error) {
	var withdrawal model.Withdrawal
	err := r.db.WithContext(ctx).Where("withdrawal_no = ?", withdrawalNo).First(&withdrawal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &withdrawal, nil
}

func (r *WithdrawalRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, withdrawalNo string, fromStatus, toStatus string) error {
	if !model.WithdrawalCanTransitionTo(fromStatus, toStatus) {
		return ErrWithdrawalStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if toStatus == model.WithdrawalStatusCompleted || toStatus == model.WithdrawalStatusRejected {
		now := time.Now()
		updates["processed_at"] = &now
	}

	result := tx.WithContext(ctx).
		Model(&model.Withdrawal{}).
		Where("withdrawal_no = ? AND status = ?", withdrawalNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrWithdrawalStatusInvalid
	}

	return nil
}

// ListProcessingBefore 长时间停在 PROCESSING 的提现单（补偿任务用）
func (r *WithdrawalRepository) ListProcessingBefore(ctx context.Context, beforeTime time.Time, limit int) ([]*model.Withdrawal, error) {
	var withdrawals []*model.Withdrawal
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.WithdrawalStatusProcessing, beforeTime).
		Limit(limit).
		Find(&withdrawals).Error
	return withdrawals, err
}

func (r *WithdrawalRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Withdrawal, int64, error) {
	var withdrawals []*model.Withdrawal
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Withdrawal{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&withdrawals).Error

	return withdrawals, total, err
}
