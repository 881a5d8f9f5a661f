package repository

import (
	"context"
	"errors"
	"time"

	"taskledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrDepositNotFound      = errors.New("充值单不存在")
	ErrDepositStatusInvalid = errors.New("充值单状态不合法")
)

type DepositRepository struct {
	db *gorm.DB
}

func NewDepositRepository(db *gorm.DB) *DepositRepository {
	return &DepositRepository{db: db}
}

func (r *DepositRepository) Create(ctx context.Context, tx *gorm.DB, deposit *model.Deposit) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(deposit).Error
}

func (r *DepositRepository) GetByDepositNo(ctx context.Context, depositNo string) (*model.Deposit, error) {
	var deposit model.Deposit
	err := r.db.WithContext(ctx).Where("deposit_no = ?", depositNo).First(&deposit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDepositNotFound
		}
		return nil, err
	}
	return &deposit, nil
}

// UpdateStatus 审批落状态，条件更新保证一个充值单只会被处理一次
func (r *DepositRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, depositNo string, fromStatus, toStatus, notes string) error {
	if !model.DepositCanTransitionTo(fromStatus, toStatus) {
		return ErrDepositStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.Deposit{}).
		Where("deposit_no = ? AND status = ?", depositNo, fromStatus).
		Updates(map[string]interface{}{
			"status":       toStatus,
			"admin_notes":  notes,
			"processed_at": &now,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrDepositStatusInvalid
	}

	return nil
}

// SumApprovedAfter 统计某会员在指定时刻之后审批通过的充值总额
// 自动核验扫描用：审批与解冻没有事务上的强绑定，
// 这里按时间窗口把漏掉的解冻补上
func (r *DepositRepository) SumApprovedAfter(ctx context.Context, membershipID string, after time.Time) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).
		Model(&model.Deposit{}).
		Where("membership_id = ? AND status = ? AND processed_at > ?",
			membershipID, model.DepositStatusApproved, after).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

func (r *DepositRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Deposit, int64, error) {
	var deposits []*model.Deposit
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Deposit{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&deposits).Error

	return deposits, total, err
}
