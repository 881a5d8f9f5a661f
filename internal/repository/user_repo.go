package repository

import (
	"context"
	"errors"

	"taskledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound   = errors.New("用户不存在")
	ErrOptimisticLock = errors.New("乐观锁冲突，请重试")
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByMembershipID(ctx context.Context, membershipID string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("membership_id = ?", membershipID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateReconciled 以乐观锁方式写回对账字段
//
// 【关键点】所有余额/计数器/冻结标志的变更都从这里出去：
// 条件是 id + 读取时的 version，写回时 version+1。
// RowsAffected == 0 说明期间有并发写入，返回 ErrOptimisticLock，
// 调用方丢弃本次计算结果重新来过（正常情况下分布式锁已经挡住了并发，
// 这里是第二道保险）。
func (r *UserRepository) UpdateReconciled(ctx context.Context, tx *gorm.DB, user *model.User) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ? AND version = ?", user.ID, user.Version).
		Updates(map[string]interface{}{
			"account_balance":     user.AccountBalance,
			"trial_balance":       user.TrialBalance,
			"total_earnings":      user.TotalEarnings,
			"campaign_commission": user.CampaignCommission,
			"withdrawal_balance":  user.WithdrawalBalance,
			"campaigns_completed": user.CampaignsCompleted,
			"campaign_set":        user.CampaignSet,
			"deposit_count":       user.DepositCount,
			"hold_amount":         user.HoldAmount,
			"negative_commission": user.NegativeCommission,
			"allow_task":          user.AllowTask,
			"last_negative_time":  user.LastNegativeTime,
			"withdraw_password":   user.WithdrawPassword,
			"documents_verified":  user.DocumentsVerified,
			"campaign_status":     user.CampaignStatus,
			"version":             gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, user.ID); err != nil {
			return err
		}
		return ErrOptimisticLock
	}

	user.Version++
	return nil
}

// ListNegativeHoldUsers 查出所有处于负余额冻结追踪中的用户（维护任务用）
func (r *UserRepository) ListNegativeHoldUsers(ctx context.Context, limit int) ([]*model.User, error) {
	var users []*model.User
	err := r.db.WithContext(ctx).
		Where("last_negative_time IS NOT NULL AND hold_amount > 0").
		Limit(limit).
		Find(&users).Error
	return users, err
}
