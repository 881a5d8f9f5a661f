package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"taskledger/internal/model"
	"taskledger/internal/repository"
	"taskledger/pkg/idgen"
	"taskledger/pkg/response"

	"gorm.io/gorm"
)

// ProcessWithdrawal 管理员推进提现单状态
// action: "processing" / "completed" / "rejected"
// 驳回不会自动退回余额，需要退款的走 AdjustBalance 显式修正。
func (s *ReconcileService) ProcessWithdrawal(ctx context.Context, withdrawalNo, action string) (*model.Withdrawal, error) {
	var target string
	switch action {
	case "processing":
		target = model.WithdrawalStatusProcessing
	case "completed":
		target = model.WithdrawalStatusCompleted
	case "rejected":
		target = model.WithdrawalStatusRejected
	default:
		return nil, newValidation("不支持的操作: " + action)
	}

	withdrawal, err := s.withdrawals.GetByWithdrawalNo(ctx, withdrawalNo)
	if err != nil {
		if errors.Is(err, repository.ErrWithdrawalNotFound) {
			return nil, newNotFound(response.CodeWithdrawalNotFound, "提现单不存在")
		}
		return nil, fmt.Errorf("查询提现单失败: %w", err)
	}
	if !model.WithdrawalCanTransitionTo(withdrawal.Status, target) {
		return nil, newAlreadyProcessed(fmt.Sprintf("提现单当前状态 %s 不允许流转到 %s", withdrawal.Status, target))
	}

	fromStatus := withdrawal.Status
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.withdrawals.UpdateStatus(ctx, tx, withdrawalNo, fromStatus, target); err != nil {
			if errors.Is(err, repository.ErrWithdrawalStatusInvalid) {
				return newAlreadyProcessed("提现单已被并发处理，请刷新后重试")
			}
			return fmt.Errorf("更新提现单状态失败: %w", err)
		}

		msgPayload := map[string]interface{}{
			"withdrawal_no": withdrawalNo,
			"user_id":       withdrawal.UserID,
			"membership_id": withdrawal.MembershipID,
			"amount":        withdrawal.Amount,
			"status":        target,
			"processed_at":  s.now().Format(time.RFC3339),
		}
		payloadBytes, _ := json.Marshal(msgPayload)
		outboxMsg := &model.OutboxMessage{
			MessageKey: withdrawalNo,
			Topic:      s.cfg.Kafka.Topic.Withdrawal,
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		return s.outbox.Create(ctx, tx, outboxMsg)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("提现单状态流转: withdrawalNo=%s, %s -> %s", withdrawalNo, fromStatus, target)
	withdrawal.Status = target
	return withdrawal, nil
}

// ReleaseHold 管理员手动解冻
// 不校验是否已充值覆盖——客服协商后的放行通道。幂等：已解冻的用户直接返回。
func (s *ReconcileService) ReleaseHold(ctx context.Context, membershipID string) error {
	user, err := s.users.GetByMembershipID(ctx, membershipID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return newNotFound(response.CodeUserNotFound, "用户不存在")
		}
		return fmt.Errorf("查询用户失败: %w", err)
	}
	if user.AllowTask && user.LastNegativeTime == nil && user.NegativeCommission == 0 {
		return nil
	}

	requestID := idgen.GenerateTransactionNo()
	userLock := s.lockFor(user.ID, requestID)
	if err := userLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return errSystemBusy()
	}
	defer userLock.Unlock(ctx)

	user, err = s.users.GetByMembershipID(ctx, membershipID)
	if err != nil {
		return fmt.Errorf("查询用户失败: %w", err)
	}
	if user.AllowTask && user.LastNegativeTime == nil && user.NegativeCommission == 0 {
		return nil
	}

	balanceBefore := user.AccountBalance
	if user.AccountBalance < 0 {
		user.AccountBalance = 0
	}
	user.NegativeCommission = 0
	user.WithdrawalBalance = user.HoldAmount
	user.AllowTask = true
	user.LastNegativeTime = nil

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.users.UpdateReconciled(ctx, tx, user); err != nil {
			return err
		}
		entry := &model.LedgerEntry{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        user.ID,
			RefNo:         requestID,
			Amount:        user.AccountBalance - balanceBefore,
			Type:          model.LedgerTypeAdminAdjust,
			BalanceBefore: balanceBefore,
			BalanceAfter:  user.AccountBalance,
			Remark:        "管理员手动解冻",
		}
		return s.ledger.Create(ctx, tx, entry)
	})
	if err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			return errSystemBusy()
		}
		return err
	}

	log.Printf("管理员手动解冻: membershipID=%s", membershipID)
	return nil
}

// DeductTrialBalance 扣减体验金
// 体验金随余额一起发放，到期或违规时由运营收回，余额同步扣减。
func (s *ReconcileService) DeductTrialBalance(ctx context.Context, membershipID string, amount float64, remark string) error {
	if amount <= 0 {
		return newValidation("扣减金额必须大于0")
	}

	user, err := s.users.GetByMembershipID(ctx, membershipID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return newNotFound(response.CodeUserNotFound, "用户不存在")
		}
		return fmt.Errorf("查询用户失败: %w", err)
	}

	requestID := idgen.GenerateTransactionNo()
	userLock := s.lockFor(user.ID, requestID)
	if err := userLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return errSystemBusy()
	}
	defer userLock.Unlock(ctx)

	user, err = s.users.GetByMembershipID(ctx, membershipID)
	if err != nil {
		return fmt.Errorf("查询用户失败: %w", err)
	}
	if amount > user.TrialBalance {
		return newPrecondition(response.CodeInsufficientBalance, "扣减金额超过体验金余额")
	}

	balanceBefore := user.AccountBalance
	user.TrialBalance -= amount
	user.AccountBalance -= amount

	if remark == "" {
		remark = "体验金收回"
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.users.UpdateReconciled(ctx, tx, user); err != nil {
			return err
		}
		entry := &model.LedgerEntry{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        user.ID,
			RefNo:         requestID,
			Amount:        -amount,
			Type:          model.LedgerTypeAdminAdjust,
			BalanceBefore: balanceBefore,
			BalanceAfter:  user.AccountBalance,
			Remark:        remark,
		}
		return s.ledger.Create(ctx, tx, entry)
	})
	if err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			return errSystemBusy()
		}
		return err
	}
	return nil
}

// AdjustBalance 管理员余额修正（正数加、负数减），提现驳回退款等场景使用
func (s *ReconcileService) AdjustBalance(ctx context.Context, membershipID string, amount float64, remark string) error {
	if amount == 0 {
		return newValidation("修正金额不能为0")
	}
	if remark == "" {
		return newValidation("修正必须填写备注")
	}

	user, err := s.users.GetByMembershipID(ctx, membershipID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return newNotFound(response.CodeUserNotFound, "用户不存在")
		}
		return fmt.Errorf("查询用户失败: %w", err)
	}

	requestID := idgen.GenerateTransactionNo()
	userLock := s.lockFor(user.ID, requestID)
	if err := userLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return errSystemBusy()
	}
	defer userLock.Unlock(ctx)

	user, err = s.users.GetByMembershipID(ctx, membershipID)
	if err != nil {
		return fmt.Errorf("查询用户失败: %w", err)
	}

	balanceBefore := user.AccountBalance
	user.AccountBalance += amount

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.users.UpdateReconciled(ctx, tx, user); err != nil {
			return err
		}
		entry := &model.LedgerEntry{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        user.ID,
			RefNo:         requestID,
			Amount:        amount,
			Type:          model.LedgerTypeAdminAdjust,
			BalanceBefore: balanceBefore,
			BalanceAfter:  user.AccountBalance,
			Remark:        remark,
		}
		return s.ledger.Create(ctx, tx, entry)
	})
	if err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			return errSystemBusy()
		}
		return err
	}

	log.Printf("管理员余额修正: membershipID=%s, amount=%.2f, remark=%s", membershipID, amount, remark)
	return nil
}

// ResetQuota 重置用户任务进度（campaigns_completed 归零，campaign_set 回到 [1]）
func (s *ReconcileService) ResetQuota(ctx context.Context, membershipID string) error {
	user, err := s.users.GetByMembershipID(ctx, membershipID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return newNotFound(response.CodeUserNotFound, "用户不存在")
		}
		return fmt.Errorf("查询用户失败: %w", err)
	}

	requestID := idgen.GenerateTransactionNo()
	userLock := s.lockFor(user.ID, requestID)
	if err := userLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return errSystemBusy()
	}
	defer userLock.Unlock(ctx)

	user, err = s.users.GetByMembershipID(ctx, membershipID)
	if err != nil {
		return fmt.Errorf("查询用户失败: %w", err)
	}

	user.CampaignsCompleted = 0
	user.SetCampaignSet([]int{1})

	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.users.UpdateReconciled(ctx, tx, user)
	})
	if err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			return errSystemBusy()
		}
		return err
	}
	return nil
}

// SetCampaignStatus 启停用户参与资格（ACTIVE / INACTIVE）
func (s *ReconcileService) SetCampaignStatus(ctx context.Context, membershipID, status string) error {
	if status != model.CampaignStatusActive && status != model.CampaignStatusInactive {
		return newValidation("不支持的状态: " + status)
	}

	user, err := s.users.GetByMembershipID(ctx, membershipID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return newNotFound(response.CodeUserNotFound, "用户不存在")
		}
		return fmt.Errorf("查询用户失败: %w", err)
	}

	requestID := idgen.GenerateTransactionNo()
	userLock := s.lockFor(user.ID, requestID)
	if err := userLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return errSystemBusy()
	}
	defer userLock.Unlock(ctx)

	user, err = s.users.GetByMembershipID(ctx, membershipID)
	if err != nil {
		return fmt.Errorf("查询用户失败: %w", err)
	}
	user.CampaignStatus = status

	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.users.UpdateReconciled(ctx, tx, user)
	})
	if err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			return errSystemBusy()
		}
		return err
	}
	return nil
}

// ResetWithdrawPassword 管理员重置提现密码（清空后用户可重新设置）
func (s *ReconcileService) ResetWithdrawPassword(ctx context.Context, membershipID string) error {
	user, err := s.users.GetByMembershipID(ctx, membershipID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return newNotFound(response.CodeUserNotFound, "用户不存在")
		}
		return fmt.Errorf("查询用户失败: %w", err)
	}

	requestID := idgen.GenerateTransactionNo()
	userLock := s.lockFor(user.ID, requestID)
	if err := userLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return errSystemBusy()
	}
	defer userLock.Unlock(ctx)

	user, err = s.users.GetByMembershipID(ctx, membershipID)
	if err != nil {
		return fmt.Errorf("查询用户失败: %w", err)
	}
	user.WithdrawPassword = ""

	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.users.UpdateReconciled(ctx, tx, user)
	})
	if err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			return errSystemBusy()
		}
		return err
	}
	return nil
}

// SeedTaskItem 预分配任务计划项
type SeedTaskItem struct {
	TaskNumber        int        `json:"task_number" binding:"required"`
	TaskCommission    float64    `json:"task_commission"`
	TaskPrice         float64    `json:"task_price"`
	EstimatedNegative float64    `json:"estimated_negative"` // 负数表示设计好的亏损任务
	HasGoldenEgg      bool       `json:"has_golden_egg"`
	ExpiredAt         *time.Time `json:"expired_at"`
}

// SeedTasks 运营批量写入预分配任务计划
func (s *ReconcileService) SeedTasks(ctx context.Context, membershipID string, items []SeedTaskItem) ([]string, error) {
	if len(items) == 0 {
		return nil, newValidation("任务列表不能为空")
	}
	if _, err := s.users.GetByMembershipID(ctx, membershipID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, newNotFound(response.CodeUserNotFound, "用户不存在")
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	taskNos := make([]string, 0, len(items))
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, item := range items {
			if item.TaskNumber <= 0 {
				return newValidation("task_number 必须大于0")
			}
			task := &model.Task{
				TaskNo:            idgen.GenerateTaskNo(),
				MembershipID:      membershipID,
				Source:            model.TaskSourcePreassigned,
				TaskNumber:        item.TaskNumber,
				TaskCommission:    item.TaskCommission,
				TaskPrice:         item.TaskPrice,
				EstimatedNegative: item.EstimatedNegative,
				HasGoldenEgg:      item.HasGoldenEgg,
				Status:            model.TaskStatusPending,
				ExpiredAt:         item.ExpiredAt,
			}
			if err := s.tasks.Create(ctx, tx, task); err != nil {
				return fmt.Errorf("创建任务失败: %w", err)
			}
			taskNos = append(taskNos, task.TaskNo)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("预分配任务写入: membershipID=%s, count=%d", membershipID, len(taskNos))
	return taskNos, nil
}

// AbandonExpiredHold 超期冻结核销
//
// 【关键点】冻结超过窗口（默认30天）仍未充值回收的，判定为放弃账户：
// 只清除 last_negative_time（退出回收扫描队列）并记一笔核销流水，
// hold_amount 和 negative_commission 保留作为历史凭据，
// allow_task 保持关闭——核销不是赦免。
func (s *ReconcileService) AbandonExpiredHold(ctx context.Context, membershipID string) (bool, error) {
	user, err := s.users.GetByMembershipID(ctx, membershipID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return false, newNotFound(response.CodeUserNotFound, "用户不存在")
		}
		return false, fmt.Errorf("查询用户失败: %w", err)
	}
	if user.LastNegativeTime == nil {
		return false, nil
	}

	abandonDays := s.cfg.Business.HoldAbandonDays
	if abandonDays <= 0 {
		abandonDays = 30
	}
	deadline := user.LastNegativeTime.Add(time.Duration(abandonDays) * 24 * time.Hour)
	if s.now().Before(deadline) {
		return false, nil
	}

	requestID := idgen.GenerateTransactionNo()
	userLock := s.lockFor(user.ID, requestID)
	if err := userLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return false, errSystemBusy()
	}
	defer userLock.Unlock(ctx)

	user, err = s.users.GetByMembershipID(ctx, membershipID)
	if err != nil {
		return false, fmt.Errorf("查询用户失败: %w", err)
	}
	if user.LastNegativeTime == nil || s.now().Before(user.LastNegativeTime.Add(time.Duration(abandonDays)*24*time.Hour)) {
		return false, nil
	}

	user.LastNegativeTime = nil

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.users.UpdateReconciled(ctx, tx, user); err != nil {
			return err
		}
		entry := &model.LedgerEntry{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        user.ID,
			RefNo:         requestID,
			Amount:        0,
			Type:          model.LedgerTypeWriteOff,
			BalanceBefore: user.AccountBalance,
			BalanceAfter:  user.AccountBalance,
			Remark:        fmt.Sprintf("冻结超期核销-hold=%.2f, loss=%.2f", user.HoldAmount, user.NegativeCommission),
		}
		return s.ledger.Create(ctx, tx, entry)
	})
	if err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			return false, errSystemBusy()
		}
		return false, err
	}

	log.Printf("冻结超期核销: membershipID=%s, holdAmount=%.2f", membershipID, user.HoldAmount)
	return true, nil
}
