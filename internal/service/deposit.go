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

// SubmitDeposit 用户提交充值单，落库为 PENDING，等待管理员审批
func (s *ReconcileService) SubmitDeposit(ctx context.Context, userID int64, amount float64) (*model.Deposit, error) {
	if amount <= 0 {
		return nil, newValidation("充值金额必须大于0")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, newNotFound(response.CodeUserNotFound, "用户不存在")
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	deposit := &model.Deposit{
		DepositNo:    idgen.GenerateDepositNo(),
		UserID:       user.ID,
		MembershipID: user.MembershipID,
		Amount:       amount,
		Status:       model.DepositStatusPending,
		SubmittedAt:  s.now(),
	}
	if err := s.deposits.Create(ctx, nil, deposit); err != nil {
		return nil, fmt.Errorf("创建充值单失败: %w", err)
	}

	return deposit, nil
}

type DepositDecision struct {
	DepositNo  string  `json:"deposit_no"`
	Status     string  `json:"status"`
	Amount     float64 `json:"amount"`
	NewBalance float64 `json:"new_balance"`
	Recovered  bool    `json:"recovered"` // 本次审批是否触发了负余额回收解冻
}

// ApproveDeposit 管理员审批充值单
//
// 【关键点】审批通过分两条路：
//  1. 无欠款（negative_commission == 0）：普通入账，余额直接加
//  2. 有欠款：充值必须覆盖全部欠款，多出的部分成为新余额；
//     hold_amount 保留不清零（纯展示/提现上限用），账户解冻。
//     覆盖不了就拒绝本次审批（报差额），充值单保持 PENDING，
//     绝不允许"部分入账"这种中间态。
func (s *ReconcileService) ApproveDeposit(ctx context.Context, depositNo string, approve bool, notes string) (*DepositDecision, error) {
	if depositNo == "" {
		return nil, newValidation("deposit_no 不能为空")
	}

	deposit, err := s.deposits.GetByDepositNo(ctx, depositNo)
	if err != nil {
		if errors.Is(err, repository.ErrDepositNotFound) {
			return nil, newNotFound(response.CodeDepositNotFound, "充值单不存在")
		}
		return nil, fmt.Errorf("查询充值单失败: %w", err)
	}
	if deposit.Status != model.DepositStatusPending {
		return nil, newAlreadyProcessed("充值单已处理，请勿重复操作")
	}

	// 驳回不动余额，单独一个小事务即可
	if !approve {
		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.deposits.UpdateStatus(ctx, tx, depositNo, model.DepositStatusPending, model.DepositStatusRejected, notes); err != nil {
				if errors.Is(err, repository.ErrDepositStatusInvalid) {
					return newAlreadyProcessed("充值单已处理，请勿重复操作")
				}
				return fmt.Errorf("更新充值单状态失败: %w", err)
			}
			return s.createDepositEvent(ctx, tx, deposit, model.DepositStatusRejected, 0, false)
		})
		if err != nil {
			return nil, err
		}
		return &DepositDecision{DepositNo: depositNo, Status: model.DepositStatusRejected, Amount: deposit.Amount}, nil
	}

	userLock := s.lockFor(deposit.UserID, depositNo)
	if err := userLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, errSystemBusy()
	}
	defer userLock.Unlock(ctx)

	// 锁内重读，防止并发审批
	deposit, err = s.deposits.GetByDepositNo(ctx, depositNo)
	if err != nil {
		return nil, fmt.Errorf("查询充值单失败: %w", err)
	}
	if deposit.Status != model.DepositStatusPending {
		return nil, newAlreadyProcessed("充值单已处理，请勿重复操作")
	}

	user, err := s.users.GetByID(ctx, deposit.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, newNotFound(response.CodeUserNotFound, "用户不存在")
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	balanceBefore := user.AccountBalance
	recovered := false

	if user.NegativeCommission == 0 {
		// 普通入账
		user.AccountBalance += deposit.Amount
		user.DepositCount++
	} else {
		loss := user.NegativeCommission
		if deposit.Amount < loss {
			shortfall := loss - deposit.Amount
			return nil, newPreconditionMeta(response.CodeInsufficientDeposit,
				fmt.Sprintf("充值金额不足以覆盖欠款，还差 %.2f，请重新提交", shortfall),
				map[string]interface{}{"shortfall": shortfall, "loss": loss})
		}
		// 回收解冻：多出的部分成为新余额，hold_amount 保留展示
		leftover := deposit.Amount - loss
		user.AccountBalance = leftover
		user.NegativeCommission = 0
		user.WithdrawalBalance = user.HoldAmount
		user.CampaignCommission = 0
		user.AllowTask = true
		user.LastNegativeTime = nil
		user.DepositCount++
		recovered = true
	}

	ledgerType := model.LedgerTypeDeposit
	remark := fmt.Sprintf("充值入账-%s", depositNo)
	if recovered {
		ledgerType = model.LedgerTypeHoldRecover
		remark = fmt.Sprintf("充值回收解冻-%s", depositNo)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.deposits.UpdateStatus(ctx, tx, depositNo, model.DepositStatusPending, model.DepositStatusApproved, notes); err != nil {
			if errors.Is(err, repository.ErrDepositStatusInvalid) {
				return newAlreadyProcessed("充值单已处理，请勿重复操作")
			}
			return fmt.Errorf("更新充值单状态失败: %w", err)
		}

		if err := s.users.UpdateReconciled(ctx, tx, user); err != nil {
			return err
		}

		entry := &model.LedgerEntry{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        user.ID,
			RefNo:         depositNo,
			Amount:        deposit.Amount,
			Type:          ledgerType,
			BalanceBefore: balanceBefore,
			BalanceAfter:  user.AccountBalance,
			Remark:        remark,
		}
		if err := s.ledger.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		return s.createDepositEvent(ctx, tx, deposit, model.DepositStatusApproved, user.AccountBalance, recovered)
	})

	if err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			return nil, errSystemBusy()
		}
		return nil, err
	}

	log.Printf("充值审批通过: depositNo=%s, userID=%d, amount=%.2f, recovered=%v, balance=%.2f",
		depositNo, user.ID, deposit.Amount, recovered, user.AccountBalance)

	return &DepositDecision{
		DepositNo:  depositNo,
		Status:     model.DepositStatusApproved,
		Amount:     deposit.Amount,
		NewBalance: user.AccountBalance,
		Recovered:  recovered,
	}, nil
}

type RecoverResult struct {
	MembershipID string  `json:"membership_id"`
	Recovered    bool    `json:"recovered"`
	TotalDeposit float64 `json:"total_deposit"`
	HoldAmount   float64 `json:"hold_amount"`
	NewBalance   float64 `json:"new_balance"`
}

// RecoverFromDeposits 自动核验：按会员号汇总负余额检测之后审批通过的充值，
// 覆盖 hold_amount 即解冻
//
// 【关键点】审批和解冻在底层没有事务级绑定，个别充值单可能走了别的
// 入账通道而漏掉解冻。这个扫描可以随时补偿，和审批路径收敛到同一终态：
// 余额归零、hold_amount 保留展示、allow_task 打开、追踪时间清空。
func (s *ReconcileService) RecoverFromDeposits(ctx context.Context, membershipID string) (*RecoverResult, error) {
	if membershipID == "" {
		return nil, newValidation("membership_id 不能为空")
	}

	user, err := s.users.GetByMembershipID(ctx, membershipID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, newNotFound(response.CodeUserNotFound, "用户不存在")
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	if user.LastNegativeTime == nil || user.HoldAmount <= 0 {
		return nil, newPrecondition(response.CodeHoldNotRecoverable, "当前没有待回收的冻结")
	}

	requestID := idgen.GenerateTransactionNo()
	userLock := s.lockFor(user.ID, requestID)
	if err := userLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, errSystemBusy()
	}
	defer userLock.Unlock(ctx)

	// 锁内重读
	user, err = s.users.GetByMembershipID(ctx, membershipID)
	if err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	if user.LastNegativeTime == nil || user.HoldAmount <= 0 {
		return nil, newPrecondition(response.CodeHoldNotRecoverable, "当前没有待回收的冻结")
	}

	total, err := s.deposits.SumApprovedAfter(ctx, membershipID, *user.LastNegativeTime)
	if err != nil {
		return nil, fmt.Errorf("汇总充值失败: %w", err)
	}
	if total < user.HoldAmount {
		shortfall := user.HoldAmount - total
		return nil, newPreconditionMeta(response.CodeInsufficientDeposit,
			fmt.Sprintf("累计充值不足以覆盖冻结金额，还差 %.2f", shortfall),
			map[string]interface{}{"shortfall": shortfall, "hold_amount": user.HoldAmount, "total_deposit": total})
	}

	balanceBefore := user.AccountBalance
	holdAmount := user.HoldAmount
	user.AccountBalance = 0
	user.NegativeCommission = 0
	user.WithdrawalBalance = holdAmount
	user.CampaignCommission = 0
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
			Amount:        -balanceBefore,
			Type:          model.LedgerTypeHoldRecover,
			BalanceBefore: balanceBefore,
			BalanceAfter:  0,
			Remark:        fmt.Sprintf("自动核验解冻-累计充值%.2f", total),
		}
		if err := s.ledger.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		msgPayload := map[string]interface{}{
			"membership_id": membershipID,
			"user_id":       user.ID,
			"hold_amount":   holdAmount,
			"total_deposit": total,
			"recovered_at":  s.now().Format(time.RFC3339),
			"source":        "auto_verification",
		}
		payloadBytes, _ := json.Marshal(msgPayload)
		outboxMsg := &model.OutboxMessage{
			MessageKey: membershipID,
			Topic:      s.cfg.Kafka.Topic.Deposit,
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		return s.outbox.Create(ctx, tx, outboxMsg)
	})

	if err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			return nil, errSystemBusy()
		}
		return nil, err
	}

	log.Printf("自动核验解冻成功: membershipID=%s, holdAmount=%.2f, totalDeposit=%.2f",
		membershipID, holdAmount, total)

	return &RecoverResult{
		MembershipID: membershipID,
		Recovered:    true,
		TotalDeposit: total,
		HoldAmount:   holdAmount,
		NewBalance:   0,
	}, nil
}

func (s *ReconcileService) createDepositEvent(ctx context.Context, tx *gorm.DB, deposit *model.Deposit, status string, newBalance float64, recovered bool) error {
	msgPayload := map[string]interface{}{
		"deposit_no":    deposit.DepositNo,
		"user_id":       deposit.UserID,
		"membership_id": deposit.MembershipID,
		"amount":        deposit.Amount,
		"status":        status,
		"new_balance":   newBalance,
		"recovered":     recovered,
		"processed_at":  s.now().Format(time.RFC3339),
	}
	payloadBytes, _ := json.Marshal(msgPayload)
	outboxMsg := &model.OutboxMessage{
		MessageKey: deposit.DepositNo,
		Topic:      s.cfg.Kafka.Topic.Deposit,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	return s.outbox.Create(ctx, tx, outboxMsg)
}
