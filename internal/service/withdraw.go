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

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SetWithdrawPassword 设置提现密码，只允许设置一次
// 改密必须走管理员重置接口，防止账号被盗后直接换密提走
func (s *ReconcileService) SetWithdrawPassword(ctx context.Context, userID int64, password string) error {
	if len(password) < 6 {
		return newValidation("提现密码至少6位")
	}

	userLock := s.lockFor(userID, fmt.Sprintf("setpwd-%d", userID))
	if err := userLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return errSystemBusy()
	}
	defer userLock.Unlock(ctx)

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return newNotFound(response.CodeUserNotFound, "用户不存在")
		}
		return fmt.Errorf("查询用户失败: %w", err)
	}
	if user.WithdrawPassword != "" {
		return newPrecondition(response.CodePasswordAlreadySet, "提现密码已设置，如需修改请联系客服")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("密码加密失败: %w", err)
	}
	user.WithdrawPassword = string(hash)

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

type WithdrawRequest struct {
	UserID         int64   `json:"user_id"`
	Amount         float64 `json:"amount"`
	Password       string  `json:"password"`
	Method         string  `json:"method"`
	AccountDetails string  `json:"account_details"`
}

type WithdrawResult struct {
	WithdrawalNo string  `json:"withdrawal_no"`
	Amount       float64 `json:"amount"`
	NewBalance   float64 `json:"new_balance"`
}

// RequestWithdrawal 提现申请
//
// ============================================================
// 提现闸门，按固定顺序逐项校验（前面的不过就不看后面的）：
// 1. 提现密码已设置且匹配
// 2. 身份资料已审核
// 3. 余额非负（负余额冻结中禁止提现）
// 4. 金额不超过余额
// 5. 体验金不可提现（可提上限 = 余额 - 体验金）
// 6. 任务配额已完成（按档位区分，见 quotaCheck）
//
// 【关键点】通过后立即扣减余额并重置任务进度：
// campaigns_completed 归零、campaign_set 回到 [1]，
// 下一轮提现要重新攒配额。提现单落 PENDING，打款由管理员推进。
// ============================================================
func (s *ReconcileService) RequestWithdrawal(ctx context.Context, req *WithdrawRequest) (*WithdrawResult, error) {
	if req.Amount <= 0 {
		return nil, newValidation("提现金额必须大于0")
	}
	if req.Method == "" {
		return nil, newValidation("提现方式不能为空")
	}

	withdrawalNo := idgen.GenerateWithdrawalNo()
	userLock := s.lockFor(req.UserID, withdrawalNo)
	if err := userLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, errSystemBusy()
	}
	defer userLock.Unlock(ctx)

	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, newNotFound(response.CodeUserNotFound, "用户不存在")
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	if user.WithdrawPassword == "" {
		return nil, newPrecondition(response.CodePasswordNotSet, "请先设置提现密码")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.WithdrawPassword), []byte(req.Password)); err != nil {
		return nil, newPrecondition(response.CodePasswordMismatch, "提现密码错误")
	}
	if !user.DocumentsVerified {
		return nil, newPrecondition(response.CodeDocumentsNotVerified, "身份资料未审核，暂不能提现")
	}
	if user.AccountBalance < 0 || !user.AllowTask {
		return nil, newPrecondition(response.CodeNegativeBalance, "账户处于冻结状态，请先完成充值回收")
	}
	if req.Amount > user.AccountBalance {
		return nil, newPrecondition(response.CodeInsufficientBalance, "余额不足")
	}
	withdrawable := user.AccountBalance - user.TrialBalance
	if req.Amount > withdrawable {
		return nil, newPreconditionMeta(response.CodeTrialNotWithdrawable,
			fmt.Sprintf("体验金不可提现，当前可提 %.2f", withdrawable),
			map[string]interface{}{"withdrawable": withdrawable, "trial_balance": user.TrialBalance})
	}
	if err := s.quotaCheck(user); err != nil {
		return nil, err
	}

	balanceBefore := user.AccountBalance
	user.AccountBalance -= req.Amount
	user.CampaignsCompleted = 0
	user.SetCampaignSet([]int{1})

	withdrawal := &model.Withdrawal{
		WithdrawalNo:   withdrawalNo,
		UserID:         user.ID,
		MembershipID:   user.MembershipID,
		Amount:         req.Amount,
		Method:         req.Method,
		AccountDetails: req.AccountDetails,
		Status:         model.WithdrawalStatusPending,
		SubmittedAt:    s.now(),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.withdrawals.Create(ctx, tx, withdrawal); err != nil {
			return fmt.Errorf("创建提现单失败: %w", err)
		}

		if err := s.users.UpdateReconciled(ctx, tx, user); err != nil {
			return err
		}

		entry := &model.LedgerEntry{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        user.ID,
			RefNo:         withdrawalNo,
			Amount:        -req.Amount,
			Type:          model.LedgerTypeWithdraw,
			BalanceBefore: balanceBefore,
			BalanceAfter:  user.AccountBalance,
			Remark:        fmt.Sprintf("提现申请-%s", withdrawalNo),
		}
		if err := s.ledger.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		msgPayload := map[string]interface{}{
			"withdrawal_no": withdrawalNo,
			"user_id":       user.ID,
			"membership_id": user.MembershipID,
			"amount":        req.Amount,
			"method":        req.Method,
			"status":        model.WithdrawalStatusPending,
			"submitted_at":  s.now().Format(time.RFC3339),
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
		if errors.Is(err, repository.ErrOptimisticLock) {
			return nil, errSystemBusy()
		}
		return nil, err
	}

	log.Printf("提现申请成功: withdrawalNo=%s, userID=%d, amount=%.2f, balance=%.2f",
		withdrawalNo, user.ID, req.Amount, user.AccountBalance)

	return &WithdrawResult{
		WithdrawalNo: withdrawalNo,
		Amount:       req.Amount,
		NewBalance:   user.AccountBalance,
	}, nil
}

// quotaCheck 提现任务配额闸门
//
// 档位（从高到低匹配，命中即用）：
//   - VIP（余额 >= 100万）且恰好集满 3 套：92 单，其中 60 单由套装抵扣
//     （第 4 套开始回到普通 VIP 档，不再抵扣）
//   - VIP：92 单
//   - 未充值用户：30 单
//   - 标准用户：90 单
func (s *ReconcileService) quotaCheck(user *model.User) error {
	vipThreshold := s.cfg.Business.VIPBalanceThreshold
	if vipThreshold <= 0 {
		vipThreshold = 1000000
	}
	vipQuota := s.cfg.Business.VIPTaskQuota
	if vipQuota <= 0 {
		vipQuota = 92
	}
	setBonus := s.cfg.Business.VIPSetBonusTasks
	if setBonus <= 0 {
		setBonus = 60
	}
	standardQuota := s.cfg.Business.StandardTaskQuota
	if standardQuota <= 0 {
		standardQuota = 90
	}

	var required, have int
	switch {
	case user.AccountBalance >= vipThreshold && len(user.CampaignSetList()) == 3:
		required = vipQuota
		have = user.CampaignsCompleted + setBonus
	case user.AccountBalance >= vipThreshold:
		required = vipQuota
		have = user.CampaignsCompleted
	case user.DepositCount == 0:
		required = s.trialTaskCap()
		have = user.CampaignsCompleted
	default:
		required = standardQuota
		have = user.CampaignsCompleted
	}

	if have < required {
		remaining := required - have
		return newPreconditionMeta(response.CodeQuotaNotMet,
			fmt.Sprintf("任务配额未完成，还需完成 %d 单", remaining),
			map[string]interface{}{"required": required, "completed": have, "remaining": remaining})
	}
	return nil
}
