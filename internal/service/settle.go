package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"taskledger/internal/model"
	"taskledger/internal/repository"
	"taskledger/pkg/idgen"
	"taskledger/pkg/response"

	"gorm.io/gorm"
)

type SettleRequest struct {
	RequestNo   string `json:"request_no" binding:"required"` // 幂等ID，客户端生成
	UserID      int64  `json:"-"`
	TaskID      int64  `json:"task_id"`      // 预分配任务ID；0 表示结算派发缓存中的池任务
	ProvisionNo string `json:"provision_no"` // 池任务必填，派发时返回的凭证
	SelectedEgg *int   `json:"selected_egg"` // 黄金蛋任务选中的蛋，纯展示
}

type SettleResult struct {
	TaskNo            string  `json:"task_no"`
	TaskNumber        int     `json:"task_number"`
	Payout            float64 `json:"payout"`
	NewBalance        float64 `json:"new_balance"`
	NewCompletedCount int     `json:"new_completed_count"`
	HoldTriggered     bool    `json:"hold_triggered"`
	HoldAmount        float64 `json:"hold_amount,omitempty"`
}

// Settle 结算一个已完成的任务
//
// 【关键点】结算是整个引擎最核心的操作，需要保证：
// 1. 幂等性：相同的 request_no 只会入账一次，重复提交报"已处理"
// 2. 原子性：余额、计数器、任务状态、历史、流水、事件同事务落库
// 3. 并发安全：按用户加分布式锁，乐观锁版本号兜底
// 4. 前置条件全部通过之前不产生任何写入（惰性过期除外，那是读取语义）
func (s *ReconcileService) Settle(ctx context.Context, req *SettleRequest) (*SettleResult, error) {
	if req.RequestNo == "" {
		return nil, newValidation("request_no 不能为空")
	}
	if req.UserID <= 0 {
		return nil, newValidation("用户ID不合法")
	}

	// 幂等校验
	if existing, err := s.history.GetByRequestNo(ctx, req.RequestNo); err != nil {
		return nil, fmt.Errorf("查询结算历史失败: %w", err)
	} else if existing != nil {
		return nil, newAlreadyProcessed("该结算请求已处理，请勿重复提交")
	}

	// 获取分布式锁
	userLock := s.lockFor(req.UserID, req.RequestNo)
	if err := userLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, errSystemBusy()
	}
	defer userLock.Unlock(ctx)

	// 获取锁后再次检查幂等
	if existing, err := s.history.GetByRequestNo(ctx, req.RequestNo); err != nil {
		return nil, fmt.Errorf("查询结算历史失败: %w", err)
	} else if existing != nil {
		return nil, newAlreadyProcessed("该结算请求已处理，请勿重复提交")
	}

	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, newNotFound(response.CodeUserNotFound, "用户不存在")
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	now := s.now()

	// 解析待结算任务（预分配 或 派发缓存中的池任务）
	var task *model.Task
	var provisioned *model.ProvisionedTask
	if req.TaskID > 0 {
		task, err = s.tasks.GetByID(ctx, req.TaskID)
		if err != nil {
			if errors.Is(err, repository.ErrTaskNotFound) {
				return nil, newNotFound(response.CodeTaskNotFound, "任务不存在")
			}
			return nil, fmt.Errorf("查询任务失败: %w", err)
		}
		// 他人的任务按不存在处理，不泄露信息
		if task.MembershipID != user.MembershipID {
			return nil, newNotFound(response.CodeTaskNotFound, "任务不存在")
		}
		switch task.Status {
		case model.TaskStatusCompleted:
			return nil, newAlreadyProcessed("任务已结算，请勿重复提交")
		case model.TaskStatusExpired:
			return nil, newPrecondition(response.CodeTaskExpired, "任务已过期")
		}
		if task.IsExpired(now) {
			// 惰性过期：读到即落库，然后拒绝结算
			if err := s.tasks.UpdateStatus(ctx, nil, task.ID, model.TaskStatusPending, model.TaskStatusExpired); err != nil {
				log.Printf("[Settle] 任务惰性过期落库失败: taskID=%d, err=%v", task.ID, err)
			}
			return nil, newPrecondition(response.CodeTaskExpired, "任务已过期")
		}
	} else {
		provisioned, err = s.provCache.Get(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("查询派发缓存失败: %w", err)
		}
		if provisioned == nil || provisioned.ProvisionNo != req.ProvisionNo {
			return nil, newNotFound(response.CodeTaskNotFound, "派发已失效，请重新领取任务")
		}
	}

	// 前置条件（按序检查，第一个失败即返回对应信号）
	if user.AccountBalance < 0 || !user.AllowTask {
		return nil, newPrecondition(response.CodeNegativeBalance, "账户处于负余额冻结状态，请充值解冻或联系客服")
	}
	if user.CampaignStatus != model.CampaignStatusActive {
		return nil, newPrecondition(response.CodeCampaignInactive, "活动状态未开启，请联系客服")
	}
	if user.DepositCount == 0 && user.CampaignsCompleted >= s.trialTaskCap() {
		return nil, newPrecondition(response.CodeTrialQuotaReached, "体验任务已做满，请充值后继续")
	}

	// 金额三项直接相加，黄金蛋不改变金额（派发时已固定）
	var payout float64
	var taskNumber int
	if task != nil {
		payout = task.Payout()
		taskNumber = task.TaskNumber
	} else {
		payout = provisioned.Payout()
		taskNumber = user.CampaignsCompleted + 1
	}

	balanceBefore := user.AccountBalance
	oldCount := user.CampaignsCompleted

	user.AccountBalance += payout
	user.TotalEarnings += payout
	user.CampaignCommission += payout
	if task != nil {
		// 预分配任务取 max，乱序补单不能让计数器倒退
		if taskNumber > user.CampaignsCompleted {
			user.CampaignsCompleted = taskNumber
		}
	} else {
		user.CampaignsCompleted = oldCount + 1
	}
	appendCampaignSets(user, oldCount, user.CampaignsCompleted, s.campaignSetSize())

	// 结算后立即做负余额检查，亏损任务把余额打负要当场冻结
	holdTriggered := false
	if user.AccountBalance < 0 {
		user.HoldAmount = user.TrialBalance + math.Abs(user.AccountBalance)
		user.NegativeCommission = user.HoldAmount
		user.AllowTask = false
		negativeAt := now
		user.LastNegativeTime = &negativeAt
		holdTriggered = true
	}

	// 池任务此时才落库；预分配任务只做状态流转
	settledTask := task
	if settledTask == nil {
		settledTask = &model.Task{
			TaskNo:            idgen.GenerateTaskNo(),
			MembershipID:      user.MembershipID,
			CampaignID:        provisioned.CampaignID,
			Source:            model.TaskSourcePool,
			TaskNumber:        taskNumber,
			TaskCommission:    provisioned.TaskCommission,
			TaskPrice:         provisioned.TaskPrice,
			EstimatedNegative: provisioned.EstimatedNegative,
			HasGoldenEgg:      provisioned.HasGoldenEgg,
			Status:            model.TaskStatusCompleted,
			CompletedAt:       &now,
		}
	}

	var selectedEgg *int
	if settledTask.HasGoldenEgg {
		selectedEgg = req.SelectedEgg
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if task != nil {
			if err := s.tasks.UpdateStatus(ctx, tx, task.ID, model.TaskStatusPending, model.TaskStatusCompleted); err != nil {
				return fmt.Errorf("更新任务状态失败: %w", err)
			}
		} else {
			if err := s.tasks.Create(ctx, tx, settledTask); err != nil {
				return fmt.Errorf("池任务落库失败: %w", err)
			}
		}

		if err := s.users.UpdateReconciled(ctx, tx, user); err != nil {
			return err
		}

		history := &model.TaskHistory{
			RequestNo:         req.RequestNo,
			UserID:            user.ID,
			MembershipID:      user.MembershipID,
			TaskID:            settledTask.ID,
			TaskNo:            settledTask.TaskNo,
			CampaignID:        settledTask.CampaignID,
			TaskNumber:        taskNumber,
			TaskCommission:    settledTask.TaskCommission,
			TaskPrice:         settledTask.TaskPrice,
			EstimatedNegative: settledTask.EstimatedNegative,
			Payout:            payout,
			HasGoldenEgg:      settledTask.HasGoldenEgg,
			SelectedEgg:       selectedEgg,
			BalanceBefore:     balanceBefore,
			BalanceAfter:      user.AccountBalance,
		}
		if err := s.history.Create(ctx, tx, history); err != nil {
			return fmt.Errorf("记录结算历史失败: %w", err)
		}

		entry := &model.LedgerEntry{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        user.ID,
			RefNo:         settledTask.TaskNo,
			Amount:        payout,
			Type:          model.LedgerTypeTaskSettle,
			BalanceBefore: balanceBefore,
			BalanceAfter:  user.AccountBalance,
			Remark:        fmt.Sprintf("任务结算-序号%d", taskNumber),
		}
		if err := s.ledger.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		msgPayload := map[string]interface{}{
			"task_no":        settledTask.TaskNo,
			"user_id":        user.ID,
			"membership_id":  user.MembershipID,
			"payout":         payout,
			"new_balance":    user.AccountBalance,
			"task_number":    taskNumber,
			"hold_triggered": holdTriggered,
			"settled_at":     now.Format(time.RFC3339),
		}
		payloadBytes, _ := json.Marshal(msgPayload)

		outboxMsg := &model.OutboxMessage{
			MessageKey: settledTask.TaskNo,
			Topic:      s.cfg.Kafka.Topic.Settlement,
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		if err := s.outbox.Create(ctx, tx, outboxMsg); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		return nil
	})

	if err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			return nil, errSystemBusy()
		}
		return nil, err
	}

	// 池任务结算成功后清掉派发缓存
	if provisioned != nil {
		if err := s.provCache.Delete(ctx, user.ID); err != nil {
			log.Printf("[Settle] 清理派发缓存失败: userID=%d, err=%v", user.ID, err)
		}
	}

	log.Printf("结算成功: taskNo=%s, userID=%d, payout=%.2f, balance=%.2f, holdTriggered=%v",
		settledTask.TaskNo, user.ID, payout, user.AccountBalance, holdTriggered)

	return &SettleResult{
		TaskNo:            settledTask.TaskNo,
		TaskNumber:        taskNumber,
		Payout:            payout,
		NewBalance:        user.AccountBalance,
		NewCompletedCount: user.CampaignsCompleted,
		HoldTriggered:     holdTriggered,
		HoldAmount:        user.HoldAmount,
	}, nil
}
