package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"taskledger/internal/commission"
	"taskledger/internal/model"
	"taskledger/internal/repository"
	"taskledger/pkg/idgen"
	"taskledger/pkg/response"
)

// Provision 取该用户的下一个待做任务
//
// 派发优先级：
//  1. 待办的黄金蛋任务（无视序号插队）
//  2. 按序号的预分配任务（task_number == 已完成数 + 1）
//  3. 共享活动池：随机挑一个没做过的活动合成池任务（全做过则允许重复）
//  4. 实在没有 -> "暂无可做任务"
//
// 查询失败一律降级为"暂无可做任务"，派发永远不能把错误抛给用户，
// 调用方稍后重试即可。派发本身不写任何持久化数据，
// 池任务的合成结果只进 Redis 缓存（带 TTL），结算时才落库。
func (s *ReconcileService) Provision(ctx context.Context, userID int64) (*model.ProvisionedTask, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, newNotFound(response.CodeUserNotFound, "用户不存在")
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	now := s.now()

	// 1. 黄金蛋插队
	golden, err := s.tasks.GetPendingGoldenEgg(ctx, user.MembershipID)
	if err != nil {
		log.Printf("[Provision] 查询黄金蛋任务失败: userID=%d, err=%v", userID, err)
		return nil, errNoTaskAvailable()
	}
	if golden != nil {
		if !golden.IsExpired(now) {
			return provisionedFromTask(golden), nil
		}
		// 惰性过期，继续往下找
		if err := s.tasks.UpdateStatus(ctx, nil, golden.ID, model.TaskStatusPending, model.TaskStatusExpired); err != nil {
			log.Printf("[Provision] 黄金蛋任务惰性过期落库失败: taskID=%d, err=%v", golden.ID, err)
		}
	}

	// 2. 按序号的预分配任务
	next, err := s.tasks.GetPendingByNumber(ctx, user.MembershipID, user.CampaignsCompleted+1)
	if err != nil {
		log.Printf("[Provision] 查询预分配任务失败: userID=%d, err=%v", userID, err)
		return nil, errNoTaskAvailable()
	}
	if next != nil {
		if !next.IsExpired(now) {
			return provisionedFromTask(next), nil
		}
		if err := s.tasks.UpdateStatus(ctx, nil, next.ID, model.TaskStatusPending, model.TaskStatusExpired); err != nil {
			log.Printf("[Provision] 预分配任务惰性过期落库失败: taskID=%d, err=%v", next.ID, err)
		}
	}

	// 3. 共享活动池
	activeCampaigns, err := s.campaigns.ListActive(ctx)
	if err != nil {
		log.Printf("[Provision] 查询活动池失败: userID=%d, err=%v", userID, err)
		return nil, errNoTaskAvailable()
	}
	if len(activeCampaigns) == 0 {
		return nil, errNoTaskAvailable()
	}

	doneIDs, err := s.tasks.ListPoolCampaignIDs(ctx, user.MembershipID)
	if err != nil {
		log.Printf("[Provision] 查询已完成活动失败: userID=%d, err=%v", userID, err)
		return nil, errNoTaskAvailable()
	}
	done := make(map[int64]bool, len(doneIDs))
	for _, id := range doneIDs {
		done[id] = true
	}

	eligible := make([]*model.Campaign, 0, len(activeCampaigns))
	for _, c := range activeCampaigns {
		if !done[c.ID] {
			eligible = append(eligible, c)
		}
	}
	// 全部做过时允许重复，不能让用户卡死
	if len(eligible) == 0 {
		eligible = activeCampaigns
	}
	picked := eligible[s.randIntn(len(eligible))]

	// 新用户（未充值）走随机小额档，老用户按余额档位
	var comm float64
	if user.DepositCount == 0 {
		comm = s.newUserCommission()
	} else {
		comm = commission.Calculate(user.AccountBalance)
	}

	provisioned := &model.ProvisionedTask{
		ProvisionNo:    idgen.GenerateProvisionNo(),
		Source:         model.TaskSourcePool,
		CampaignID:     picked.ID,
		CampaignName:   picked.Name,
		TaskNumber:     user.CampaignsCompleted + 1,
		TaskCommission: comm,
		TaskPrice:      picked.Price,
	}

	if err := s.provCache.Put(ctx, user.ID, provisioned, s.provisionTTL()); err != nil {
		log.Printf("[Provision] 写入派发缓存失败: userID=%d, err=%v", userID, err)
		return nil, errNoTaskAvailable()
	}

	return provisioned, nil
}

func (s *ReconcileService) newUserCommission() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	targetBonus := s.cfg.Business.NewUserTargetBonus
	if targetBonus <= 0 {
		targetBonus = 1000
	}
	spread := s.cfg.Business.NewUserCommissionSpread
	if spread <= 0 {
		spread = 5
	}
	return commission.NewUserCommission(s.rng, targetBonus, s.trialTaskCap(), spread)
}

func provisionedFromTask(t *model.Task) *model.ProvisionedTask {
	return &model.ProvisionedTask{
		Source:            model.TaskSourcePreassigned,
		TaskID:            t.ID,
		TaskNumber:        t.TaskNumber,
		TaskCommission:    t.TaskCommission,
		TaskPrice:         t.TaskPrice,
		EstimatedNegative: t.EstimatedNegative,
		HasGoldenEgg:      t.HasGoldenEgg,
	}
}

func errNoTaskAvailable() *Error {
	return newPrecondition(response.CodeNoTaskAvailable, "暂无可做任务，请稍后再试")
}
