package service

import (
	"context"
	"testing"
	"time"

	"taskledger/internal/model"
	"taskledger/pkg/response"
)

func TestProvisionGoldenEggFirst(t *testing.T) {
	user := activeUser(1, 1000)
	user.CampaignsCompleted = 5
	f := newFixture(user)

	// 序号6 的普通任务 和 序号9 的黄金蛋任务同时待办
	f.tasks.Create(context.Background(), nil, pendingTask(user.MembershipID, 6, 30, 0, 0))
	golden := pendingTask(user.MembershipID, 9, 50, 0, 0)
	golden.HasGoldenEgg = true
	f.tasks.Create(context.Background(), nil, golden)

	prov, err := f.svc.Provision(context.Background(), 1)
	if err != nil {
		t.Fatalf("派发失败: %v", err)
	}
	if !prov.HasGoldenEgg || prov.TaskNumber != 9 {
		t.Fatalf("黄金蛋任务应优先派发: %+v", prov)
	}
	if prov.Source != model.TaskSourcePreassigned {
		t.Fatalf("来源错误: %s", prov.Source)
	}
}

func TestProvisionSequentialPreassigned(t *testing.T) {
	user := activeUser(1, 1000)
	user.CampaignsCompleted = 5
	f := newFixture(user)

	f.tasks.Create(context.Background(), nil, pendingTask(user.MembershipID, 6, 30, 100, 0))
	f.tasks.Create(context.Background(), nil, pendingTask(user.MembershipID, 7, 30, 100, 0))

	prov, err := f.svc.Provision(context.Background(), 1)
	if err != nil {
		t.Fatalf("派发失败: %v", err)
	}
	if prov.TaskNumber != 6 {
		t.Fatalf("应派发已完成数+1 的任务: %d", prov.TaskNumber)
	}
}

func TestProvisionPoolTask(t *testing.T) {
	user := activeUser(1, 60000) // 黄金档，佣金200
	user.CampaignsCompleted = 3
	f := newFixture(user)
	f.campaigns.campaigns = []*model.Campaign{
		{ID: 1, Name: "活动A", Price: 500, Status: model.CampaignStatusActive},
	}

	prov, err := f.svc.Provision(context.Background(), 1)
	if err != nil {
		t.Fatalf("派发失败: %v", err)
	}
	if prov.Source != model.TaskSourcePool {
		t.Fatalf("无预分配任务时应走活动池: %s", prov.Source)
	}
	if prov.CampaignID != 1 || prov.TaskPrice != 500 {
		t.Fatalf("活动字段错误: %+v", prov)
	}
	if prov.TaskCommission != 200 {
		t.Fatalf("已充值用户应按余额档位计佣: %.2f", prov.TaskCommission)
	}
	if prov.TaskNumber != 4 {
		t.Fatalf("池任务序号应为已完成数+1: %d", prov.TaskNumber)
	}
	if prov.ProvisionNo == "" {
		t.Fatalf("池任务必须携带派发凭证")
	}

	// 金额在派发时已固定并进缓存
	cached, _ := f.provCache.Get(context.Background(), 1)
	if cached == nil || cached.ProvisionNo != prov.ProvisionNo || cached.TaskCommission != 200 {
		t.Fatalf("派发缓存错误: %+v", cached)
	}
	// 派发不落库
	if f.tasks.count() != 0 {
		t.Fatalf("派发阶段不应写任务表")
	}
}

func TestProvisionNewUserCommissionBand(t *testing.T) {
	user := activeUser(1, 500)
	user.DepositCount = 0
	f := newFixture(user)
	f.campaigns.campaigns = []*model.Campaign{
		{ID: 1, Name: "活动A", Price: 100, Status: model.CampaignStatusActive},
	}

	// 1000/30 ≈ 33.33，浮动±5
	for i := 0; i < 20; i++ {
		prov, err := f.svc.Provision(context.Background(), 1)
		if err != nil {
			t.Fatalf("派发失败: %v", err)
		}
		if prov.TaskCommission < 28.33 || prov.TaskCommission > 38.34 {
			t.Fatalf("新用户佣金超出区间: %.2f", prov.TaskCommission)
		}
	}
}

func TestProvisionSkipsCompletedPoolCampaigns(t *testing.T) {
	user := activeUser(1, 1000)
	f := newFixture(user)
	f.campaigns.campaigns = []*model.Campaign{
		{ID: 1, Name: "活动A", Price: 100, Status: model.CampaignStatusActive},
		{ID: 2, Name: "活动B", Price: 100, Status: model.CampaignStatusActive},
	}
	// 活动1 已做过
	f.tasks.Create(context.Background(), nil, &model.Task{
		TaskNo:       "TSK-done",
		MembershipID: user.MembershipID,
		CampaignID:   1,
		Source:       model.TaskSourcePool,
		TaskNumber:   1,
		Status:       model.TaskStatusCompleted,
	})

	for i := 0; i < 10; i++ {
		prov, err := f.svc.Provision(context.Background(), 1)
		if err != nil {
			t.Fatalf("派发失败: %v", err)
		}
		if prov.CampaignID != 2 {
			t.Fatalf("做过的活动不应再派发: campaignID=%d", prov.CampaignID)
		}
	}
}

func TestProvisionRepeatsWhenAllCampaignsDone(t *testing.T) {
	user := activeUser(1, 1000)
	f := newFixture(user)
	f.campaigns.campaigns = []*model.Campaign{
		{ID: 1, Name: "活动A", Price: 100, Status: model.CampaignStatusActive},
	}
	f.tasks.Create(context.Background(), nil, &model.Task{
		TaskNo:       "TSK-done",
		MembershipID: user.MembershipID,
		CampaignID:   1,
		Source:       model.TaskSourcePool,
		TaskNumber:   1,
		Status:       model.TaskStatusCompleted,
	})

	// 全做过时允许重复，不能让用户卡死
	prov, err := f.svc.Provision(context.Background(), 1)
	if err != nil {
		t.Fatalf("全部做过时应允许重复派发: %v", err)
	}
	if prov.CampaignID != 1 {
		t.Fatalf("派发活动错误: %d", prov.CampaignID)
	}
}

func TestProvisionNoTaskAvailable(t *testing.T) {
	user := activeUser(1, 1000)
	f := newFixture(user)

	_, err := f.svc.Provision(context.Background(), 1)
	if code := bizCode(t, err); code != response.CodeNoTaskAvailable {
		t.Fatalf("无任务可派应返回对应错误: %d", code)
	}
}

func TestProvisionExpiredPreassignedFallsThrough(t *testing.T) {
	user := activeUser(1, 1000)
	f := newFixture(user)
	f.campaigns.campaigns = []*model.Campaign{
		{ID: 1, Name: "活动A", Price: 100, Status: model.CampaignStatusActive},
	}

	expiredAt := f.now.Add(-time.Hour)
	stale := pendingTask(user.MembershipID, 1, 30, 0, 0)
	stale.ExpiredAt = &expiredAt
	f.tasks.Create(context.Background(), nil, stale)

	prov, err := f.svc.Provision(context.Background(), 1)
	if err != nil {
		t.Fatalf("派发失败: %v", err)
	}
	if prov.Source != model.TaskSourcePool {
		t.Fatalf("过期任务应跳过，落到活动池: %+v", prov)
	}
	// 惰性过期已落库
	if f.tasks.stored(stale.ID).Status != model.TaskStatusExpired {
		t.Fatalf("过期状态应已落库")
	}
}
