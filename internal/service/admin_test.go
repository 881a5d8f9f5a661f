package service

import (
	"context"
	"testing"
	"time"

	"taskledger/internal/model"
	"taskledger/pkg/response"
)

func TestProcessWithdrawalLifecycle(t *testing.T) {
	user := withdrawReadyUser(1, 1000)
	f := newFixture(user)

	result, err := f.svc.RequestWithdrawal(context.Background(), withdrawReq(1, 200))
	if err != nil {
		t.Fatalf("提现失败: %v", err)
	}

	// pending -> completed 不允许，必须先 processing
	_, err = f.svc.ProcessWithdrawal(context.Background(), result.WithdrawalNo, "completed")
	if code := bizCode(t, err); code != response.CodeAlreadyProcessed {
		t.Fatalf("跳状态流转应被拒: %d", code)
	}

	if _, err := f.svc.ProcessWithdrawal(context.Background(), result.WithdrawalNo, "processing"); err != nil {
		t.Fatalf("推进 processing 失败: %v", err)
	}
	if _, err := f.svc.ProcessWithdrawal(context.Background(), result.WithdrawalNo, "completed"); err != nil {
		t.Fatalf("推进 completed 失败: %v", err)
	}

	// 终态后拒绝任何流转
	_, err = f.svc.ProcessWithdrawal(context.Background(), result.WithdrawalNo, "rejected")
	if code := bizCode(t, err); code != response.CodeAlreadyProcessed {
		t.Fatalf("终态后流转应被拒: %d", code)
	}
}

func TestProcessWithdrawalUnknownAction(t *testing.T) {
	f := newFixture(activeUser(1, 100))
	_, err := f.svc.ProcessWithdrawal(context.Background(), "WDL-x", "refund")
	if code := bizCode(t, err); code != response.CodeParamError {
		t.Fatalf("未知操作应报参数错误: %d", code)
	}
}

func TestReleaseHold(t *testing.T) {
	user := frozenUser(1, -500, 50)
	f := newFixture(user)

	if err := f.svc.ReleaseHold(context.Background(), user.MembershipID); err != nil {
		t.Fatalf("手动解冻失败: %v", err)
	}

	stored := f.users.stored(1)
	if stored.AccountBalance != 0 || stored.NegativeCommission != 0 {
		t.Fatalf("解冻后账户错误: balance=%.2f, loss=%.2f", stored.AccountBalance, stored.NegativeCommission)
	}
	if stored.HoldAmount != 550 || stored.WithdrawalBalance != 550 {
		t.Fatalf("hold 应保留展示: %.2f / %.2f", stored.HoldAmount, stored.WithdrawalBalance)
	}
	if !stored.AllowTask || stored.LastNegativeTime != nil {
		t.Fatalf("解冻状态错误")
	}

	// 幂等：再次调用不报错、不追加流水
	before := len(f.ledger.all())
	if err := f.svc.ReleaseHold(context.Background(), user.MembershipID); err != nil {
		t.Fatalf("重复解冻应幂等: %v", err)
	}
	if len(f.ledger.all()) != before {
		t.Fatalf("重复解冻不应追加流水")
	}
}

func TestAdjustBalance(t *testing.T) {
	user := activeUser(1, 100)
	f := newFixture(user)

	if err := f.svc.AdjustBalance(context.Background(), user.MembershipID, -30, "提现驳回退款冲正"); err != nil {
		t.Fatalf("修正失败: %v", err)
	}
	if got := f.users.stored(1).AccountBalance; got != 70 {
		t.Fatalf("修正后余额错误: %.2f", got)
	}

	entry := f.ledger.last()
	if entry == nil || entry.Type != model.LedgerTypeAdminAdjust || entry.Amount != -30 {
		t.Fatalf("修正流水错误: %+v", entry)
	}

	// 备注必填
	err := f.svc.AdjustBalance(context.Background(), user.MembershipID, 10, "")
	if code := bizCode(t, err); code != response.CodeParamError {
		t.Fatalf("空备注应被拒: %d", code)
	}
}

func TestDeductTrialBalance(t *testing.T) {
	user := activeUser(1, 500)
	user.TrialBalance = 200
	f := newFixture(user)

	if err := f.svc.DeductTrialBalance(context.Background(), user.MembershipID, 150, ""); err != nil {
		t.Fatalf("体验金扣减失败: %v", err)
	}

	stored := f.users.stored(1)
	if stored.TrialBalance != 50 || stored.AccountBalance != 350 {
		t.Fatalf("扣减落库错误: trial=%.2f, balance=%.2f", stored.TrialBalance, stored.AccountBalance)
	}

	// 超额扣减被拒
	err := f.svc.DeductTrialBalance(context.Background(), user.MembershipID, 100, "")
	if code := bizCode(t, err); code != response.CodeInsufficientBalance {
		t.Fatalf("超额扣减应被拒: %d", code)
	}
}

func TestResetQuota(t *testing.T) {
	user := activeUser(1, 100)
	user.CampaignsCompleted = 45
	user.SetCampaignSet([]int{1, 2})
	f := newFixture(user)

	if err := f.svc.ResetQuota(context.Background(), user.MembershipID); err != nil {
		t.Fatalf("重置失败: %v", err)
	}

	stored := f.users.stored(1)
	if stored.CampaignsCompleted != 0 {
		t.Fatalf("计数应归零: %d", stored.CampaignsCompleted)
	}
	if set := stored.CampaignSetList(); len(set) != 1 || set[0] != 1 {
		t.Fatalf("set 应回到 [1]: %v", set)
	}
}

func TestSetCampaignStatus(t *testing.T) {
	user := activeUser(1, 100)
	f := newFixture(user)

	if err := f.svc.SetCampaignStatus(context.Background(), user.MembershipID, model.CampaignStatusInactive); err != nil {
		t.Fatalf("停用失败: %v", err)
	}
	if f.users.stored(1).CampaignStatus != model.CampaignStatusInactive {
		t.Fatalf("状态未落库")
	}

	err := f.svc.SetCampaignStatus(context.Background(), user.MembershipID, "PAUSED")
	if code := bizCode(t, err); code != response.CodeParamError {
		t.Fatalf("非法状态应被拒: %d", code)
	}
}

func TestResetWithdrawPassword(t *testing.T) {
	user := withdrawReadyUser(1, 100)
	f := newFixture(user)

	if err := f.svc.ResetWithdrawPassword(context.Background(), user.MembershipID); err != nil {
		t.Fatalf("重置密码失败: %v", err)
	}
	if f.users.stored(1).WithdrawPassword != "" {
		t.Fatalf("密码应被清空")
	}

	// 清空后用户可重新设置
	if err := f.svc.SetWithdrawPassword(context.Background(), 1, "newpass"); err != nil {
		t.Fatalf("重置后再次设置应放行: %v", err)
	}
}

func TestSeedTasks(t *testing.T) {
	user := activeUser(1, 100)
	f := newFixture(user)

	taskNos, err := f.svc.SeedTasks(context.Background(), user.MembershipID, []SeedTaskItem{
		{TaskNumber: 1, TaskCommission: 30, TaskPrice: 100},
		{TaskNumber: 2, TaskCommission: 30, TaskPrice: 100, EstimatedNegative: -500},
		{TaskNumber: 3, TaskCommission: 50, HasGoldenEgg: true},
	})
	if err != nil {
		t.Fatalf("任务写入失败: %v", err)
	}
	if len(taskNos) != 3 {
		t.Fatalf("任务号数量错误: %d", len(taskNos))
	}
	if f.tasks.count() != 3 {
		t.Fatalf("任务落库数量错误: %d", f.tasks.count())
	}

	// 写入后可按序派发
	prov, err := f.svc.Provision(context.Background(), 1)
	if err != nil {
		t.Fatalf("派发失败: %v", err)
	}
	if !prov.HasGoldenEgg {
		t.Fatalf("黄金蛋应插队派发: %+v", prov)
	}
}

func TestAbandonExpiredHold(t *testing.T) {
	user := frozenUser(1, -500, 50)
	f := newFixture(user)

	// 冻结 14 天，窗口未到
	f.now = user.LastNegativeTime.Add(14 * 24 * time.Hour)
	abandoned, err := f.svc.AbandonExpiredHold(context.Background(), user.MembershipID)
	if err != nil {
		t.Fatalf("核销判定失败: %v", err)
	}
	if abandoned {
		t.Fatalf("窗口未到不应核销")
	}

	// 超过 30 天
	f.now = user.LastNegativeTime.Add(31 * 24 * time.Hour)
	abandoned, err = f.svc.AbandonExpiredHold(context.Background(), user.MembershipID)
	if err != nil {
		t.Fatalf("核销失败: %v", err)
	}
	if !abandoned {
		t.Fatalf("超期应核销")
	}

	// 核销只清追踪时间，hold/欠款保留，账户仍禁止做单
	stored := f.users.stored(1)
	if stored.LastNegativeTime != nil {
		t.Fatalf("追踪时间应清空")
	}
	if stored.HoldAmount != 550 || stored.NegativeCommission != 550 {
		t.Fatalf("核销不应清 hold/欠款: %.2f / %.2f", stored.HoldAmount, stored.NegativeCommission)
	}
	if stored.AllowTask {
		t.Fatalf("核销不是赦免，应保持禁止做单")
	}

	entry := f.ledger.last()
	if entry == nil || entry.Type != model.LedgerTypeWriteOff {
		t.Fatalf("应记核销流水: %+v", entry)
	}

	// 幂等：已核销的再次调用返回 false
	abandoned, err = f.svc.AbandonExpiredHold(context.Background(), user.MembershipID)
	if err != nil || abandoned {
		t.Fatalf("重复核销应返回 false: %v, %v", abandoned, err)
	}
}
