package service

import (
	"context"
	"testing"

	"taskledger/internal/model"
	"taskledger/pkg/response"

	"golang.org/x/crypto/bcrypt"
)

// withdrawReadyUser 可提现账户：密码已设、资料已审、配额刚好达标
func withdrawReadyUser(id int64, balance float64) *model.User {
	u := activeUser(id, balance)
	hash, _ := bcrypt.GenerateFromPassword([]byte("pass123"), bcrypt.MinCost)
	u.WithdrawPassword = string(hash)
	u.DocumentsVerified = true
	u.CampaignsCompleted = 90
	return u
}

func withdrawReq(userID int64, amount float64) *WithdrawRequest {
	return &WithdrawRequest{
		UserID:   userID,
		Amount:   amount,
		Password: "pass123",
		Method:   "bank",
	}
}

func TestSetWithdrawPasswordOnce(t *testing.T) {
	user := activeUser(1, 100)
	f := newFixture(user)

	if err := f.svc.SetWithdrawPassword(context.Background(), 1, "secret1"); err != nil {
		t.Fatalf("首次设置失败: %v", err)
	}

	stored := f.users.stored(1)
	if err := bcrypt.CompareHashAndPassword([]byte(stored.WithdrawPassword), []byte("secret1")); err != nil {
		t.Fatalf("密码哈希校验失败: %v", err)
	}

	err := f.svc.SetWithdrawPassword(context.Background(), 1, "secret2")
	if code := bizCode(t, err); code != response.CodePasswordAlreadySet {
		t.Fatalf("二次设置应被拒: %d", code)
	}
}

func TestWithdrawPasswordNotSet(t *testing.T) {
	user := activeUser(1, 1000)
	f := newFixture(user)

	_, err := f.svc.RequestWithdrawal(context.Background(), withdrawReq(1, 100))
	if code := bizCode(t, err); code != response.CodePasswordNotSet {
		t.Fatalf("未设密码应被拒: %d", code)
	}
}

func TestWithdrawPasswordMismatch(t *testing.T) {
	user := withdrawReadyUser(1, 1000)
	f := newFixture(user)

	req := withdrawReq(1, 100)
	req.Password = "wrong"
	_, err := f.svc.RequestWithdrawal(context.Background(), req)
	if code := bizCode(t, err); code != response.CodePasswordMismatch {
		t.Fatalf("密码不符应被拒: %d", code)
	}
}

func TestWithdrawDocumentsNotVerified(t *testing.T) {
	user := withdrawReadyUser(1, 1000)
	user.DocumentsVerified = false
	f := newFixture(user)

	_, err := f.svc.RequestWithdrawal(context.Background(), withdrawReq(1, 100))
	if code := bizCode(t, err); code != response.CodeDocumentsNotVerified {
		t.Fatalf("资料未审应被拒: %d", code)
	}
}

func TestWithdrawNegativeBalanceBlocked(t *testing.T) {
	user := withdrawReadyUser(1, -100)
	user.AllowTask = false
	f := newFixture(user)

	_, err := f.svc.RequestWithdrawal(context.Background(), withdrawReq(1, 50))
	if code := bizCode(t, err); code != response.CodeNegativeBalance {
		t.Fatalf("冻结账户应被拒: %d", code)
	}
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	user := withdrawReadyUser(1, 100)
	f := newFixture(user)

	_, err := f.svc.RequestWithdrawal(context.Background(), withdrawReq(1, 200))
	if code := bizCode(t, err); code != response.CodeInsufficientBalance {
		t.Fatalf("超额提现应被拒: %d", code)
	}
}

func TestWithdrawTrialBalanceNotWithdrawable(t *testing.T) {
	user := withdrawReadyUser(1, 1000)
	user.TrialBalance = 300
	f := newFixture(user)

	// 可提上限 = 1000 - 300 = 700
	_, err := f.svc.RequestWithdrawal(context.Background(), withdrawReq(1, 800))
	if code := bizCode(t, err); code != response.CodeTrialNotWithdrawable {
		t.Fatalf("体验金应被挡: %d", code)
	}

	// 700 以内放行
	if _, err := f.svc.RequestWithdrawal(context.Background(), withdrawReq(1, 700)); err != nil {
		t.Fatalf("可提范围内应放行: %v", err)
	}
}

func TestWithdrawQuotaNotMetStandard(t *testing.T) {
	user := withdrawReadyUser(1, 1000)
	user.CampaignsCompleted = 89
	f := newFixture(user)

	_, err := f.svc.RequestWithdrawal(context.Background(), withdrawReq(1, 100))
	bizErr, ok := AsError(err)
	if !ok || bizErr.Code != response.CodeQuotaNotMet {
		t.Fatalf("配额未达标应被拒: %v", err)
	}
	if remaining, _ := bizErr.Meta["remaining"].(int); remaining != 1 {
		t.Fatalf("剩余单数错误: %v", bizErr.Meta)
	}
}

func TestWithdrawQuotaUndeposited(t *testing.T) {
	user := withdrawReadyUser(1, 1000)
	user.DepositCount = 0
	user.CampaignsCompleted = 30
	f := newFixture(user)

	// 未充值用户配额 30
	if _, err := f.svc.RequestWithdrawal(context.Background(), withdrawReq(1, 100)); err != nil {
		t.Fatalf("未充值用户配额30应放行: %v", err)
	}
}

func TestWithdrawQuotaVIP(t *testing.T) {
	user := withdrawReadyUser(1, 1500000)
	user.CampaignsCompleted = 91
	f := newFixture(user)

	_, err := f.svc.RequestWithdrawal(context.Background(), withdrawReq(1, 100))
	if code := bizCode(t, err); code != response.CodeQuotaNotMet {
		t.Fatalf("VIP 配额92未达标应被拒: %d", code)
	}

	user2 := withdrawReadyUser(2, 1500000)
	user2.CampaignsCompleted = 92
	f2 := newFixture(user2)
	if _, err := f2.svc.RequestWithdrawal(context.Background(), withdrawReq(2, 100)); err != nil {
		t.Fatalf("VIP 配额达标应放行: %v", err)
	}
}

func TestWithdrawQuotaVIPWithThreeSets(t *testing.T) {
	// 集满三套 set 抵扣 60 单：32 + 60 >= 92
	user := withdrawReadyUser(1, 1500000)
	user.CampaignsCompleted = 32
	user.SetCampaignSet([]int{1, 2, 3})
	f := newFixture(user)

	if _, err := f.svc.RequestWithdrawal(context.Background(), withdrawReq(1, 100)); err != nil {
		t.Fatalf("三套 set 抵扣后应放行: %v", err)
	}

	user2 := withdrawReadyUser(2, 1500000)
	user2.CampaignsCompleted = 31
	user2.SetCampaignSet([]int{1, 2, 3})
	f2 := newFixture(user2)
	_, err := f2.svc.RequestWithdrawal(context.Background(), withdrawReq(2, 100))
	if code := bizCode(t, err); code != response.CodeQuotaNotMet {
		t.Fatalf("31+60 < 92 应被拒: %d", code)
	}

	// 30 + 60 = 90，还差 2 单
	user3 := withdrawReadyUser(3, 1500000)
	user3.CampaignsCompleted = 30
	user3.SetCampaignSet([]int{1, 2, 3})
	f3 := newFixture(user3)
	_, err = f3.svc.RequestWithdrawal(context.Background(), withdrawReq(3, 100))
	bizErr, ok := AsError(err)
	if !ok || bizErr.Code != response.CodeQuotaNotMet {
		t.Fatalf("30+60 < 92 应被拒: %v", err)
	}
	if remaining, _ := bizErr.Meta["remaining"].(int); remaining != 2 {
		t.Fatalf("剩余单数错误: %v", bizErr.Meta)
	}
}

func TestWithdrawQuotaVIPFourSetsNoBonus(t *testing.T) {
	// 抵扣只在恰好 3 套时生效，第 4 套起按普通 VIP 档 92 单算
	user := withdrawReadyUser(1, 1500000)
	user.CampaignsCompleted = 90
	user.SetCampaignSet([]int{1, 2, 3, 4})
	f := newFixture(user)

	_, err := f.svc.RequestWithdrawal(context.Background(), withdrawReq(1, 100))
	bizErr, ok := AsError(err)
	if !ok || bizErr.Code != response.CodeQuotaNotMet {
		t.Fatalf("4 套不抵扣，90 < 92 应被拒: %v", err)
	}
	if required, _ := bizErr.Meta["required"].(int); required != 92 {
		t.Fatalf("应按 92 单档计算: %v", bizErr.Meta)
	}

	user2 := withdrawReadyUser(2, 1500000)
	user2.CampaignsCompleted = 92
	user2.SetCampaignSet([]int{1, 2, 3, 4})
	f2 := newFixture(user2)
	if _, err := f2.svc.RequestWithdrawal(context.Background(), withdrawReq(2, 100)); err != nil {
		t.Fatalf("92 单达标应放行: %v", err)
	}
}

func TestWithdrawResetsProgress(t *testing.T) {
	user := withdrawReadyUser(1, 1000)
	user.CampaignsCompleted = 95
	user.SetCampaignSet([]int{1, 2, 3, 4})
	f := newFixture(user)

	result, err := f.svc.RequestWithdrawal(context.Background(), withdrawReq(1, 400))
	if err != nil {
		t.Fatalf("提现失败: %v", err)
	}
	if result.NewBalance != 600 {
		t.Fatalf("扣款后余额错误: %.2f", result.NewBalance)
	}

	stored := f.users.stored(1)
	if stored.AccountBalance != 600 {
		t.Fatalf("余额落库错误: %.2f", stored.AccountBalance)
	}
	if stored.CampaignsCompleted != 0 {
		t.Fatalf("提现后任务计数应归零: %d", stored.CampaignsCompleted)
	}
	set := stored.CampaignSetList()
	if len(set) != 1 || set[0] != 1 {
		t.Fatalf("提现后 set 应回到 [1]: %v", set)
	}

	w := f.withdrawals.stored(result.WithdrawalNo)
	if w.Status != model.WithdrawalStatusPending || w.Amount != 400 {
		t.Fatalf("提现单错误: %+v", w)
	}

	entry := f.ledger.last()
	if entry == nil || entry.Type != model.LedgerTypeWithdraw || entry.Amount != -400 {
		t.Fatalf("提现流水错误: %+v", entry)
	}
	if f.outbox.count() != 1 {
		t.Fatalf("应写入1条 outbox 消息")
	}
}

func TestWithdrawRejectionKeepsDebit(t *testing.T) {
	user := withdrawReadyUser(1, 1000)
	f := newFixture(user)

	result, err := f.svc.RequestWithdrawal(context.Background(), withdrawReq(1, 400))
	if err != nil {
		t.Fatalf("提现失败: %v", err)
	}

	if _, err := f.svc.ProcessWithdrawal(context.Background(), result.WithdrawalNo, "rejected"); err != nil {
		t.Fatalf("驳回失败: %v", err)
	}

	// 驳回不自动退款，余额保持扣减后的值
	if got := f.users.stored(1).AccountBalance; got != 600 {
		t.Fatalf("驳回不应自动退款: balance=%.2f", got)
	}
	if f.withdrawals.stored(result.WithdrawalNo).Status != model.WithdrawalStatusRejected {
		t.Fatalf("提现单状态应为 REJECTED")
	}
}
