package service

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"taskledger/internal/config"
	"taskledger/internal/model"
	"taskledger/internal/repository"

	"gorm.io/gorm"
)

// ---------------------------------------------------------------------------
// 内存桩：实现 service 的各个 store 接口，让对账逻辑脱离 MySQL/Redis 跑单测。
// 所有读操作返回拷贝，写操作（UpdateReconciled 等）才回写，
// 用来验证"前置条件失败时不产生任何写入"。
// ---------------------------------------------------------------------------

type fakeTx struct{}

func (fakeTx) Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error {
	return fc(nil)
}

type fakeLock struct{}

func (fakeLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	return nil
}

func (fakeLock) Unlock(ctx context.Context) error { return nil }

// ---

type fakeUsers struct {
	mu    sync.Mutex
	byID  map[int64]*model.User
	byMID map[string]*model.User
}

func newFakeUsers(users ...*model.User) *fakeUsers {
	f := &fakeUsers{byID: make(map[int64]*model.User), byMID: make(map[string]*model.User)}
	for _, u := range users {
		cp := *u
		f.byID[u.ID] = &cp
		f.byMID[u.MembershipID] = &cp
	}
	return f
}

func (f *fakeUsers) GetByID(_ context.Context, userID int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetByMembershipID(_ context.Context, membershipID string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byMID[membershipID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) UpdateReconciled(_ context.Context, _ *gorm.DB, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.byID[user.ID]
	if !ok {
		return repository.ErrUserNotFound
	}
	if stored.Version != user.Version {
		return repository.ErrOptimisticLock
	}
	cp := *user
	cp.Version++
	f.byID[user.ID] = &cp
	f.byMID[user.MembershipID] = &cp
	user.Version++
	return nil
}

// stored 直接读底层存储，测试断言用
func (f *fakeUsers) stored(userID int64) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.byID[userID]
	return &cp
}

// ---

type fakeTasks struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]*model.Task
}

func newFakeTasks(tasks ...*model.Task) *fakeTasks {
	f := &fakeTasks{nextID: 1, tasks: make(map[int64]*model.Task)}
	for _, t := range tasks {
		cp := *t
		if cp.ID == 0 {
			cp.ID = f.nextID
		}
		if cp.ID >= f.nextID {
			f.nextID = cp.ID + 1
		}
		f.tasks[cp.ID] = &cp
	}
	return f
}

func (f *fakeTasks) Create(_ context.Context, _ *gorm.DB, task *model.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task.ID = f.nextID
	f.nextID++
	cp := *task
	f.tasks[cp.ID] = &cp
	return nil
}

func (f *fakeTasks) GetByID(_ context.Context, taskID int64) (*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, repository.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTasks) GetPendingGoldenEgg(_ context.Context, membershipID string) (*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *model.Task
	for _, t := range f.tasks {
		if t.MembershipID == membershipID && t.Status == model.TaskStatusPending && t.HasGoldenEgg {
			if best == nil || t.TaskNumber < best.TaskNumber {
				best = t
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (f *fakeTasks) GetPendingByNumber(_ context.Context, membershipID string, taskNumber int) (*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.MembershipID == membershipID && t.Status == model.TaskStatusPending && t.TaskNumber == taskNumber && t.Source == model.TaskSourcePreassigned {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeTasks) UpdateStatus(_ context.Context, _ *gorm.DB, taskID int64, fromStatus, toStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return repository.ErrTaskNotFound
	}
	if t.Status != fromStatus || !model.TaskCanTransitionTo(fromStatus, toStatus) {
		return repository.ErrTaskStatusInvalid
	}
	t.Status = toStatus
	if toStatus == model.TaskStatusCompleted {
		now := time.Now()
		t.CompletedAt = &now
	}
	return nil
}

func (f *fakeTasks) ListPoolCampaignIDs(_ context.Context, membershipID string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for _, t := range f.tasks {
		if t.MembershipID == membershipID && t.Source == model.TaskSourcePool && t.Status == model.TaskStatusCompleted {
			ids = append(ids, t.CampaignID)
		}
	}
	return ids, nil
}

func (f *fakeTasks) stored(taskID int64) *model.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.tasks[taskID]
	return &cp
}

func (f *fakeTasks) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

// ---

type fakeCampaigns struct {
	campaigns []*model.Campaign
}

func (f *fakeCampaigns) ListActive(_ context.Context) ([]*model.Campaign, error) {
	var out []*model.Campaign
	for _, c := range f.campaigns {
		if c.Status == model.CampaignStatusActive {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---

type fakeDeposits struct {
	mu       sync.Mutex
	nextID   int64
	deposits map[string]*model.Deposit
}

func newFakeDeposits(deposits ...*model.Deposit) *fakeDeposits {
	f := &fakeDeposits{nextID: 1, deposits: make(map[string]*model.Deposit)}
	for _, d := range deposits {
		cp := *d
		cp.ID = f.nextID
		f.nextID++
		f.deposits[cp.DepositNo] = &cp
	}
	return f
}

func (f *fakeDeposits) Create(_ context.Context, _ *gorm.DB, deposit *model.Deposit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	deposit.ID = f.nextID
	f.nextID++
	cp := *deposit
	f.deposits[cp.DepositNo] = &cp
	return nil
}

func (f *fakeDeposits) GetByDepositNo(_ context.Context, depositNo string) (*model.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deposits[depositNo]
	if !ok {
		return nil, repository.ErrDepositNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDeposits) UpdateStatus(_ context.Context, _ *gorm.DB, depositNo string, fromStatus, toStatus, notes string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deposits[depositNo]
	if !ok {
		return repository.ErrDepositNotFound
	}
	if d.Status != fromStatus || !model.DepositCanTransitionTo(fromStatus, toStatus) {
		return repository.ErrDepositStatusInvalid
	}
	d.Status = toStatus
	d.AdminNotes = notes
	now := time.Now()
	d.ProcessedAt = &now
	return nil
}

func (f *fakeDeposits) SumApprovedAfter(_ context.Context, membershipID string, after time.Time) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total float64
	for _, d := range f.deposits {
		if d.MembershipID == membershipID && d.Status == model.DepositStatusApproved &&
			d.ProcessedAt != nil && d.ProcessedAt.After(after) {
			total += d.Amount
		}
	}
	return total, nil
}

func (f *fakeDeposits) stored(depositNo string) *model.Deposit {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.deposits[depositNo]
	return &cp
}

// ---

type fakeWithdrawals struct {
	mu          sync.Mutex
	nextID      int64
	withdrawals map[string]*model.Withdrawal
}

func newFakeWithdrawals(withdrawals ...*model.Withdrawal) *fakeWithdrawals {
	f := &fakeWithdrawals{nextID: 1, withdrawals: make(map[string]*model.Withdrawal)}
	for _, w := range withdrawals {
		cp := *w
		cp.ID = f.nextID
		f.nextID++
		f.withdrawals[cp.WithdrawalNo] = &cp
	}
	return f
}

func (f *fakeWithdrawals) Create(_ context.Context, _ *gorm.DB, withdrawal *model.Withdrawal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	withdrawal.ID = f.nextID
	f.nextID++
	cp := *withdrawal
	f.withdrawals[cp.WithdrawalNo] = &cp
	return nil
}

func (f *fakeWithdrawals) GetByWithdrawalNo(_ context.Context, withdrawalNo string) (*model.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.withdrawals[withdrawalNo]
	if !ok {
		return nil, repository.ErrWithdrawalNotFound
	}
	cp := *w
	return &cp, nil
}

func (f *fakeWithdrawals) UpdateStatus(_ context.Context, _ *gorm.DB, withdrawalNo string, fromStatus, toStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.withdrawals[withdrawalNo]
	if !ok {
		return repository.ErrWithdrawalNotFound
	}
	if w.Status != fromStatus || !model.WithdrawalCanTransitionTo(fromStatus, toStatus) {
		return repository.ErrWithdrawalStatusInvalid
	}
	w.Status = toStatus
	now := time.Now()
	w.ProcessedAt = &now
	return nil
}

func (f *fakeWithdrawals) stored(withdrawalNo string) *model.Withdrawal {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.withdrawals[withdrawalNo]
	return &cp
}

func (f *fakeWithdrawals) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.withdrawals)
}

// ---

type fakeLedger struct {
	mu      sync.Mutex
	entries []*model.LedgerEntry
}

func (f *fakeLedger) Create(_ context.Context, _ *gorm.DB, entry *model.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *entry
	cp.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, &cp)
	return nil
}

func (f *fakeLedger) all() []*model.LedgerEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.LedgerEntry, len(f.entries))
	copy(out, f.entries)
	return out
}

func (f *fakeLedger) last() *model.LedgerEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return nil
	}
	cp := *f.entries[len(f.entries)-1]
	return &cp
}

// ---

type fakeHistory struct {
	mu        sync.Mutex
	byRequest map[string]*model.TaskHistory
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{byRequest: make(map[string]*model.TaskHistory)}
}

func (f *fakeHistory) Create(_ context.Context, _ *gorm.DB, history *model.TaskHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *history
	cp.ID = int64(len(f.byRequest) + 1)
	f.byRequest[cp.RequestNo] = &cp
	return nil
}

func (f *fakeHistory) GetByRequestNo(_ context.Context, requestNo string) (*model.TaskHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.byRequest[requestNo]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

// ---

type fakeOutbox struct {
	mu       sync.Mutex
	messages []*model.OutboxMessage
}

func (f *fakeOutbox) Create(_ context.Context, _ *gorm.DB, msg *model.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *msg
	f.messages = append(f.messages, &cp)
	return nil
}

func (f *fakeOutbox) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// ---

type fakeProvCache struct {
	mu    sync.Mutex
	items map[int64]*model.ProvisionedTask
}

func newFakeProvCache() *fakeProvCache {
	return &fakeProvCache{items: make(map[int64]*model.ProvisionedTask)}
}

func (f *fakeProvCache) Put(_ context.Context, userID int64, task *model.ProvisionedTask, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *task
	f.items[userID] = &cp
	return nil
}

func (f *fakeProvCache) Get(_ context.Context, userID int64) (*model.ProvisionedTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.items[userID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (f *fakeProvCache) Delete(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, userID)
	return nil
}

// ---------------------------------------------------------------------------
// 测试装配
// ---------------------------------------------------------------------------

type testFixture struct {
	svc         *ReconcileService
	users       *fakeUsers
	tasks       *fakeTasks
	campaigns   *fakeCampaigns
	deposits    *fakeDeposits
	withdrawals *fakeWithdrawals
	ledger      *fakeLedger
	history     *fakeHistory
	outbox      *fakeOutbox
	provCache   *fakeProvCache
	now         time.Time
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Kafka.Topic.Settlement = "test.settlement"
	cfg.Kafka.Topic.Deposit = "test.deposit"
	cfg.Kafka.Topic.Withdrawal = "test.withdrawal"
	cfg.Business.NewUserTargetBonus = 1000
	cfg.Business.NewUserCommissionSpread = 5
	cfg.Business.TrialTaskCap = 30
	cfg.Business.CampaignSetSize = 30
	cfg.Business.VIPBalanceThreshold = 1000000
	cfg.Business.VIPTaskQuota = 92
	cfg.Business.VIPSetBonusTasks = 60
	cfg.Business.StandardTaskQuota = 90
	cfg.Business.HoldAbandonDays = 30
	cfg.Business.ProvisionTTLMinutes = 30
	return cfg
}

func newFixture(users ...*model.User) *testFixture {
	f := &testFixture{
		users:       newFakeUsers(users...),
		tasks:       newFakeTasks(),
		campaigns:   &fakeCampaigns{},
		deposits:    newFakeDeposits(),
		withdrawals: newFakeWithdrawals(),
		ledger:      &fakeLedger{},
		history:     newFakeHistory(),
		outbox:      &fakeOutbox{},
		provCache:   newFakeProvCache(),
		now:         time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	f.svc = &ReconcileService{
		db:          fakeTx{},
		cfg:         testConfig(),
		users:       f.users,
		tasks:       f.tasks,
		campaigns:   f.campaigns,
		deposits:    f.deposits,
		withdrawals: f.withdrawals,
		ledger:      f.ledger,
		history:     f.history,
		outbox:      f.outbox,
		provCache:   f.provCache,
		lockFor: func(int64, string) userLocker {
			return fakeLock{}
		},
		now: func() time.Time { return f.now },
		rng: rand.New(rand.NewSource(1)),
	}
	return f
}

// 常用账户模板

func activeUser(id int64, balance float64) *model.User {
	return &model.User{
		ID:             id,
		MembershipID:   fmt.Sprintf("M%03d", id),
		AccountBalance: balance,
		CampaignSet:    "[1]",
		DepositCount:   1,
		AllowTask:      true,
		CampaignStatus: model.CampaignStatusActive,
	}
}

func bizCode(t testingT, err error) int {
	t.Helper()
	bizErr, ok := AsError(err)
	if !ok {
		t.Fatalf("期望业务错误，实际: %v", err)
	}
	return bizErr.Code
}

// testingT 抽象 *testing.T，方便辅助函数复用
type testingT interface {
	Helper()
	Fatalf(format string, args ...interface{})
}
