package service

import (
	"context"
	"database/sql"
	"math/rand"
	"sync"
	"time"

	"taskledger/internal/config"
	"taskledger/internal/infrastructure/cache"
	"taskledger/internal/infrastructure/lock"
	"taskledger/internal/model"
	"taskledger/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// ============================================================================
// 对账引擎
// ============================================================================
//
// 用户余额、任务计数、冻结状态的所有变更都收口在这一个服务里：
// 派发（Provision）、结算（Settle）、充值审批（ApproveDeposit）、
// 自动核验（RecoverFromDeposits）、提现（RequestWithdrawal）以及
// 管理员修正接口。每个写操作都遵守同一套路：
//
//   幂等校验 -> 按用户加分布式锁 -> 锁内重读 -> 前置条件全部通过
//   -> 一个事务内完成全部写入（含流水和 outbox 事件）
//
// 前置条件失败时不允许有任何半程写入。
// ============================================================================

// txRunner 事务入口，*gorm.DB 天然满足；测试用桩直接回调 fc(nil)
type txRunner interface {
	Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

type userLocker interface {
	Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error
	Unlock(ctx context.Context) error
}

// 以下最小接口按引擎实际用到的方法裁剪，由 repository 的具体实现满足，
// 单测用内存桩替换
type UserStore interface {
	GetByID(ctx context.Context, userID int64) (*model.User, error)
	GetByMembershipID(ctx context.Context, membershipID string) (*model.User, error)
	UpdateReconciled(ctx context.Context, tx *gorm.DB, user *model.User) error
}

type TaskStore interface {
	Create(ctx context.Context, tx *gorm.DB, task *model.Task) error
	GetByID(ctx context.Context, taskID int64) (*model.Task, error)
	GetPendingGoldenEgg(ctx context.Context, membershipID string) (*model.Task, error)
	GetPendingByNumber(ctx context.Context, membershipID string, taskNumber int) (*model.Task, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, taskID int64, fromStatus, toStatus string) error
	ListPoolCampaignIDs(ctx context.Context, membershipID string) ([]int64, error)
}

type CampaignStore interface {
	ListActive(ctx context.Context) ([]*model.Campaign, error)
}

type DepositStore interface {
	Create(ctx context.Context, tx *gorm.DB, deposit *model.Deposit) error
	GetByDepositNo(ctx context.Context, depositNo string) (*model.Deposit, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, depositNo string, fromStatus, toStatus, notes string) error
	SumApprovedAfter(ctx context.Context, membershipID string, after time.Time) (float64, error)
}

type WithdrawalStore interface {
	Create(ctx context.Context, tx *gorm.DB, withdrawal *model.Withdrawal) error
	GetByWithdrawalNo(ctx context.Context, withdrawalNo string) (*model.Withdrawal, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, withdrawalNo string, fromStatus, toStatus string) error
}

type LedgerStore interface {
	Create(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error
}

type HistoryStore interface {
	Create(ctx context.Context, tx *gorm.DB, history *model.TaskHistory) error
	GetByRequestNo(ctx context.Context, requestNo string) (*model.TaskHistory, error)
}

type OutboxStore interface {
	Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error
}

type ProvisionStore interface {
	Put(ctx context.Context, userID int64, task *model.ProvisionedTask, ttl time.Duration) error
	Get(ctx context.Context, userID int64) (*model.ProvisionedTask, error)
	Delete(ctx context.Context, userID int64) error
}

type ReconcileService struct {
	db          txRunner
	cfg         *config.Config
	users       UserStore
	tasks       TaskStore
	campaigns   CampaignStore
	deposits    DepositStore
	withdrawals WithdrawalStore
	ledger      LedgerStore
	history     HistoryStore
	outbox      OutboxStore
	provCache   ProvisionStore

	lockFor func(userID int64, requestID string) userLocker
	now     func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewReconcileService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *ReconcileService {
	return &ReconcileService{
		db:          db,
		cfg:         cfg,
		users:       repository.NewUserRepository(db),
		tasks:       repository.NewTaskRepository(db),
		campaigns:   repository.NewCampaignRepository(db),
		deposits:    repository.NewDepositRepository(db),
		withdrawals: repository.NewWithdrawalRepository(db),
		ledger:      repository.NewLedgerRepository(db),
		history:     repository.NewHistoryRepository(db),
		outbox:      repository.NewOutboxRepository(db),
		provCache:   cache.NewProvisionCache(redisClient),
		lockFor: func(userID int64, requestID string) userLocker {
			return lock.NewUserLock(redisClient, userID, requestID)
		},
		now: time.Now,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *ReconcileService) randIntn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

// campaignSetSize 缺省 30，防止配置缺失时除零
func (s *ReconcileService) campaignSetSize() int {
	if s.cfg.Business.CampaignSetSize > 0 {
		return s.cfg.Business.CampaignSetSize
	}
	return 30
}

func (s *ReconcileService) trialTaskCap() int {
	if s.cfg.Business.TrialTaskCap > 0 {
		return s.cfg.Business.TrialTaskCap
	}
	return 30
}

func (s *ReconcileService) provisionTTL() time.Duration {
	if s.cfg.Business.ProvisionTTLMinutes > 0 {
		return time.Duration(s.cfg.Business.ProvisionTTLMinutes) * time.Minute
	}
	return 30 * time.Minute
}

// appendCampaignSets 把 (oldCount, newCount] 区间内跨过的每个 30 单整数倍
// 追加为新的 set 序号；乱序补单一次跨多档时要全部补齐
func appendCampaignSets(user *model.User, oldCount, newCount, setSize int) {
	set := user.CampaignSetList()
	for n := (oldCount/setSize + 1) * setSize; n <= newCount; n += setSize {
		set = append(set, set[len(set)-1]+1)
	}
	user.SetCampaignSet(set)
}
