package service

import (
	"context"
	"errors"
	"fmt"

	"taskledger/internal/commission"
	"taskledger/internal/repository"
	"taskledger/pkg/response"

	"gorm.io/gorm"
)

// AccountService 账户查询服务，只读，不走锁
type AccountService struct {
	users       *repository.UserRepository
	tasks       *repository.TaskRepository
	deposits    *repository.DepositRepository
	withdrawals *repository.WithdrawalRepository
	ledger      *repository.LedgerRepository
	history     *repository.HistoryRepository
}

func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{
		users:       repository.NewUserRepository(db),
		tasks:       repository.NewTaskRepository(db),
		deposits:    repository.NewDepositRepository(db),
		withdrawals: repository.NewWithdrawalRepository(db),
		ledger:      repository.NewLedgerRepository(db),
		history:     repository.NewHistoryRepository(db),
	}
}

// Profile 账户快照
type Profile struct {
	MembershipID       string          `json:"membership_id"`
	AccountBalance     float64         `json:"account_balance"`
	TrialBalance       float64         `json:"trial_balance"`
	TotalEarnings      float64         `json:"total_earnings"`
	CampaignCommission float64         `json:"campaign_commission"`
	WithdrawalBalance  float64         `json:"withdrawal_balance"`
	CampaignsCompleted int             `json:"campaigns_completed"`
	CampaignSet        []int           `json:"campaign_set"`
	DepositCount       int             `json:"deposit_count"`
	HoldAmount         float64         `json:"hold_amount"`
	NegativeCommission float64         `json:"negative_commission"`
	AllowTask          bool            `json:"allow_task"`
	Frozen             bool            `json:"frozen"`
	CampaignStatus     string          `json:"campaign_status"`
	Tier               commission.Tier `json:"tier"`
}

func (s *AccountService) GetProfile(ctx context.Context, userID int64) (*Profile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, newNotFound(response.CodeUserNotFound, "用户不存在")
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	return &Profile{
		MembershipID:       user.MembershipID,
		AccountBalance:     user.AccountBalance,
		TrialBalance:       user.TrialBalance,
		TotalEarnings:      user.TotalEarnings,
		CampaignCommission: user.CampaignCommission,
		WithdrawalBalance:  user.WithdrawalBalance,
		CampaignsCompleted: user.CampaignsCompleted,
		CampaignSet:        user.CampaignSetList(),
		DepositCount:       user.DepositCount,
		HoldAmount:         user.HoldAmount,
		NegativeCommission: user.NegativeCommission,
		AllowTask:          user.AllowTask,
		Frozen:             !user.AllowTask || user.AccountBalance < 0,
		CampaignStatus:     user.CampaignStatus,
		Tier:               commission.TierFor(user.AccountBalance),
	}, nil
}

// PageResult 统一分页结果
type PageResult struct {
	List     interface{} `json:"list"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func (s *AccountService) ListLedger(ctx context.Context, userID int64, page, pageSize int) (*PageResult, error) {
	page, pageSize = normalizePage(page, pageSize)
	list, total, err := s.ledger.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("查询流水失败: %w", err)
	}
	return &PageResult{List: list, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *AccountService) ListHistory(ctx context.Context, userID int64, page, pageSize int) (*PageResult, error) {
	page, pageSize = normalizePage(page, pageSize)
	list, total, err := s.history.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("查询任务记录失败: %w", err)
	}
	return &PageResult{List: list, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *AccountService) ListDeposits(ctx context.Context, userID int64, page, pageSize int) (*PageResult, error) {
	page, pageSize = normalizePage(page, pageSize)
	list, total, err := s.deposits.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("查询充值单失败: %w", err)
	}
	return &PageResult{List: list, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *AccountService) ListWithdrawals(ctx context.Context, userID int64, page, pageSize int) (*PageResult, error) {
	page, pageSize = normalizePage(page, pageSize)
	list, total, err := s.withdrawals.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("查询提现单失败: %w", err)
	}
	return &PageResult{List: list, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *AccountService) ListTasks(ctx context.Context, userID int64, page, pageSize int) (*PageResult, error) {
	page, pageSize = normalizePage(page, pageSize)
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, newNotFound(response.CodeUserNotFound, "用户不存在")
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	list, total, err := s.tasks.ListByMembershipID(ctx, user.MembershipID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("查询任务失败: %w", err)
	}
	return &PageResult{List: list, Total: total, Page: page, PageSize: pageSize}, nil
}

// ListTiers 佣金档位表，前端展示用
func (s *AccountService) ListTiers() []commission.Tier {
	return commission.Tiers()
}
