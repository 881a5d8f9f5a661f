package job

import (
	"context"
	"log"
	"time"

	"taskledger/internal/config"
	"taskledger/internal/repository"

	"gorm.io/gorm"
)

// WithdrawalCompensateJob 提现在途补偿任务
// 提现推进到 PROCESSING 后依赖管理员人工收尾，偶尔会卡住。
// 这里周期性扫出滞留超过窗口期的在途提现单，核对扣款流水是否存在：
// 流水缺失说明扣款和下单出现了不一致，必须立刻人工介入；
// 流水完好的只做滞留告警，状态推进仍然留给管理员。
type WithdrawalCompensateJob struct {
	withdrawalRepo *repository.WithdrawalRepository
	ledgerRepo     *repository.LedgerRepository
	cfg            *config.Config
	stopCh         chan struct{}
	interval       time.Duration
	stuckAfter     time.Duration
	batchSize      int
}

func NewWithdrawalCompensateJob(db *gorm.DB, cfg *config.Config) *WithdrawalCompensateJob {
	return &WithdrawalCompensateJob{
		withdrawalRepo: repository.NewWithdrawalRepository(db),
		ledgerRepo:     repository.NewLedgerRepository(db),
		cfg:            cfg,
		stopCh:         make(chan struct{}),
		interval:       1 * time.Minute,
		stuckAfter:     30 * time.Minute,
		batchSize:      100,
	}
}

func (j *WithdrawalCompensateJob) Start(ctx context.Context) {
	log.Println("[WithdrawalCompensateJob] 提现补偿任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[WithdrawalCompensateJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[WithdrawalCompensateJob] 任务停止")
			return
		case <-ticker.C:
			j.checkStuckWithdrawals(ctx)
		}
	}
}

func (j *WithdrawalCompensateJob) Stop() {
	close(j.stopCh)
}

func (j *WithdrawalCompensateJob) checkStuckWithdrawals(ctx context.Context) {
	before := time.Now().Add(-j.stuckAfter)
	withdrawals, err := j.withdrawalRepo.ListProcessingBefore(ctx, before, j.batchSize)
	if err != nil {
		log.Printf("[WithdrawalCompensateJob] 查询在途提现失败: %v", err)
		return
	}

	if len(withdrawals) == 0 {
		return
	}

	log.Printf("[WithdrawalCompensateJob] 发现 %d 个滞留提现单", len(withdrawals))

	for _, w := range withdrawals {
		entry, err := j.ledgerRepo.GetByRefNo(ctx, w.WithdrawalNo)
		if err != nil {
			log.Printf("[WithdrawalCompensateJob] 核对流水失败: withdrawalNo=%s, err=%v", w.WithdrawalNo, err)
			continue
		}
		if entry == nil {
			log.Printf("[WithdrawalCompensateJob] 【告警】提现单缺失扣款流水: withdrawalNo=%s, userID=%d, amount=%.2f",
				w.WithdrawalNo, w.UserID, w.Amount)
			continue
		}
		log.Printf("[WithdrawalCompensateJob] 提现单滞留待人工处理: withdrawalNo=%s, userID=%d, amount=%.2f, submittedAt=%v",
			w.WithdrawalNo, w.UserID, w.Amount, w.SubmittedAt)
	}
}
