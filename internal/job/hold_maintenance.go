package job

import (
	"context"
	"log"
	"time"

	"taskledger/internal/config"
	"taskledger/internal/repository"
	"taskledger/internal/service"

	"gorm.io/gorm"
)

// HoldMaintenanceJob 冻结账户维护任务
// 周期性扫描负余额冻结中的用户：
// 1. 尝试充值回收（审批通道漏掉解冻时由这里补偿）
// 2. 冻结超过窗口期的做核销，退出扫描队列
type HoldMaintenanceJob struct {
	userRepo         *repository.UserRepository
	reconcileService *service.ReconcileService
	cfg              *config.Config
	stopCh           chan struct{}
	interval         time.Duration
	batchSize        int
}

func NewHoldMaintenanceJob(db *gorm.DB, reconcileService *service.ReconcileService, cfg *config.Config) *HoldMaintenanceJob {
	return &HoldMaintenanceJob{
		userRepo:         repository.NewUserRepository(db),
		reconcileService: reconcileService,
		cfg:              cfg,
		stopCh:           make(chan struct{}),
		interval:         5 * time.Minute,
		batchSize:        100,
	}
}

func (j *HoldMaintenanceJob) Start(ctx context.Context) {
	log.Println("[HoldMaintenanceJob] 冻结维护任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[HoldMaintenanceJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[HoldMaintenanceJob] 任务停止")
			return
		case <-ticker.C:
			j.sweepNegativeHolds(ctx)
		}
	}
}

func (j *HoldMaintenanceJob) Stop() {
	close(j.stopCh)
}

func (j *HoldMaintenanceJob) sweepNegativeHolds(ctx context.Context) {
	users, err := j.userRepo.ListNegativeHoldUsers(ctx, j.batchSize)
	if err != nil {
		log.Printf("[HoldMaintenanceJob] 查询冻结用户失败: %v", err)
		return
	}

	if len(users) == 0 {
		return
	}

	log.Printf("[HoldMaintenanceJob] 发现 %d 个冻结用户", len(users))

	for _, user := range users {
		// 先试回收，充值已覆盖的直接解冻
		result, err := j.reconcileService.RecoverFromDeposits(ctx, user.MembershipID)
		if err == nil && result.Recovered {
			log.Printf("[HoldMaintenanceJob] 自动回收成功: membershipID=%s", user.MembershipID)
			continue
		}
		if bizErr, ok := service.AsError(err); !ok || bizErr.Kind != service.KindPreconditionFailed {
			if err != nil {
				log.Printf("[HoldMaintenanceJob] 回收失败: membershipID=%s, err=%v", user.MembershipID, err)
				continue
			}
		}

		// 回收不了再看是否超期核销
		abandoned, err := j.reconcileService.AbandonExpiredHold(ctx, user.MembershipID)
		if err != nil {
			log.Printf("[HoldMaintenanceJob] 核销失败: membershipID=%s, err=%v", user.MembershipID, err)
			continue
		}
		if abandoned {
			log.Printf("[HoldMaintenanceJob] 冻结超期核销: membershipID=%s", user.MembershipID)
		}
	}
}
