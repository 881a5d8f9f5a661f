package handler

import (
	"taskledger/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"taskledger/internal/service"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	reconcileService := service.NewReconcileService(db, rdb, cfg)
	accountService := service.NewAccountService(db)

	h := NewHandler(reconcileService, accountService)
	admin := NewAdminHandler(reconcileService)

	// 用户端路由，走 JWT 鉴权
	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(cfg))
	{
		tasks := api.Group("/tasks")
		{
			tasks.POST("/provision", h.ProvisionTask)
			tasks.POST("/settle", h.SettleTask)
		}

		api.POST("/deposits", h.SubmitDeposit)

		withdrawals := api.Group("/withdrawals")
		{
			withdrawals.POST("", h.RequestWithdrawal)
			withdrawals.POST("/password", h.SetWithdrawPassword)
		}

		account := api.Group("/account")
		{
			account.GET("/profile", h.GetProfile)
			account.GET("/ledger", h.ListLedger)
			account.GET("/history", h.ListHistory)
			account.GET("/deposits", h.ListDeposits)
			account.GET("/withdrawals", h.ListWithdrawals)
			account.GET("/tasks", h.ListTasks)
		}

		api.GET("/tiers", h.ListTiers)
	}

	// 管理端路由，走静态令牌
	adminAPI := r.Group("/admin/v1")
	adminAPI.Use(AdminTokenMiddleware(cfg))
	{
		adminAPI.POST("/deposits/:deposit_no/approve", admin.ApproveDeposit)
		adminAPI.POST("/withdrawals/:withdrawal_no/process", admin.ProcessWithdrawal)

		users := adminAPI.Group("/users/:membership_id")
		{
			users.POST("/recover", admin.RecoverHold)
			users.POST("/release-hold", admin.ReleaseHold)
			users.POST("/abandon-hold", admin.AbandonHold)
			users.POST("/adjust-balance", admin.AdjustBalance)
			users.POST("/deduct-trial", admin.DeductTrialBalance)
			users.POST("/reset-quota", admin.ResetQuota)
			users.POST("/reset-password", admin.ResetWithdrawPassword)
			users.POST("/campaign-status", admin.SetCampaignStatus)
			users.POST("/tasks", admin.SeedTasks)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
