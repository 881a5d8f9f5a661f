package handler

import (
	"log"
	"strconv"

	"taskledger/internal/service"
	"taskledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 用户端接口
type Handler struct {
	reconcileService *service.ReconcileService
	accountService   *service.AccountService
}

func NewHandler(reconcileService *service.ReconcileService, accountService *service.AccountService) *Handler {
	return &Handler{
		reconcileService: reconcileService,
		accountService:   accountService,
	}
}

// replyError 统一错误出口：业务错误按错误码返回，基础设施错误收敛为 500
func replyError(c *gin.Context, err error) {
	if bizErr, ok := service.AsError(err); ok {
		if len(bizErr.Meta) > 0 {
			response.ErrorWithData(c, bizErr.Code, bizErr.Message, bizErr.Meta)
			return
		}
		response.Error(c, bizErr.Code, bizErr.Message)
		return
	}
	log.Printf("[Handler] 内部错误: %v", err)
	response.ServerError(c, "服务器内部错误")
}

func currentUserID(c *gin.Context) int64 {
	return c.GetInt64("userID")
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

// ProvisionTask 领取下一个任务
// POST /api/v1/tasks/provision
func (h *Handler) ProvisionTask(c *gin.Context) {
	task, err := h.reconcileService.Provision(c.Request.Context(), currentUserID(c))
	if err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, task)
}

// SettleTask 提交任务结算
// POST /api/v1/tasks/settle
func (h *Handler) SettleTask(c *gin.Context) {
	var req service.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	req.UserID = currentUserID(c)

	result, err := h.reconcileService.Settle(c.Request.Context(), &req)
	if err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, result)
}

type submitDepositRequest struct {
	Amount float64 `json:"amount" binding:"required"`
}

// SubmitDeposit 提交充值单
// POST /api/v1/deposits
func (h *Handler) SubmitDeposit(c *gin.Context) {
	var req submitDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	deposit, err := h.reconcileService.SubmitDeposit(c.Request.Context(), currentUserID(c), req.Amount)
	if err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, deposit)
}

type setPasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

// SetWithdrawPassword 设置提现密码（只允许设置一次）
// POST /api/v1/withdrawals/password
func (h *Handler) SetWithdrawPassword(c *gin.Context) {
	var req setPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.reconcileService.SetWithdrawPassword(c.Request.Context(), currentUserID(c), req.Password); err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, nil)
}

// RequestWithdrawal 提现申请
// POST /api/v1/withdrawals
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var req service.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	req.UserID = currentUserID(c)

	result, err := h.reconcileService.RequestWithdrawal(c.Request.Context(), &req)
	if err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, result)
}

// GetProfile 账户快照
// GET /api/v1/account/profile
func (h *Handler) GetProfile(c *gin.Context) {
	profile, err := h.accountService.GetProfile(c.Request.Context(), currentUserID(c))
	if err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, profile)
}

// ListLedger 余额流水
// GET /api/v1/account/ledger
func (h *Handler) ListLedger(c *gin.Context) {
	page, pageSize := pageParams(c)
	result, err := h.accountService.ListLedger(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, result)
}

// ListHistory 任务完成记录
// GET /api/v1/account/history
func (h *Handler) ListHistory(c *gin.Context) {
	page, pageSize := pageParams(c)
	result, err := h.accountService.ListHistory(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, result)
}

// ListDeposits 充值记录
// GET /api/v1/account/deposits
func (h *Handler) ListDeposits(c *gin.Context) {
	page, pageSize := pageParams(c)
	result, err := h.accountService.ListDeposits(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, result)
}

// ListWithdrawals 提现记录
// GET /api/v1/account/withdrawals
func (h *Handler) ListWithdrawals(c *gin.Context) {
	page, pageSize := pageParams(c)
	result, err := h.accountService.ListWithdrawals(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, result)
}

// ListTasks 任务列表
// GET /api/v1/account/tasks
func (h *Handler) ListTasks(c *gin.Context) {
	page, pageSize := pageParams(c)
	result, err := h.accountService.ListTasks(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, result)
}

// ListTiers 佣金档位表
// GET /api/v1/tiers
func (h *Handler) ListTiers(c *gin.Context) {
	response.Success(c, h.accountService.ListTiers())
}
