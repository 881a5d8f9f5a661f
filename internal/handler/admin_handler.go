package handler

import (
	"taskledger/internal/service"
	"taskledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// AdminHandler 管理端接口，供运营后台调用
type AdminHandler struct {
	reconcileService *service.ReconcileService
}

func NewAdminHandler(reconcileService *service.ReconcileService) *AdminHandler {
	return &AdminHandler{reconcileService: reconcileService}
}

type approveDepositRequest struct {
	Approve bool   `json:"approve"`
	Notes   string `json:"notes"`
}

// ApproveDeposit 审批充值单
// POST /admin/v1/deposits/:deposit_no/approve
func (h *AdminHandler) ApproveDeposit(c *gin.Context) {
	var req approveDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	decision, err := h.reconcileService.ApproveDeposit(c.Request.Context(), c.Param("deposit_no"), req.Approve, req.Notes)
	if err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, decision)
}

type processWithdrawalRequest struct {
	Action string `json:"action" binding:"required"` // processing / completed / rejected
}

// ProcessWithdrawal 推进提现单状态
// POST /admin/v1/withdrawals/:withdrawal_no/process
func (h *AdminHandler) ProcessWithdrawal(c *gin.Context) {
	var req processWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	withdrawal, err := h.reconcileService.ProcessWithdrawal(c.Request.Context(), c.Param("withdrawal_no"), req.Action)
	if err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, withdrawal)
}

// RecoverHold 手动触发充值回收核验
// POST /admin/v1/users/:membership_id/recover
func (h *AdminHandler) RecoverHold(c *gin.Context) {
	result, err := h.reconcileService.RecoverFromDeposits(c.Request.Context(), c.Param("membership_id"))
	if err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, result)
}

// ReleaseHold 手动解冻
// POST /admin/v1/users/:membership_id/release-hold
func (h *AdminHandler) ReleaseHold(c *gin.Context) {
	if err := h.reconcileService.ReleaseHold(c.Request.Context(), c.Param("membership_id")); err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, nil)
}

type adjustBalanceRequest struct {
	Amount float64 `json:"amount" binding:"required"`
	Remark string  `json:"remark" binding:"required"`
}

// AdjustBalance 余额修正
// POST /admin/v1/users/:membership_id/adjust-balance
func (h *AdminHandler) AdjustBalance(c *gin.Context) {
	var req adjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.reconcileService.AdjustBalance(c.Request.Context(), c.Param("membership_id"), req.Amount, req.Remark); err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, nil)
}

type deductTrialRequest struct {
	Amount float64 `json:"amount" binding:"required"`
	Remark string  `json:"remark"`
}

// DeductTrialBalance 体验金收回
// POST /admin/v1/users/:membership_id/deduct-trial
func (h *AdminHandler) DeductTrialBalance(c *gin.Context) {
	var req deductTrialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.reconcileService.DeductTrialBalance(c.Request.Context(), c.Param("membership_id"), req.Amount, req.Remark); err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, nil)
}

// ResetQuota 重置任务进度
// POST /admin/v1/users/:membership_id/reset-quota
func (h *AdminHandler) ResetQuota(c *gin.Context) {
	if err := h.reconcileService.ResetQuota(c.Request.Context(), c.Param("membership_id")); err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, nil)
}

type campaignStatusRequest struct {
	Status string `json:"status" binding:"required"` // ACTIVE / INACTIVE
}

// SetCampaignStatus 启停参与资格
// POST /admin/v1/users/:membership_id/campaign-status
func (h *AdminHandler) SetCampaignStatus(c *gin.Context) {
	var req campaignStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.reconcileService.SetCampaignStatus(c.Request.Context(), c.Param("membership_id"), req.Status); err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, nil)
}

// ResetWithdrawPassword 重置提现密码
// POST /admin/v1/users/:membership_id/reset-password
func (h *AdminHandler) ResetWithdrawPassword(c *gin.Context) {
	if err := h.reconcileService.ResetWithdrawPassword(c.Request.Context(), c.Param("membership_id")); err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, nil)
}

type seedTasksRequest struct {
	Items []service.SeedTaskItem `json:"items" binding:"required"`
}

// SeedTasks 批量写入预分配任务计划
// POST /admin/v1/users/:membership_id/tasks
func (h *AdminHandler) SeedTasks(c *gin.Context) {
	var req seedTasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	taskNos, err := h.reconcileService.SeedTasks(c.Request.Context(), c.Param("membership_id"), req.Items)
	if err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, gin.H{"task_nos": taskNos})
}

// AbandonHold 超期冻结核销
// POST /admin/v1/users/:membership_id/abandon-hold
func (h *AdminHandler) AbandonHold(c *gin.Context) {
	abandoned, err := h.reconcileService.AbandonExpiredHold(c.Request.Context(), c.Param("membership_id"))
	if err != nil {
		replyError(c, err)
		return
	}
	response.Success(c, gin.H{"abandoned": abandoned})
}
