package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// 业务错误码
// 1001-1019 前置条件失败（调用方可引导用户补救：充值/联系客服/继续做单）
// 1020-1029 资源不存在
// 1030-1039 终态重复提交
const (
	CodeTaskExpired          = 1001
	CodeNegativeBalance      = 1002
	CodeCampaignInactive     = 1003
	CodeTrialQuotaReached    = 1004
	CodeInsufficientDeposit  = 1005
	CodePasswordNotSet       = 1006
	CodePasswordMismatch     = 1007
	CodeInsufficientBalance  = 1008
	CodeTrialNotWithdrawable = 1009
	CodeQuotaNotMet          = 1010
	CodeNoTaskAvailable      = 1011
	CodeDocumentsNotVerified = 1012
	CodePasswordAlreadySet   = 1013
	CodeHoldNotRecoverable   = 1014
	CodeSystemBusy           = 1019

	CodeUserNotFound       = 1020
	CodeTaskNotFound       = 1021
	CodeDepositNotFound    = 1022
	CodeWithdrawalNotFound = 1023

	CodeAlreadyProcessed = 1030
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

// ErrorWithData 带附加数据的业务错误（如差额提示）
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
