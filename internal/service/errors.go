package service

import (
	"errors"

	"taskledger/pkg/response"
)

// ============================================================================
// 业务错误
// ============================================================================
//
// 对账引擎的失败分四类，全部是调用方可自助恢复的预期结果：
//   Validation        入参形状不对
//   NotFound          用户/任务/单据不存在
//   PreconditionFailed 状态机前置条件不满足（负余额、配额未达标、密码不符等）
//   AlreadyProcessed  终态单据重复提交
// 基础设施故障（存储不可用）不走这里，按普通 error 上抛并记日志。
// ============================================================================

type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindNotFound
	KindPreconditionFailed
	KindAlreadyProcessed
)

// Error 结构化业务错误，Code 对应 pkg/response 的业务错误码，
// Meta 携带补救所需的上下文（如充值差额）
type Error struct {
	Kind    ErrorKind
	Code    int
	Message string
	Meta    map[string]interface{}
}

func (e *Error) Error() string {
	return e.Message
}

// AsError 判断是否为业务错误
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func newValidation(message string) *Error {
	return &Error{Kind: KindValidation, Code: response.CodeParamError, Message: message}
}

func newNotFound(code int, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func newPrecondition(code int, message string) *Error {
	return &Error{Kind: KindPreconditionFailed, Code: code, Message: message}
}

func newPreconditionMeta(code int, message string, meta map[string]interface{}) *Error {
	return &Error{Kind: KindPreconditionFailed, Code: code, Message: message, Meta: meta}
}

func newAlreadyProcessed(message string) *Error {
	return &Error{Kind: KindAlreadyProcessed, Code: response.CodeAlreadyProcessed, Message: message}
}

// errSystemBusy 锁竞争/乐观锁冲突，提示调用方稍后重试
func errSystemBusy() *Error {
	return newPrecondition(response.CodeSystemBusy, "系统繁忙，请稍后重试")
}
