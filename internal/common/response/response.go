package response

import (
	"context"
	"errors"
	"time"

	"color-server/internal/service"

	beego "github.com/beego/beego/v2/server/web"
	beegocontext "github.com/beego/beego/v2/server/web/context"
)

// APIResponse 统一 API 响应结构
// 所有 API 都应该返回这个结构，无论成功还是失败
type APIResponse struct {
	Code      int         `json:"code"`                // 业务错误码：0=成功，非0=失败
	Message   string      `json:"message"`             // 错误消息
	Data      interface{} `json:"data,omitempty"`      // 业务数据（失败时为 null）
	TraceID   string      `json:"trace_id,omitempty"`  // 请求追踪ID
	Timestamp int64       `json:"timestamp,omitempty"` // 响应时间戳（Unix 毫秒）
}

// 错误码定义
const (
	CodeSuccess             = 0    // 成功
	CodeBadRequest          = 1000 // 参数错误
	CodeBusinessError       = 2000 // 业务错误（通用）
	CodeDuplicateInFlight   = 2001 // 重复请求进行中
	CodeConflict            = 2002 // 并发冲突或状态不允许
	CodeRoundClosed         = 2005 // 对局已封盘
	CodeInsufficientBalance = 2007 // 余额不足
	CodeSettlementStalled   = 2010 // 结算重试失败，对局仍被标记
	CodeUnauthorized        = 3000 // 未授权
	CodeInvalidToken        = 3001 // Token 无效
	CodeTokenExpired        = 3002 // Token 过期
	CodeForbidden           = 3009 // 禁止访问
	CodeRateLimitExceeded   = 4000 // 请求频率超限
	CodeNotFound            = 4004 // 资源不存在
	CodeSystemError         = 5000 // 系统错误
	CodeServiceUnavailable  = 5003 // 依赖不可用
)

// ErrorMessages 错误消息映射
var ErrorMessages = map[int]string{
	CodeSuccess:             "success",
	CodeBadRequest:          "参数错误",
	CodeBusinessError:       "业务处理失败",
	CodeDuplicateInFlight:   "重复请求进行中，请稍后重试",
	CodeConflict:            "当前状态不允许此操作",
	CodeRoundClosed:         "本局已封盘",
	CodeInsufficientBalance: "余额不足",
	CodeSettlementStalled:   "结算重试失败",
	CodeUnauthorized:        "未授权",
	CodeInvalidToken:        "Token无效",
	CodeTokenExpired:        "Token已过期",
	CodeForbidden:           "禁止访问",
	CodeRateLimitExceeded:   "请求频率超限，请稍后重试",
	CodeNotFound:            "资源不存在",
	CodeSystemError:         "系统繁忙，请稍后重试",
	CodeServiceUnavailable:  "服务暂不可用",
}

// Success 成功响应
//
// 示例：
//
//	response.Success(c, map[string]interface{}{
//	    "bet_id":  "CG20260101100000000142A7F3",
//	    "balance": "980.00",
//	}, traceID)
func Success(c *beego.Controller, data interface{}, traceID string) {
	c.Data["json"] = APIResponse{
		Code:      CodeSuccess,
		Message:   ErrorMessages[CodeSuccess],
		Data:      data,
		TraceID:   traceID,
		Timestamp: time.Now().UnixMilli(),
	}
	c.ServeJSON()
}

// Error 错误响应（使用预定义的错误消息）
func Error(c *beego.Controller, httpStatus int, code int, traceID string) {
	ErrorWithMessage(c, httpStatus, code, getErrorMessage(code), traceID)
}

// ErrorWithMessage 错误响应（使用自定义错误消息）
func ErrorWithMessage(c *beego.Controller, httpStatus int, code int, message string, traceID string) {
	c.Ctx.Output.SetStatus(httpStatus)
	c.Data["json"] = APIResponse{
		Code:      code,
		Message:   message,
		Data:      nil,
		TraceID:   traceID,
		Timestamp: time.Now().UnixMilli(),
	}
	c.ServeJSON()
}

// BadRequest 参数错误响应（HTTP 400）
func BadRequest(c *beego.Controller, message string, traceID string) {
	ErrorWithMessage(c, 400, CodeBadRequest, message, traceID)
}

// NotFound 资源不存在响应（HTTP 404）
func NotFound(c *beego.Controller, message string, traceID string) {
	ErrorWithMessage(c, 404, CodeNotFound, message, traceID)
}

// InternalError 系统错误响应（HTTP 500）
func InternalError(c *beego.Controller, traceID string) {
	Error(c, 500, CodeSystemError, traceID)
}

// Accepted 重复请求进行中（HTTP 202），建议客户端 1 秒后重试
func Accepted(c *beego.Controller, message string, traceID string) {
	c.Ctx.Output.SetStatus(202)
	c.Ctx.Output.Header("Retry-After", "1")
	c.Data["json"] = APIResponse{
		Code:      CodeDuplicateInFlight,
		Message:   message,
		Data:      nil,
		TraceID:   traceID,
		Timestamp: time.Now().UnixMilli(),
	}
	c.ServeJSON()
}

// Abort 过滤器中直接输出错误并终止后续处理
func Abort(ctx *beegocontext.Context, httpStatus int, code int, message string, traceID string) {
	if message == "" {
		message = getErrorMessage(code)
	}
	ctx.Output.SetStatus(httpStatus)
	_ = ctx.Output.JSON(APIResponse{
		Code:      code,
		Message:   message,
		Data:      nil,
		TraceID:   traceID,
		Timestamp: time.Now().UnixMilli(),
	}, false, false)
}

// Status 服务层错误映射为 HTTP 状态码与业务码
func Status(err error) (httpStatus int, code int) {
	switch {
	case err == nil, errors.Is(err, service.ErrAlreadySettled):
		return 200, CodeSuccess
	case errors.Is(err, service.ErrValidation):
		return 400, CodeBadRequest
	case errors.Is(err, service.ErrInsufficientFunds):
		return 400, CodeInsufficientBalance
	case errors.Is(err, service.ErrRoundClosed):
		return 409, CodeRoundClosed
	case errors.Is(err, service.ErrSettlementStalled):
		return 409, CodeSettlementStalled
	case errors.Is(err, service.ErrConflict):
		return 409, CodeConflict
	case errors.Is(err, service.ErrDuplicateInFlight):
		return 202, CodeDuplicateInFlight
	case errors.Is(err, service.ErrRoundNotFound):
		return 404, CodeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return 503, CodeServiceUnavailable
	default:
		return 500, CodeSystemError
	}
}

// FromError 按服务层错误输出响应；参数类错误透出原因，系统错误只返回通用消息
func FromError(c *beego.Controller, err error, traceID string) {
	status, code := Status(err)
	switch status {
	case 200:
		Success(c, nil, traceID)
	case 202:
		Accepted(c, getErrorMessage(code), traceID)
	case 400, 404, 409:
		ErrorWithMessage(c, status, code, err.Error(), traceID)
	default:
		Error(c, status, code, traceID)
	}
}

// getErrorMessage 获取错误消息，如果未定义则返回通用消息
func getErrorMessage(code int) string {
	if msg, ok := ErrorMessages[code]; ok {
		return msg
	}
	return "未知错误"
}
