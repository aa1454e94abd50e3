package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 通用码与 HTTP 状态对齐，中间件拒绝时直接作为 HTTP 状态返回
const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeTooManyReqs   = 429
	CodeServerError   = 500
	CodeUnavailable   = 503
	CodeBusinessError = 1000
)

// 业务错误码，HTTP 状态始终 200
const (
	CodeInvestmentNotFound     = 1001
	CodeNoEligibleInvestment   = 1002
	CodeAmbiguousInvestment    = 1003
	CodeInvestmentClaimed      = 1004
	CodeStatusInvalid          = 1005
	CodeBalanceNotEnough       = 1006
	CodePendingWithdrawal      = 1007
	CodeWithdrawalAccountUnset = 1008
	CodeEmailRegistered        = 1009
	CodeUserBlocked            = 1010
	CodeRunAlreadyProcessed    = 1011
	CodeConcurrentUpdate       = 1012
)

// Response 统一返回体
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func write(c *gin.Context, code int, message string, data any) {
	c.JSON(http.StatusOK, Response{Code: code, Message: message, Data: data})
}

func Success(c *gin.Context, data any) {
	write(c, CodeSuccess, "success", data)
}

func Error(c *gin.Context, code int, message string) {
	write(c, code, message, nil)
}

// Abort 中间件里拒绝请求，后续 handler 不再执行
func Abort(c *gin.Context, httpStatus, code int, message string) {
	c.AbortWithStatusJSON(httpStatus, Response{Code: code, Message: message})
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
