package response

import (
	"net/http"

	"entitlement_ledger/pkg/apperr"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`    // 业务码
	Message string      `json:"message"` // 提示信息
	Data    interface{} `json:"data"`    // 数据
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, httpCode int, errCode int, msg string) {
	c.JSON(httpCode, Response{
		Code:    errCode,
		Message: msg,
		Data:    nil,
	})
}

// Fail 业务失败响应 (HTTP 200, 业务码非 0)
func Fail(c *gin.Context, errCode int, msg string) {
	c.JSON(http.StatusOK, Response{
		Code:    errCode,
		Message: msg,
		Data:    nil,
	})
}

// FromError 按错误分类输出响应，bizCode 为 0 时使用分类默认业务码
func FromError(c *gin.Context, err error, bizCode int) {
	status, code := StatusOf(err)
	if bizCode != 0 {
		code = bizCode
	}
	msg := apperr.MessageOf(err)
	if status >= http.StatusInternalServerError {
		// 不向调用方暴露底层存储细节
		if apperr.KindOf(err) == apperr.KindStorage {
			msg = "storage unavailable, please retry"
		}
	}
	Error(c, status, code, msg)
}

// StatusOf 错误分类到 HTTP 状态码、默认业务码的映射
func StatusOf(err error) (int, int) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest, ErrInvalidParam
	case apperr.KindNotFound:
		return http.StatusNotFound, ErrNotFound
	case apperr.KindConflict:
		return http.StatusConflict, ErrConflict
	case apperr.KindAuthorization:
		return http.StatusForbidden, ErrNoPermission
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests, ErrTooManyRequests
	case apperr.KindUpstream:
		return http.StatusBadGateway, ErrGateway
	default:
		return http.StatusServiceUnavailable, ErrStorage
	}
}
