package response

import (
	"errors"
	"log/slog"
	"net/http"

	"campuspay/internal/apperr"

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
const (
	CodeSettlementNotAccessible = 1001
	CodeStateInvalid            = 1002
	CodePayeeNotReady           = 1003
	CodePaymentFailed           = 1004
	CodeSignatureInvalid        = 1005
	CodeMisconfigured           = 1006
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

// Error 以指定 HTTP 状态码返回错误
func Error(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeParamError, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeServerError, message)
}

// FromError 按错误分类映射 HTTP 状态码和业务码
//
// 消息直接取自 apperr 包装后的文案，未分类的错误统一返回通用文案，不暴露内部细节
func FromError(c *gin.Context, err error) {
	var pe *apperr.ProcessorError
	switch {
	case errors.As(err, &pe):
		status := pe.StatusCode
		if status == 0 {
			status = http.StatusBadGateway
		}
		Error(c, status, CodePaymentFailed, pe.Error())
	case errors.Is(err, apperr.ErrInvalidRequest):
		Error(c, http.StatusBadRequest, CodeParamError, err.Error())
	case errors.Is(err, apperr.ErrNotAccessible):
		Error(c, http.StatusNotFound, CodeSettlementNotAccessible, apperr.ErrNotAccessible.Error())
	case errors.Is(err, apperr.ErrNotFound):
		Error(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, apperr.ErrForbidden):
		Error(c, http.StatusForbidden, CodeForbidden, err.Error())
	case errors.Is(err, apperr.ErrInvalidState):
		Error(c, http.StatusConflict, CodeStateInvalid, err.Error())
	case errors.Is(err, apperr.ErrPayeeNotReady):
		Error(c, http.StatusUnprocessableEntity, CodePayeeNotReady, err.Error())
	case errors.Is(err, apperr.ErrSignature):
		Error(c, http.StatusBadRequest, CodeSignatureInvalid, apperr.ErrSignature.Error())
	case errors.Is(err, apperr.ErrMisconfigured):
		Error(c, http.StatusInternalServerError, CodeMisconfigured, apperr.ErrMisconfigured.Error())
	default:
		slog.Error("[Response] 未分类的内部错误", "path", c.Request.URL.Path, "error", err)
		ServerError(c, "服务器内部错误")
	}
}
