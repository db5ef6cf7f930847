// Package apperr 结算链路的错误分类
//
// 服务层只返回这里定义的错误（或包装它们），handler 据此映射 HTTP 状态码和错误码。
// 错误消息面向最终用户，不包含处理方内部细节
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("记录不存在")
	ErrForbidden      = errors.New("无权执行该操作")
	ErrInvalidState   = errors.New("当前状态不允许该操作")
	ErrPayeeNotReady  = errors.New("收款方尚未完成收款设置")
	ErrSignature      = errors.New("回调签名校验失败")
	ErrNotAccessible  = errors.New("记录不存在或无权访问")
	ErrMisconfigured  = errors.New("服务配置错误")
	ErrInvalidRequest = errors.New("请求参数错误")
)

// ProcessorError 外部支付处理方调用失败
//
// Message 为可安全展示给用户的文案；Err 保留原始错误用于日志
type ProcessorError struct {
	Message    string
	StatusCode int
	Err        error
}

func (e *ProcessorError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "支付创建失败，请稍后重试"
}

func (e *ProcessorError) Unwrap() error {
	return e.Err
}

// NewProcessorError 包装处理方错误，safeMessage 为空时使用默认文案
func NewProcessorError(safeMessage string, err error) *ProcessorError {
	return &ProcessorError{Message: safeMessage, Err: err}
}

// PersistenceWarning 外部扣款已成功、本地落库失败
//
// 非致命：只记录日志，不让用户看到失败
type PersistenceWarning struct {
	Op  string
	Err error
}

func (w *PersistenceWarning) Error() string {
	return fmt.Sprintf("结算记录落库失败(%s): %v", w.Op, w.Err)
}

func (w *PersistenceWarning) Unwrap() error {
	return w.Err
}

// Wrap 在哨兵错误后追加面向用户的说明
func Wrap(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
