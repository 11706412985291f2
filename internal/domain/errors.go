// Package domain 定义库存账本与采购相关的业务领域模型和核心业务规则。
package domain

import (
	"errors"
	"fmt"
)

// ErrorKind 表示业务错误的分类，调用方根据分类决定如何处理。
type ErrorKind string

const (
	// KindValidation 入参错误，调用方修正请求后重试
	KindValidation ErrorKind = "validation"
	// KindConflict 业务规则冲突（负库存、状态机非法流转、超量收货等）
	KindConflict ErrorKind = "conflict"
	// KindForbidden 操作者无权限或跨租户访问
	KindForbidden ErrorKind = "forbidden"
	// KindNotFound 资源不存在，或属于其他组织（不泄露存在性）
	KindNotFound ErrorKind = "not_found"
	// KindTransient 存储层串行化冲突等可重试错误，调用方应携带原幂等键重试
	KindTransient ErrorKind = "transient"
)

// Error 携带分类信息的业务错误
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap 支持 errors.Is/As 链式判断
func (e *Error) Unwrap() error {
	return e.cause
}

// NewError 创建指定分类的业务错误
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf 创建带格式化消息的业务错误
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError 包装底层错误并标记分类
func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf 返回错误的业务分类；非业务错误一律视为内部错误（空分类）。
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind 判断错误是否属于指定分类
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
