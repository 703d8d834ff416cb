package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

const (
	CodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	CodeInvalidQueue  ErrorCode = "INVALID_QUEUE"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeSCMUnavail    ErrorCode = "SCM_UNAVAILABLE"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidConfigError 创建配置错误
func NewInvalidConfigError(message string, cause error) *AppError {
	return &AppError{Code: CodeInvalidConfig, Message: message, Err: cause}
}

// NewInvalidQueueError 创建任务队列校验错误
func NewInvalidQueueError(message string) *AppError {
	return &AppError{Code: CodeInvalidQueue, Message: message}
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

// NewSCMUnavailableError 创建源码管理不可用错误
func NewSCMUnavailableError(message string, cause error) *AppError {
	return &AppError{Code: CodeSCMUnavail, Message: message, Err: cause}
}

// IsNotFound 判断是否为未找到错误
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNotFound
	}
	return false
}
