package apperr

import (
	"errors"
	"fmt"
)

// 错误分类
var (
	ErrValidation = errors.New("参数校验失败")
	ErrTransport  = errors.New("网关调用失败")
	ErrData       = errors.New("数据格式错误")
	ErrModel      = errors.New("模型错误")
)

// Validation 构造校验错误
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Transport 包装网关错误
func Transport(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransport, op, err)
}

// Data 构造数据错误
func Data(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrData, fmt.Sprintf(format, args...))
}

// Model 构造模型错误
func Model(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrModel, fmt.Sprintf(format, args...))
}

// IsValidation 是否为校验错误
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
