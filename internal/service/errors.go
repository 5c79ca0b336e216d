package service

import (
	"errors"
	"fmt"
)

// 错误分类，调用方通过 errors.Is 判断
var (
	ErrNotFound     = errors.New("资源不存在")
	ErrForbidden    = errors.New("无权操作")
	ErrInvalidState = errors.New("状态不允许该操作")
	ErrClosedPeriod = errors.New("所属月份已关账")
	ErrValidation   = errors.New("参数校验失败")
)

func notFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func forbidden(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func invalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

func closedPeriod(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrClosedPeriod, fmt.Sprintf(format, args...))
}

func validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
