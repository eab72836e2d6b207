package errors

import (
	"context"
	"database/sql"
	stdErrors "errors"

	"github.com/redis/go-redis/v9"
)

// Normalize 将存储/传输层的底层错误规范化为 AppError。
//
// 设计目标：
//   - 对外统一暴露 ErrorCode 体系，避免调用方到处手写对 database/sql、
//     redis 等具体驱动错误的判断；
//   - 保留原始错误作为 cause，方便日志与调试；
//   - 仅处理当前模块实际会产生的错误类型（sqlite 驱动的 sql.ErrNoRows、
//     redis.Nil、上下文超时/取消），其余错误原样返回，交由调用方决定是否 Wrap。
//
// 注意：如果传入的 err 已经是 IError，则原样返回。
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(IError); ok {
		return err
	}

	switch {
	case stdErrors.Is(err, sql.ErrNoRows):
		return WrapError(err, ErrCodeNotFound, "record not found")
	case stdErrors.Is(err, redis.Nil):
		return WrapError(err, ErrCodeNotFound, "key not found")
	case stdErrors.Is(err, sql.ErrTxDone):
		return WrapError(err, ErrCodeInternal, "transaction already closed")
	case stdErrors.Is(err, context.DeadlineExceeded):
		return WrapError(err, ErrCodeTimeout, "operation timed out")
	case stdErrors.Is(err, context.Canceled):
		return WrapError(err, ErrCodeInternal, "operation canceled")
	default:
		return err
	}
}

// WrapDatabaseError normalizes err first, so a recognizable sentinel (a
// missing row, a timed-out context) keeps its specific ErrorCode; anything
// else falls back to ErrCodeDatabase with message as context.
func WrapDatabaseError(message string, err error) IError {
	if err == nil {
		return nil
	}
	normalized := Normalize(err)
	if ierr, ok := normalized.(IError); ok {
		return WrapError(ierr, ierr.Code(), message+": "+ierr.Error())
	}
	return NewDatabaseError(message, err)
}
