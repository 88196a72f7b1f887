package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// ErrTimeout 单项调用超过时限。返回的错误同时匹配 context.DeadlineExceeded。
var ErrTimeout = errors.New("call timed out")

type timeoutError struct{ after time.Duration }

func (e *timeoutError) Error() string { return fmt.Sprintf("call timed out after %s", e.after) }

func (e *timeoutError) Is(target error) bool {
	return target == ErrTimeout || target == context.DeadlineExceeded
}

// PanicError 被恢复的 panic。
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// CallWithTimeout 在独立协程中执行 fn，并为其派生带截止时间的上下文。
// 功能：保护协调循环不被单个卡死的调用阻塞。
// 参数：
// - ctx：父上下文，取消时立即返回 ctx.Err()；
// - timeout：时限，<=0 表示不设时限；
// - fn：被保护的调用，应当观察传入的上下文。
// 返回：
// - fn 的结果；超时返回匹配 ErrTimeout 的错误，同时取消派生上下文。
// 说明：超时后 fn 可能仍在运行，其迟到的结果会被丢弃；fn 内的 panic 转为 *PanicError。
func CallWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: &PanicError{Value: p, Stack: debug.Stack()}}
			}
		}()
		v, err := fn(callCtx)
		done <- outcome{v: v, err: err}
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-callCtx.Done():
		// 与完成同时发生时以结果为准
		select {
		case o := <-done:
			return o.v, o.err
		default:
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, &timeoutError{after: timeout}
	}
}
