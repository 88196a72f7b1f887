package finsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mengeric/finsync/logging"
)

// ErrShutdownSignal 上下文因系统信号结束，可通过 context.Cause 取得。
var ErrShutdownSignal = errors.New("finsync: shutdown signal")

// WithSignalCancel 返回收到关闭信号（默认 SIGINT、SIGTERM）时取消的上下文。
// 收到的信号会记录日志，并作为取消原因：context.Cause(ctx) 包裹 ErrShutdownSignal。
// stop 释放信号监听，通常在退出时 defer 调用。
func WithSignalCancel(parent context.Context, signals ...os.Signal) (ctx context.Context, stop context.CancelFunc) {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	ctx, cancel := context.WithCancelCause(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			logging.L().Info(ctx, "shutdown signal received", "signal", sig.String())
			cancel(fmt.Errorf("%w: %s", ErrShutdownSignal, sig))
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}
