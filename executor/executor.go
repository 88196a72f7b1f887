// Package executor 在独立协程中运行任务，并把结果落定到任务登记表。
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mengeric/finsync/logging"
	"github.com/mengeric/finsync/task"
	"github.com/mengeric/finsync/tracker"
)

// Job 任务体。ctx 在取消时关闭；返回值作为任务结果。
type Job func(ctx context.Context, taskID string) (any, error)

// Option 执行器可选项。
type Option func(*Executor)

// WithMaxConcurrent 限制同时运行的任务数，<=0 表示不限制。
func WithMaxConcurrent(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.sem = make(chan struct{}, n)
		}
	}
}

// WithTracker 使用外部构造的句柄跟踪器。
func WithTracker(t *tracker.Manager) Option { return func(e *Executor) { e.trk = t } }

// WithBaseContext 所有任务上下文的父上下文。
func WithBaseContext(ctx context.Context) Option { return func(e *Executor) { e.base = ctx } }

// Executor 可取消的任务执行器。
// 功能：每个任务一个协程；成功 -> COMPLETED，响应取消 -> CANCELLED，错误或 panic -> FAILED。
// 任务内的错误与 panic 都不会传出执行器。
type Executor struct {
	reg  *task.Registry
	trk  *tracker.Manager
	sem  chan struct{}
	base context.Context

	mu     sync.Mutex // 保护 closed 与 wg.Add
	closed bool
	wg     sync.WaitGroup
}

// New 构造执行器，并作为取消器挂到登记表上。
func New(reg *task.Registry, opts ...Option) *Executor {
	e := &Executor{reg: reg, base: context.Background()}
	for _, fn := range opts {
		fn(e)
	}
	if e.trk == nil {
		e.trk = tracker.NewManager()
	}
	reg.AttachCanceller(e)
	return e
}

// Submit 创建任务并立即执行，返回任务ID。
// 执行器已关闭时任务直接落定为 CANCELLED。
func (e *Executor) Submit(taskType string, total int, metadata map[string]any, job Job) string {
	id := e.reg.Create(taskType, total, metadata)
	if !e.Run(id, job) {
		e.reg.MarkCancelled(id)
	}
	return id
}

// Run 为已创建的任务启动执行协程。
// 返回：执行器已关闭、任务不存在、已终态或已在运行时返回 false，且不做任何事。
func (e *Executor) Run(taskID string, job Job) bool {
	rec, ok := e.reg.Get(taskID)
	if !ok || rec.Status != task.StatusPending {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	h, ok := e.trk.Start(e.base, taskID)
	if !ok {
		return false
	}
	e.wg.Add(1)
	go e.execute(h, job)
	return true
}

// Cancel 取消运行中的任务句柄；状态由任务协程退出后落定。
func (e *Executor) Cancel(taskID string) bool { return e.trk.Stop(taskID) }

// Running 当前持有运行句柄的任务ID。
func (e *Executor) Running() []string { return e.trk.ListIDs() }

// Shutdown 拒绝新任务，取消全部任务并等待协程退出，受 ctx 约束。
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	if n := e.trk.StopAll(); n > 0 {
		logging.L().Info(ctx, "cancelling running tasks", "count", n)
	}
	done := make(chan struct{})
	go func() { e.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor shutdown: %w", ctx.Err())
	}
}

// execute 任务协程：等待并发槽位、运行、按结果落定状态。
func (e *Executor) execute(h *tracker.Handle, job Job) {
	defer e.wg.Done()
	defer e.trk.Remove(h)
	id := h.TaskID
	ctx := logging.WithTaskID(h.Ctx, id)

	if e.sem != nil {
		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-ctx.Done():
			e.reg.MarkCancelled(id)
			logging.L().Info(ctx, "task cancelled before start")
			return
		}
	}
	if ctx.Err() != nil {
		e.reg.MarkCancelled(id)
		return
	}

	e.reg.Start(id)
	if rec, ok := e.reg.Get(id); !ok || rec.Status != task.StatusRunning {
		// 启动前已被直接取消或清理
		return
	}
	begin := time.Now()
	logging.L().Info(ctx, "task started")
	result, err := invoke(ctx, id, job)
	elapsed := time.Since(begin)

	var pe *PanicError
	switch {
	case errors.As(err, &pe):
		logging.L().Error(ctx, "task panicked", "panic", fmt.Sprint(pe.Value), "stack", string(pe.Stack))
		e.reg.Fail(id, err.Error())
	case err == nil:
		logging.L().Info(ctx, "task completed", "elapsed", elapsed)
		e.reg.Complete(id, result)
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		logging.L().Info(ctx, "task cancelled", "elapsed", elapsed)
		e.reg.MarkCancelled(id)
	default:
		logging.L().Warn(ctx, "task failed", "elapsed", elapsed, "err", err)
		e.reg.Fail(id, err.Error())
	}
}

func invoke(ctx context.Context, id string, job Job) (res any, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return job(ctx, id)
}
