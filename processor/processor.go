// Package processor 维护可运行的任务类型：task_type -> Processor。
package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mengeric/finsync/executor"
)

// Processor 统一处理器接口。
// 功能：Run 执行一次任务，返回值作为任务结果；Init/Stop 在进程启停时调用。
type Processor interface {
	Init(ctx context.Context) error
	Run(ctx context.Context, taskID string, params map[string]any) (any, error)
	Stop(ctx context.Context) error
}

// ErrNotFound 处理器不存在错误。
var ErrNotFound = errors.New("processor not found")

// Registry 处理器登记表。
type Registry struct {
	mu    sync.RWMutex
	procs map[string]Processor
}

// NewRegistry 构造。
func NewRegistry() *Registry { return &Registry{procs: map[string]Processor{}} }

// Register 注册处理器，同名覆盖。
func (r *Registry) Register(name string, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[name] = p
}

// Get 获取处理器。
func (r *Registry) Get(name string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[name]
	return p, ok
}

// Names 已注册的任务类型（有序）。
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.procs))
	for name := range r.procs {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Job 把处理器适配为执行器任务体。
// 异常：任务类型未注册时返回 ErrNotFound。
func (r *Registry) Job(name string, params map[string]any) (executor.Job, error) {
	p, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return func(ctx context.Context, taskID string) (any, error) {
		return p.Run(ctx, taskID, params)
	}, nil
}

// InitAll 依次初始化全部处理器，遇错即止。
func (r *Registry) InitAll(ctx context.Context) error {
	for _, name := range r.Names() {
		p, _ := r.Get(name)
		if err := p.Init(ctx); err != nil {
			return fmt.Errorf("init processor %s: %w", name, err)
		}
	}
	return nil
}

// StopAll 停止全部处理器，返回合并后的错误。
func (r *Registry) StopAll(ctx context.Context) error {
	var errs []error
	for _, name := range r.Names() {
		p, _ := r.Get(name)
		if err := p.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop processor %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
