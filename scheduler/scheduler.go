// Package scheduler 基于 cron 表达式的后台周期任务：过期任务清理、定时同步与运行统计。
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/mengeric/finsync/logging"
)

// Scheduler cron 调度器，同一条目上次未结束时跳过本次，panic 被恢复并记录。
type Scheduler struct {
	c     *cron.Cron
	names map[cron.EntryID]string
}

// New 创建调度器。
func New() *Scheduler {
	l := cronLogger{}
	return &Scheduler{
		c:     cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l))),
		names: map[cron.EntryID]string{},
	}
}

// Add 注册一个命名任务。
// 参数：spec 支持标准 5 段表达式与 @every 1m 等描述符；spec 为空时不注册。
// 异常：表达式非法时返回错误。
func (s *Scheduler) Add(name, spec string, job cron.Job) error {
	if spec == "" {
		return nil
	}
	id, err := s.c.AddJob(spec, job)
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.names[id] = name
	logging.L().Info(context.Background(), "job scheduled", "job", name, "spec", spec)
	return nil
}

// Names 已注册的任务名。
func (s *Scheduler) Names() []string {
	out := make([]string, 0, len(s.names))
	for _, e := range s.c.Entries() {
		out = append(out, s.names[e.ID])
	}
	return out
}

// Start 后台启动。
func (s *Scheduler) Start() { s.c.Start() }

// Stop 停止调度并等待执行中的任务结束，ctx 到期则提前返回。
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger 将 cron 内部日志接入日志门面。
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.L().Debug(context.Background(), "cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.L().Error(context.Background(), "cron: "+msg, append(keysAndValues, "err", err)...)
}
