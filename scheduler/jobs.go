package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mengeric/finsync/logging"
	"github.com/mengeric/finsync/metrics"
	"github.com/mengeric/finsync/task"
)

// Cleaner 按保留时长清理终态任务，一般为 *task.Registry。
type Cleaner interface {
	Cleanup(maxAge time.Duration) int
}

// CleanupJob 清理超过 retention 的终态任务。
func CleanupJob(c Cleaner, retention time.Duration) cron.Job {
	return cron.FuncJob(func() {
		if n := c.Cleanup(retention); n > 0 {
			logging.L().Info(context.Background(), "task records cleaned", "removed", n, "retention", retention.String())
		}
	})
}

// Lister 按类型列出任务，一般为 *task.Registry。
type Lister interface {
	List(taskType string, limit int) []*task.Record
}

// Submitter 提交一个任务并返回 id。
type Submitter func(taskType string, params map[string]any) (string, error)

// SyncJob 定时提交 taskType 任务；同类型任务仍未结束时跳过本轮。
// 参数：params 每轮调用一次，用于生成随时间变化的参数（如日期窗口）。
func SyncJob(l Lister, taskType string, params func(now time.Time) map[string]any, submit Submitter) cron.Job {
	return cron.FuncJob(func() {
		ctx := context.Background()
		for _, rec := range l.List(taskType, 0) {
			if !rec.Status.IsTerminal() {
				logging.L().Info(logging.WithTaskID(ctx, rec.ID), "previous sync still active, skip", "status", rec.Status)
				return
			}
		}
		var p map[string]any
		if params != nil {
			p = params(time.Now())
		}
		id, err := submit(taskType, p)
		if err != nil {
			logging.L().Error(ctx, "scheduled submit failed", "task_type", taskType, "err", err)
			return
		}
		logging.L().Info(logging.WithTaskID(ctx, id), "scheduled task submitted", "task_type", taskType)
	})
}

// Counter 按状态统计任务数，一般为 *task.Registry。
type Counter interface {
	Counts() map[task.Status]int
}

// StatsJob 输出任务计数与主机指标。
func StatsJob(c Counter, diskPath string) cron.Job {
	return cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		counts := c.Counts()
		m := metrics.Collect(ctx, diskPath)
		logging.L().Info(ctx, "runtime stats",
			"pending", counts[task.StatusPending],
			"running", counts[task.StatusRunning],
			"completed", counts[task.StatusCompleted],
			"failed", counts[task.StatusFailed],
			"cancelled", counts[task.StatusCancelled],
			"cpu_load", m.CPULoad,
			"goroutines", m.Goroutines,
			"proc_rss_gb", m.ProcRSSGB,
			"score", m.Score,
		)
	})
}
