package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mengeric/finsync/executor"
	"github.com/mengeric/finsync/logging"
)

// maxDiagnosticLen 单条诊断信息的最大长度。
const maxDiagnosticLen = 300

// errStop 区分“协调器主动停止”与来源自身错误。
var errStop = errors.New("batch: stop fetching")

// Coordinator 多阶段批量导入协调器。
// 功能：按阶段顺序拉取记录，逐条在时限内处理并分类，按批提交，按节奏上报进度。
// 单条失败、超时与 panic 只会记为 skipped 并留下诊断，不会中断整个任务；
// 提交失败回滚后继续；来源错误作为任务级错误返回；取消时回滚未提交批次并返回 ctx.Err()。
type Coordinator[S Session] struct {
	progress Progress
	opt      Options
}

// NewCoordinator 构造协调器。
func NewCoordinator[S Session](progress Progress, opt Options) *Coordinator[S] {
	opt.withDefaults()
	return &Coordinator[S]{progress: progress, opt: opt}
}

// Options 返回生效的参数。
func (c *Coordinator[S]) Options() Options { return c.opt }

// run 一次运行的可变状态。
type run[S Session] struct {
	c       *Coordinator[S]
	taskID  string
	sess    S
	total   int
	offset  int
	res     *Result
	pending int // 未提交条数
}

// Run 依次执行各阶段。
// 参数：
// - ctx：任务上下文，取消即停止；
// - taskID：进度上报目标；
// - sess：任务独占的持久化会话；
// - phases：有序阶段。
// 返回：
// - *Result：汇总结果（出错时为已完成部分的汇总）；
// - error：来源错误、计数错误或 ctx.Err()。
func (c *Coordinator[S]) Run(ctx context.Context, taskID string, sess S, phases ...Phase[S]) (*Result, error) {
	ctx = logging.WithTaskID(ctx, taskID)
	r := &run[S]{c: c, taskID: taskID, sess: sess, res: &Result{Phases: make([]PhaseSummary, 0, len(phases)), Errors: []string{}}}

	expected := make([]int, len(phases))
	for i, ph := range phases {
		n, err := estimate(ctx, ph)
		if err != nil {
			return r.res, fmt.Errorf("phase %s: count: %w", ph.Name, err)
		}
		expected[i] = n
		r.total += n
	}
	c.progress.SetTotal(taskID, r.total)

	for i, ph := range phases {
		if err := ctx.Err(); err != nil {
			return r.res, err
		}
		sum, err := r.phase(ctx, ph, expected[i])
		r.res.Phases = append(r.res.Phases, sum)
		if err != nil {
			return r.res, err
		}
		if sum.Processed != expected[i] {
			r.total += sum.Processed - expected[i]
			c.progress.SetTotal(taskID, r.total)
		}
	}
	logging.L().Info(ctx, "import finished", "processed", r.res.Processed, "created", r.res.Created,
		"updated", r.res.Updated, "skipped", r.res.Skipped, "errors", r.res.ErrorCount)
	return r.res, nil
}

func estimate[S Session](ctx context.Context, ph Phase[S]) (int, error) {
	if cnt, ok := ph.Source.(Counter); ok {
		return cnt.Count(ctx)
	}
	return max(ph.TotalHint, 0), nil
}

// phase 执行单个阶段。
func (r *run[S]) phase(ctx context.Context, ph Phase[S], expected int) (sum PhaseSummary, err error) {
	opt := r.c.opt
	sum = PhaseSummary{Name: ph.Name, Total: expected, Errors: []string{}}
	begin := time.Now()
	defer func() { sum.Duration = time.Since(begin) }()
	logging.L().Info(ctx, "phase started", "phase", ph.Name, "expected", expected)

	sinceReport := 0
	yield := func(it Item) error {
		if ctx.Err() != nil {
			return errStop
		}
		sum.Processed++
		n := sum.Processed
		outcome, diag := r.item(ctx, ph, it, n)
		if ctx.Err() != nil {
			// 取消发生在处理中途，该条不计
			sum.Processed--
			return errStop
		}
		r.count(&sum, outcome, diag)
		r.offset++
		r.pending++
		sinceReport++

		if r.pending >= opt.BatchSize {
			r.commit(ctx, &sum, n)
		}
		if sinceReport >= opt.ReportEvery || (expected > 0 && n == expected) {
			r.report(ph.Name, r.message(ph.Name))
			sinceReport = 0
		}
		return nil
	}

	err = ph.Source.Fetch(ctx, yield)
	if ctx.Err() != nil {
		r.rollback(ctx)
		logging.L().Info(ctx, "phase cancelled", "phase", ph.Name, "processed", sum.Processed)
		return sum, ctx.Err()
	}
	if err != nil {
		r.rollback(ctx)
		return sum, fmt.Errorf("phase %s: fetch: %w", ph.Name, err)
	}

	if r.pending > 0 {
		r.commit(ctx, &sum, sum.Processed)
	}
	switch {
	case sum.Processed == 0:
		r.report(ph.Name, fmt.Sprintf("%s: nothing to do", ph.Name))
	case sinceReport > 0:
		r.report(ph.Name, r.message(ph.Name))
	}
	logging.L().Info(ctx, "phase finished", "phase", ph.Name, "processed", sum.Processed,
		"created", sum.Created, "updated", sum.Updated, "skipped", sum.Skipped, "commits", sum.Committed)
	return sum, nil
}

// item 身份校验后在时限内处理单条记录，返回分类与诊断（无诊断为空串）。
func (r *run[S]) item(ctx context.Context, ph Phase[S], it Item, n int) (Outcome, string) {
	key := ""
	if ph.Key != nil {
		k, ok := ph.Key(it)
		if !ok {
			return Skipped, fmt.Sprintf("%s #%d: missing identity", ph.Name, n)
		}
		key = k
	}
	out, err := executor.CallWithTimeout(ctx, r.c.opt.ItemTimeout, func(ictx context.Context) (Outcome, error) {
		return ph.Process(ictx, it, r.sess)
	})
	if err != nil {
		if key != "" {
			return Skipped, fmt.Sprintf("%s #%d %s: %v", ph.Name, n, key, err)
		}
		return Skipped, fmt.Sprintf("%s #%d: %v", ph.Name, n, err)
	}
	switch out {
	case Created, Updated, Skipped:
		return out, ""
	default:
		return Skipped, fmt.Sprintf("%s #%d %s: unknown outcome %q", ph.Name, n, key, out)
	}
}

func (r *run[S]) count(sum *PhaseSummary, out Outcome, diag string) {
	switch out {
	case Created:
		sum.Created++
		r.res.Created++
	case Updated:
		sum.Updated++
		r.res.Updated++
	default:
		sum.Skipped++
		r.res.Skipped++
	}
	r.res.Processed++
	if diag != "" {
		r.diagnose(sum, diag)
	}
}

// diagnose 记录诊断，阶段与任务两级列表均有上限。
func (r *run[S]) diagnose(sum *PhaseSummary, msg string) {
	if len(msg) > maxDiagnosticLen {
		msg = msg[:maxDiagnosticLen] + "..."
	}
	sum.ErrorCount++
	r.res.ErrorCount++
	if len(sum.Errors) < r.c.opt.MaxErrors {
		sum.Errors = append(sum.Errors, msg)
	}
	if len(r.res.Errors) < r.c.opt.MaxErrors {
		r.res.Errors = append(r.res.Errors, msg)
	}
}

// commit 提交当前批次；失败时记录诊断、回滚并继续。
func (r *run[S]) commit(ctx context.Context, sum *PhaseSummary, n int) {
	r.pending = 0
	if err := r.sess.Commit(ctx); err != nil {
		logging.L().Warn(ctx, "batch commit failed, rolling back", "phase", sum.Name, "item", n, "err", err)
		r.diagnose(sum, fmt.Sprintf("%s commit after #%d: %v", sum.Name, n, err))
		r.rollback(ctx)
		return
	}
	sum.Committed++
}

// rollback 回滚未提交的批次；上下文可能已取消，回滚使用不可取消的副本。
func (r *run[S]) rollback(ctx context.Context) {
	r.pending = 0
	if err := r.sess.Rollback(context.WithoutCancel(ctx)); err != nil {
		logging.L().Warn(ctx, "rollback failed", "err", err)
	}
}

func (r *run[S]) report(phase, msg string) {
	r.c.progress.UpdateProgress(r.taskID, r.offset, msg, map[string]any{"phase": phase})
}

func (r *run[S]) message(phase string) string {
	return fmt.Sprintf("%s: %d/%d (created %d, updated %d, skipped %d)",
		phase, r.offset, max(r.total, r.offset), r.res.Created, r.res.Updated, r.res.Skipped)
}
