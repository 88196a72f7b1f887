// Package batch 多阶段、可容错的批量导入协调器。
package batch

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Item 一条外部记录。
type Item map[string]any

// Outcome 单条记录的处理结果。
type Outcome string

const (
	Created Outcome = "created"
	Updated Outcome = "updated"
	Skipped Outcome = "skipped"
)

// Session 持久化会话，由一次任务运行独占。
type Session interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Source 阶段的数据来源：有界或分页流式地逐条交给 yield。
// yield 返回错误时 Fetch 应立即停止并返回该错误。
type Source interface {
	Fetch(ctx context.Context, yield func(Item) error) error
}

// Counter 可选：能预先给出条目数的数据来源。
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// ItemProcessor 单条处理函数。
type ItemProcessor[S Session] func(ctx context.Context, item Item, sess S) (Outcome, error)

// Phase 导入阶段。
type Phase[S Session] struct {
	Name    string
	Source  Source
	Process ItemProcessor[S]
	// Key 提取记录身份，缺失时记录直接跳过；为空表示不校验。
	Key func(Item) (string, bool)
	// TotalHint Source 不是 Counter 时使用的预估条数。
	TotalHint int
}

// KeyField 以字段值作为身份；字段缺失、为 nil 或空白字符串视为缺失。
func KeyField(name string) func(Item) (string, bool) {
	return func(it Item) (string, bool) {
		v, ok := it[name]
		if !ok || v == nil {
			return "", false
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		return s, s != ""
	}
}

// Progress 进度落点，*task.Registry 实现了它。
type Progress interface {
	SetTotal(id string, total int)
	UpdateProgress(id string, processed int, message string, metadata map[string]any)
}

// Options 协调器参数。
type Options struct {
	BatchSize   int           // 每多少条提交一次
	ItemTimeout time.Duration // 单条处理时限
	ReportEvery int           // 每多少条上报一次进度
	MaxErrors   int           // 诊断信息保留上限
}

// withDefaults 填充默认值。
func (o *Options) withDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.ItemTimeout <= 0 {
		o.ItemTimeout = 90 * time.Second
	}
	if o.ReportEvery <= 0 {
		o.ReportEvery = 50
	}
	if o.MaxErrors <= 0 {
		o.MaxErrors = 10
	}
}

// PhaseSummary 单阶段汇总。
type PhaseSummary struct {
	Name       string        `json:"name"`
	Total      int           `json:"total"`
	Processed  int           `json:"processed"`
	Created    int           `json:"created"`
	Updated    int           `json:"updated"`
	Skipped    int           `json:"skipped"`
	ErrorCount int           `json:"error_count"`
	Errors     []string      `json:"errors"`
	Committed  int           `json:"committed"`
	Duration   time.Duration `json:"duration"`
}

// Result 整个任务的汇总，作为任务结果。
type Result struct {
	Phases     []PhaseSummary `json:"phases"`
	Processed  int            `json:"processed"`
	Created    int            `json:"created"`
	Updated    int            `json:"updated"`
	Skipped    int            `json:"skipped"`
	ErrorCount int            `json:"error_count"`
	Errors     []string       `json:"errors"`
}

// Items 内存中的有界来源。
type Items []Item

// Fetch 逐条交付。
func (s Items) Fetch(ctx context.Context, yield func(Item) error) error {
	for _, it := range s {
		if err := yield(it); err != nil {
			return err
		}
	}
	return nil
}

// Count 条目数。
func (s Items) Count(context.Context) (int, error) { return len(s), nil }

// SourceFunc 函数适配为 Source。
type SourceFunc func(ctx context.Context, yield func(Item) error) error

// Fetch 调用函数本身。
func (f SourceFunc) Fetch(ctx context.Context, yield func(Item) error) error { return f(ctx, yield) }
