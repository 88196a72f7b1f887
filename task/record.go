// Package task 提供进程内任务登记表：任务记录的生命周期、进度与订阅通知。
package task

import (
	"maps"
	"time"
)

// Status 任务状态。
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal 终态之后不允许任何变更。
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Record 任务记录：身份不可变，进度与状态可变。
type Record struct {
	ID              string         `json:"id"`
	Type            string         `json:"task_type"`
	Status          Status         `json:"status"`
	Total           int            `json:"total"`
	Processed       int            `json:"processed"`
	ProgressPercent float64        `json:"progress_percent"`
	Message         string         `json:"message"`
	Result          any            `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Metadata        map[string]any `json:"metadata"`

	seq uint64
}

// clone 拷贝记录，Metadata 与时间指针各自独立；Result 视为只读共享。
func (r *Record) clone() *Record {
	cp := *r
	cp.Metadata = maps.Clone(r.Metadata)
	if cp.Metadata == nil {
		cp.Metadata = map[string]any{}
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// recompute 根据 Processed/Total 计算百分比，Total 为 0 时为 0。
func (r *Record) recompute() {
	if r.Total <= 0 {
		r.ProgressPercent = 0
		return
	}
	p := float64(r.Processed) / float64(r.Total) * 100
	if p > 100 {
		p = 100
	}
	r.ProgressPercent = p
}
