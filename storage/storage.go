// Package storage 定义台账实体、任务独占的事务会话与任务归档接口。
// 实现见 gormstore（生产）与 memstore（开发/测试）。
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound 记录不存在。
var ErrNotFound = errors.New("storage: not found")

// Change 一次 upsert 的效果。
type Change int

const (
	ChangeNone Change = iota
	ChangeCreated
	ChangeUpdated
)

func (c Change) String() string {
	switch c {
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	default:
		return "none"
	}
}

// Organization 组织（ERP 目录 Организации）。
type Organization struct {
	RefKey       string
	Code         string
	Name         string
	INN          string
	DeletionMark bool
}

// Same 业务字段是否一致。
func (o Organization) Same(other Organization) bool { return o == other }

// Category 现金流项目（ERP 目录 СтатьиДвиженияДенежныхСредств）。
type Category struct {
	RefKey    string
	Code      string
	Name      string
	ParentKey string
	IsFolder  bool
}

// Same 业务字段是否一致。
func (c Category) Same(other Category) bool { return c == other }

// Document 银行入账单据。金额以最小货币单位存储。
type Document struct {
	RefKey          string
	Number          string
	Date            time.Time
	OrganizationKey string
	CategoryKey     string
	Counterparty    string
	Purpose         string
	AmountMinor     int64
	Posted          bool
}

// Same 业务字段是否一致，时间按时刻比较。
func (d Document) Same(other Document) bool {
	a, b := d, other
	if !a.Date.Equal(b.Date) {
		return false
	}
	a.Date, b.Date = time.Time{}, time.Time{}
	return a == b
}

// Tx 任务独占的事务会话。
// Commit/Rollback 之后会话仍可用，下一次写入时惰性开启新的事务。
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	UpsertOrganization(ctx context.Context, o *Organization) (Change, error)
	UpsertCategory(ctx context.Context, c *Category) (Change, error)
	UpsertDocument(ctx context.Context, d *Document) (Change, error)
}

// ArchivedTask 终态任务的归档快照。
type ArchivedTask struct {
	ID          string          `json:"id"`
	Type        string          `json:"task_type"`
	Status      string          `json:"status"`
	Total       int             `json:"total"`
	Processed   int             `json:"processed"`
	Message     string          `json:"message"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Store 持久化入口。
type Store interface {
	// Begin 为一次任务运行打开独占会话，ctx 为任务上下文。
	Begin(ctx context.Context) (Tx, error)
	// Archive 写入或覆盖任务归档。
	Archive(ctx context.Context, rec *ArchivedTask) error
	// History 按完成时间倒序列出归档，taskType 为空表示全部。
	History(ctx context.Context, taskType string, limit int) ([]ArchivedTask, error)
	// GetArchived 读取单条归档，不存在返回 ErrNotFound。
	GetArchived(ctx context.Context, id string) (*ArchivedTask, error)
}
