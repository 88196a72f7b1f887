// Package importer ERP 导入任务：组织、现金流项目与入账单据三个阶段。
package importer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mengeric/finsync/batch"
	"github.com/mengeric/finsync/client"
	"github.com/mengeric/finsync/logging"
	"github.com/mengeric/finsync/storage"
)

// TaskType 导入任务类型。
const TaskType = "erp_sync"

// ERP 实体名。
const (
	EntityOrganizations = "Catalog_Организации"
	EntityCategories    = "Catalog_СтатьиДвиженияДенежныхСредств"
	EntityDocuments     = "Document_ПоступлениеНаРасчетныйСчет"
)

// Phase 名称。
const (
	PhaseOrganizations = "organizations"
	PhaseCategories    = "categories"
	PhaseDocuments     = "documents"
)

// paramDateLayout 任务参数中的日期格式。
const paramDateLayout = "2006-01-02"

// Options 导入参数。
type Options struct {
	PageSize int
	Batch    batch.Options
}

// Sync erp_sync 处理器。
type Sync struct {
	erp      client.ERP
	store    storage.Store
	progress batch.Progress
	opt      Options
}

// NewSync 构造导入处理器。progress 一般为任务登记表。
func NewSync(erp client.ERP, store storage.Store, progress batch.Progress, opt Options) *Sync {
	if opt.PageSize <= 0 {
		opt.PageSize = 500
	}
	return &Sync{erp: erp, store: store, progress: progress, opt: opt}
}

// Init 无需初始化。
func (s *Sync) Init(ctx context.Context) error { return nil }

// Stop 无需清理，运行中的任务由执行器取消。
func (s *Sync) Stop(ctx context.Context) error { return nil }

// Params 导入任务参数。
type Params struct {
	DateFrom *time.Time
	DateTo   *time.Time
}

// ParseParams 解析 date_from/date_to（YYYY-MM-DD，闭区间）。
func ParseParams(params map[string]any) (Params, error) {
	var p Params
	for key, dst := range map[string]**time.Time{"date_from": &p.DateFrom, "date_to": &p.DateTo} {
		raw, ok := params[key]
		if !ok || raw == nil || raw == "" {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			return p, fmt.Errorf("%s: expected string, got %T", key, raw)
		}
		t, err := time.Parse(paramDateLayout, s)
		if err != nil {
			return p, fmt.Errorf("%s: %w", key, err)
		}
		*dst = &t
	}
	if p.DateFrom != nil && p.DateTo != nil && p.DateTo.Before(*p.DateFrom) {
		return p, fmt.Errorf("date_to %s is before date_from %s", p.DateTo.Format(paramDateLayout), p.DateFrom.Format(paramDateLayout))
	}
	return p, nil
}

// documentFilter 单据日期过滤条件。
func (p Params) documentFilter() string {
	var parts []string
	if p.DateFrom != nil {
		parts = append(parts, fmt.Sprintf("Date ge datetime'%s'", p.DateFrom.Format(erpTimeLayout)))
	}
	if p.DateTo != nil {
		parts = append(parts, fmt.Sprintf("Date lt datetime'%s'", p.DateTo.AddDate(0, 0, 1).Format(erpTimeLayout)))
	}
	return strings.Join(parts, " and ")
}

// Run 执行一次导入。
// 返回：*batch.Result；参数错误、ERP 不可达等任务级错误原样返回，由执行器标记失败。
func (s *Sync) Run(ctx context.Context, taskID string, params map[string]any) (any, error) {
	p, err := ParseParams(params)
	if err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	sess, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	logging.L().Info(logging.WithTaskID(ctx, taskID), "erp sync starting", "document_filter", p.documentFilter())

	coord := batch.NewCoordinator[storage.Tx](s.progress, s.opt.Batch)
	return coord.Run(ctx, taskID, sess, s.Phases(p)...)
}

// Phases 三个导入阶段：先引用数据，后单据。
func (s *Sync) Phases(p Params) []batch.Phase[storage.Tx] {
	src := func(entity, filter string) *PagedSource {
		return &PagedSource{ERP: s.erp, Entity: entity, Filter: filter, PageSize: s.opt.PageSize}
	}
	return []batch.Phase[storage.Tx]{
		{Name: PhaseOrganizations, Source: src(EntityOrganizations, ""), Process: ProcessOrganization, Key: refKey},
		{Name: PhaseCategories, Source: src(EntityCategories, ""), Process: ProcessCategory, Key: refKey},
		{Name: PhaseDocuments, Source: src(EntityDocuments, p.documentFilter()), Process: ProcessDocument, Key: refKey},
	}
}

// ProcessOrganization 组织 upsert。
func ProcessOrganization(ctx context.Context, it batch.Item, tx storage.Tx) (batch.Outcome, error) {
	o, err := mapOrganization(it)
	if err != nil {
		return batch.Skipped, err
	}
	c, err := tx.UpsertOrganization(ctx, o)
	if err != nil {
		return batch.Skipped, err
	}
	return outcome(c), nil
}

// ProcessCategory 现金流项目 upsert。
func ProcessCategory(ctx context.Context, it batch.Item, tx storage.Tx) (batch.Outcome, error) {
	cat, err := mapCategory(it)
	if err != nil {
		return batch.Skipped, err
	}
	c, err := tx.UpsertCategory(ctx, cat)
	if err != nil {
		return batch.Skipped, err
	}
	return outcome(c), nil
}

// ProcessDocument 单据 upsert；日期或金额无法解析时为单项错误。
func ProcessDocument(ctx context.Context, it batch.Item, tx storage.Tx) (batch.Outcome, error) {
	d, err := mapDocument(it)
	if err != nil {
		return batch.Skipped, err
	}
	c, err := tx.UpsertDocument(ctx, d)
	if err != nil {
		return batch.Skipped, err
	}
	return outcome(c), nil
}
