// Package gormstore 基于 GORM 的 storage.Store 实现（PostgreSQL / SQLite）。
package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/mengeric/finsync/storage"
)

// defaultHistoryLimit History 未指定 limit 时的上限。
const defaultHistoryLimit = 50

// Store 基于 GORM 的 Store 实现。
type Store struct{ db *gorm.DB }

// New 创建 Store，调用方应先执行 Migrate。
func New(db *gorm.DB) *Store { return &Store{db: db} }

// DB 返回底层连接。
func (s *Store) DB() *gorm.DB { return s.db }

// Migrate 自动迁移全部表。
func Migrate(db *gorm.DB) error { return db.AutoMigrate(Models()...) }

// Begin 打开任务独占会话；底层事务在首次写入时开启，并绑定 ctx（任务上下文）。
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{db: s.db, base: ctx}, nil
}

// Archive 按 task_id upsert 归档。
func (s *Store) Archive(ctx context.Context, rec *storage.ArchivedTask) error {
	if rec == nil || rec.ID == "" {
		return errors.New("gormstore: archive record without id")
	}
	m := toArchive(rec)
	return s.db.WithContext(ctx).Where("task_id = ?", rec.ID).Assign(m).FirstOrCreate(&m).Error
}

// History 按完成时间倒序列出归档。
func (s *Store) History(ctx context.Context, taskType string, limit int) ([]storage.ArchivedTask, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	q := s.db.WithContext(ctx).Model(&archiveModel{})
	if taskType != "" {
		q = q.Where("task_type = ?", taskType)
	}
	var list []archiveModel
	if err := q.Order("completed_at desc").Order("created_at desc").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	out := make([]storage.ArchivedTask, 0, len(list))
	for _, m := range list {
		out = append(out, fromArchive(m))
	}
	return out, nil
}

// GetArchived 读取单条归档。
func (s *Store) GetArchived(ctx context.Context, id string) (*storage.ArchivedTask, error) {
	var m archiveModel
	err := s.db.WithContext(ctx).Where("task_id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a := fromArchive(m)
	return &a, nil
}

// tx 惰性事务会话。
// 超时的单项调用可能仍在后台运行，因此写入与提交串行化。
// 每个单项写入在独立保存点内执行，失败只回退该项。
type tx struct {
	mu     sync.Mutex
	db     *gorm.DB
	base   context.Context
	cur    *gorm.DB
	seq    int
	broken error
}

// open 返回当前事务，必要时开启新事务。调用方持有 mu。
func (t *tx) open() (*gorm.DB, error) {
	if t.cur != nil {
		return t.cur, nil
	}
	db := t.db.WithContext(t.base).Begin()
	if db.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", db.Error)
	}
	t.cur = db
	return db, nil
}

// item 在保存点内执行 fn。
// 保存点操作绑定任务上下文，单项超时取消 ctx 后仍能回退。
// 无法回退到保存点时事务作废，后续写入与提交均返回该错误。
func (t *tx) item(ctx context.Context, fn func(db *gorm.DB) (storage.Change, error)) (storage.Change, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.broken != nil {
		return storage.ChangeNone, t.broken
	}
	db, err := t.open()
	if err != nil {
		return storage.ChangeNone, err
	}
	t.seq++
	sp := fmt.Sprintf("item_%d", t.seq)
	ctl := db.WithContext(t.base)
	if err := ctl.SavePoint(sp).Error; err != nil {
		return storage.ChangeNone, fmt.Errorf("savepoint %s: %w", sp, err)
	}
	c, err := fn(db.WithContext(ctx))
	if err != nil {
		if rerr := ctl.RollbackTo(sp).Error; rerr != nil {
			t.broken = fmt.Errorf("rollback to savepoint %s: %w", sp, rerr)
			return storage.ChangeNone, errors.Join(err, t.broken)
		}
		return storage.ChangeNone, err
	}
	if err := ctl.Exec("RELEASE SAVEPOINT " + sp).Error; err != nil {
		t.broken = fmt.Errorf("release savepoint %s: %w", sp, err)
		return storage.ChangeNone, t.broken
	}
	return c, nil
}

func (t *tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return nil
	}
	cur, broken := t.cur, t.broken
	t.cur, t.broken = nil, nil
	if broken != nil {
		_ = cur.Rollback()
		return fmt.Errorf("transaction aborted: %w", broken)
	}
	return cur.Commit().Error
}

func (t *tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return nil
	}
	err := t.cur.Rollback().Error
	t.cur, t.broken = nil, nil
	// 任务上下文取消时 database/sql 已自动回滚
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (t *tx) UpsertOrganization(ctx context.Context, o *storage.Organization) (storage.Change, error) {
	return t.item(ctx, func(db *gorm.DB) (storage.Change, error) {
		var m organizationModel
		found, err := lookup(db, o.RefKey, &m)
		if err != nil {
			return storage.ChangeNone, err
		}
		if !found {
			m = organizationModel{RefKey: o.RefKey, Code: o.Code, Name: o.Name, INN: o.INN, DeletionMark: o.DeletionMark}
			return change(storage.ChangeCreated, db.Create(&m).Error)
		}
		if orgFrom(m).Same(*o) {
			return storage.ChangeNone, nil
		}
		return change(storage.ChangeUpdated, db.Model(&m).Updates(map[string]any{
			"code": o.Code, "name": o.Name, "inn": o.INN, "deletion_mark": o.DeletionMark,
		}).Error)
	})
}

func (t *tx) UpsertCategory(ctx context.Context, c *storage.Category) (storage.Change, error) {
	return t.item(ctx, func(db *gorm.DB) (storage.Change, error) {
		var m categoryModel
		found, err := lookup(db, c.RefKey, &m)
		if err != nil {
			return storage.ChangeNone, err
		}
		if !found {
			m = categoryModel{RefKey: c.RefKey, Code: c.Code, Name: c.Name, ParentKey: c.ParentKey, IsFolder: c.IsFolder}
			return change(storage.ChangeCreated, db.Create(&m).Error)
		}
		if catFrom(m).Same(*c) {
			return storage.ChangeNone, nil
		}
		return change(storage.ChangeUpdated, db.Model(&m).Updates(map[string]any{
			"code": c.Code, "name": c.Name, "parent_key": c.ParentKey, "is_folder": c.IsFolder,
		}).Error)
	})
}

func (t *tx) UpsertDocument(ctx context.Context, d *storage.Document) (storage.Change, error) {
	return t.item(ctx, func(db *gorm.DB) (storage.Change, error) {
		var m documentModel
		found, err := lookup(db, d.RefKey, &m)
		if err != nil {
			return storage.ChangeNone, err
		}
		if !found {
			m = documentModel{RefKey: d.RefKey, Number: d.Number, Date: d.Date, OrganizationKey: d.OrganizationKey,
				CategoryKey: d.CategoryKey, Counterparty: d.Counterparty, Purpose: d.Purpose, AmountMinor: d.AmountMinor, Posted: d.Posted}
			return change(storage.ChangeCreated, db.Create(&m).Error)
		}
		if docFrom(m).Same(*d) {
			return storage.ChangeNone, nil
		}
		return change(storage.ChangeUpdated, db.Model(&m).Updates(map[string]any{
			"number": d.Number, "date": d.Date, "organization_key": d.OrganizationKey, "category_key": d.CategoryKey,
			"counterparty": d.Counterparty, "purpose": d.Purpose, "amount_minor": d.AmountMinor, "posted": d.Posted,
		}).Error)
	})
}

// lookup 按 ref_key 查找，未找到不视为错误。
func lookup(db *gorm.DB, refKey string, dest any) (bool, error) {
	if refKey == "" {
		return false, errors.New("gormstore: empty ref key")
	}
	res := db.Where("ref_key = ?", refKey).Limit(1).Find(dest)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func change(c storage.Change, err error) (storage.Change, error) {
	if err != nil {
		return storage.ChangeNone, err
	}
	return c, nil
}
