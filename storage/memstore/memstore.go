// Package memstore 线程安全的内存存储，仅用于开发/轻量场景与测试。
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/mengeric/finsync/storage"
)

// Store 内存实现：会话内的写入先暂存，提交时合并。
type Store struct {
	mu      sync.RWMutex
	orgs    map[string]storage.Organization
	cats    map[string]storage.Category
	docs    map[string]storage.Document
	archive map[string]storage.ArchivedTask
}

// New 创建内存存储。
func New() *Store {
	return &Store{
		orgs:    map[string]storage.Organization{},
		cats:    map[string]storage.Category{},
		docs:    map[string]storage.Document{},
		archive: map[string]storage.ArchivedTask{},
	}
}

// Begin 打开会话。
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := &tx{s: s}
	t.reset()
	return t, nil
}

// Organization 读取已提交的组织。
func (s *Store) Organization(ref string) (storage.Organization, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[ref]
	return o, ok
}

// Category 读取已提交的项目。
func (s *Store) Category(ref string) (storage.Category, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cats[ref]
	return c, ok
}

// Document 读取已提交的单据。
func (s *Store) Document(ref string) (storage.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[ref]
	return d, ok
}

// Counts 已提交的组织、项目、单据数量。
func (s *Store) Counts() (orgs, cats, docs int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orgs), len(s.cats), len(s.docs)
}

// Archive 写入或覆盖归档。
func (s *Store) Archive(ctx context.Context, rec *storage.ArchivedTask) error {
	if rec == nil || rec.ID == "" {
		return errors.New("memstore: archive record without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive[rec.ID] = *rec
	return nil
}

// History 按完成时间倒序列出归档。
func (s *Store) History(ctx context.Context, taskType string, limit int) ([]storage.ArchivedTask, error) {
	s.mu.RLock()
	out := make([]storage.ArchivedTask, 0, len(s.archive))
	for _, v := range s.archive {
		if taskType == "" || v.Type == taskType {
			out = append(out, v)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return completedAt(out[i]) > completedAt(out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetArchived 读取单条归档。
func (s *Store) GetArchived(ctx context.Context, id string) (*storage.ArchivedTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.archive[id]; ok {
		return &v, nil
	}
	return nil, storage.ErrNotFound
}

func completedAt(a storage.ArchivedTask) int64 {
	if a.CompletedAt == nil {
		return a.CreatedAt.UnixNano()
	}
	return a.CompletedAt.UnixNano()
}

// tx 会话：暂存区覆盖在已提交数据之上。
type tx struct {
	s    *Store
	mu   sync.Mutex
	orgs map[string]storage.Organization
	cats map[string]storage.Category
	docs map[string]storage.Document
}

func (t *tx) reset() {
	t.orgs = map[string]storage.Organization{}
	t.cats = map[string]storage.Category{}
	t.docs = map[string]storage.Document{}
}

func (t *tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.mu.Lock()
	for k, v := range t.orgs {
		t.s.orgs[k] = v
	}
	for k, v := range t.cats {
		t.s.cats[k] = v
	}
	for k, v := range t.docs {
		t.s.docs[k] = v
	}
	t.s.mu.Unlock()
	t.reset()
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	t.reset()
	t.mu.Unlock()
	return nil
}

func (t *tx) UpsertOrganization(ctx context.Context, o *storage.Organization) (storage.Change, error) {
	return upsert(ctx, t, o.RefKey, *o, func() map[string]storage.Organization { return t.orgs }, t.s.orgs, storage.Organization.Same)
}

func (t *tx) UpsertCategory(ctx context.Context, c *storage.Category) (storage.Change, error) {
	return upsert(ctx, t, c.RefKey, *c, func() map[string]storage.Category { return t.cats }, t.s.cats, storage.Category.Same)
}

func (t *tx) UpsertDocument(ctx context.Context, d *storage.Document) (storage.Change, error) {
	return upsert(ctx, t, d.RefKey, *d, func() map[string]storage.Document { return t.docs }, t.s.docs, storage.Document.Same)
}

// upsert 先查暂存区再查已提交数据，按内容是否变化返回效果。
func upsert[V any](ctx context.Context, t *tx, key string, v V, stagedOf func() map[string]V, committed map[string]V, same func(V, V) bool) (storage.Change, error) {
	if err := ctx.Err(); err != nil {
		return storage.ChangeNone, err
	}
	if key == "" {
		return storage.ChangeNone, errors.New("memstore: empty ref key")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	staged := stagedOf()
	cur, ok := staged[key]
	if !ok {
		t.s.mu.RLock()
		cur, ok = committed[key]
		t.s.mu.RUnlock()
	}
	staged[key] = v
	switch {
	case !ok:
		return storage.ChangeCreated, nil
	case same(cur, v):
		return storage.ChangeNone, nil
	default:
		return storage.ChangeUpdated, nil
	}
}
