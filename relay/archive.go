package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mengeric/finsync/logging"

	"github.com/mengeric/finsync/storage"
	"github.com/mengeric/finsync/task"
)

// maxPendingArchive 待重试归档上限，超出时丢弃最旧的。
const maxPendingArchive = 1024

// ArchiveSink 把终态快照写入历史归档，非终态忽略。
// 写入失败的快照留待下次 Send 重试（含空批次）。
type ArchiveSink struct {
	store storage.Store

	mu      sync.Mutex
	pending []*storage.ArchivedTask
}

// NewArchiveSink 构造。
func NewArchiveSink(store storage.Store) *ArchiveSink { return &ArchiveSink{store: store} }

func (s *ArchiveSink) Name() string { return "archive" }

// Pending 待重试的归档数。
func (s *ArchiveSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Send 先并入新的终态快照，再按顺序写入全部待归档项。
// 单条失败不影响其余，错误合并返回；无法序列化的快照直接报错不重试。
func (s *ArchiveSink) Send(ctx context.Context, recs []*task.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, rec := range recs {
		if !rec.Status.IsTerminal() {
			continue
		}
		a, err := Archived(rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", rec.ID, err))
			continue
		}
		s.queue(a)
	}
	var keep []*storage.ArchivedTask
	for i, a := range s.pending {
		if ctx.Err() != nil {
			keep = append(keep, s.pending[i:]...)
			errs = append(errs, ctx.Err())
			break
		}
		if err := s.store.Archive(ctx, a); err != nil {
			keep = append(keep, a)
			errs = append(errs, fmt.Errorf("archive %s: %w", a.ID, err))
		}
	}
	if n := len(keep) - maxPendingArchive; n > 0 {
		logging.L().Warnf(ctx, "archive backlog full, dropping %d snapshots", n)
		keep = keep[n:]
	}
	s.pending = keep
	return errors.Join(errs...)
}

// queue 加入待归档；同一任务只保留最新快照。调用方持有 mu。
func (s *ArchiveSink) queue(a *storage.ArchivedTask) {
	for i, p := range s.pending {
		if p.ID == a.ID {
			s.pending[i] = a
			return
		}
	}
	s.pending = append(s.pending, a)
}

// Archived 任务记录转归档快照。
func Archived(rec *task.Record) (*storage.ArchivedTask, error) {
	a := &storage.ArchivedTask{
		ID:          rec.ID,
		Type:        rec.Type,
		Status:      string(rec.Status),
		Total:       rec.Total,
		Processed:   rec.Processed,
		Message:     rec.Message,
		Error:       rec.Error,
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
	if rec.Result != nil {
		data, err := json.Marshal(rec.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		a.Result = data
	}
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		a.Metadata = data
	}
	return a, nil
}
