package task

import (
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultListLimit List 未指定 limit 时的返回上限。
const DefaultListLimit = 50

// Canceller 由执行器实现：向运行中的任务发出取消信号。
type Canceller interface {
	Cancel(taskID string) bool
}

// Option 登记表可选项。
type Option func(*Registry)

// WithClock 替换时钟（测试用）。
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// WithNotifier 使用外部构造的 Notifier。
func WithNotifier(n *Notifier) Option { return func(r *Registry) { r.notifier = n } }

// WithIDGenerator 替换任务ID生成器，默认 uuid v4。
func WithIDGenerator(fn func() string) Option { return func(r *Registry) { r.newID = fn } }

// Registry 进程内任务登记表。
// 功能：创建、查询、列出与清理任务记录；所有有效变更都会同步通知订阅者。
// 对不存在或已终态的任务ID，所有操作都退化为空操作，不返回错误。
type Registry struct {
	mu        sync.RWMutex
	tasks     map[string]*Record
	seq       uint64
	notifier  *Notifier
	canceller Canceller
	now       func() time.Time
	newID     func() string
}

// NewRegistry 构造登记表，进程启动时创建一次并注入各组件。
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{tasks: map[string]*Record{}, now: time.Now, newID: func() string { return uuid.NewString() }}
	for _, fn := range opts {
		fn(r)
	}
	if r.notifier == nil {
		r.notifier = NewNotifier()
	}
	return r
}

// AttachCanceller 绑定执行器。
func (r *Registry) AttachCanceller(c Canceller) {
	r.mu.Lock()
	r.canceller = c
	r.mu.Unlock()
}

// Notifier 返回内部通知器。
func (r *Registry) Notifier() *Notifier { return r.notifier }

// Create 创建 PENDING 任务并返回任务ID。
func (r *Registry) Create(taskType string, total int, metadata map[string]any) string {
	if total < 0 {
		total = 0
	}
	r.mu.Lock()
	r.seq++
	rec := &Record{
		ID:        r.newID(),
		Type:      taskType,
		Status:    StatusPending,
		Total:     total,
		CreatedAt: r.now(),
		Metadata:  maps.Clone(metadata),
		seq:       r.seq,
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	r.tasks[rec.ID] = rec
	snap := rec.clone()
	r.mu.Unlock()
	r.notifier.Notify(snap)
	return rec.ID
}

// Get 按ID读取任务快照。
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.tasks[id]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// List 按创建时间倒序列出任务；taskType 为空表示全部。
func (r *Registry) List(taskType string, limit int) []*Record {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	r.mu.RLock()
	out := make([]*Record, 0, len(r.tasks))
	for _, rec := range r.tasks {
		if taskType == "" || rec.Type == taskType {
			out = append(out, rec.clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].seq > out[j].seq
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Counts 各状态的任务数量。
func (r *Registry) Counts() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[Status]int{}
	for _, rec := range r.tasks {
		out[rec.Status]++
	}
	return out
}

// UpdateProgress 更新进度：消息取最新值，已处理数单调不减，元数据按键合并。
func (r *Registry) UpdateProgress(id string, processed int, message string, metadata map[string]any) {
	r.mutate(id, func(rec *Record) bool {
		if processed > rec.Processed {
			rec.Processed = processed
		}
		if rec.Processed > rec.Total {
			rec.Total = rec.Processed
		}
		rec.Message = message
		maps.Copy(rec.Metadata, metadata)
		return true
	})
}

// SetTotal 修正预期总数，不低于已处理数。
func (r *Registry) SetTotal(id string, total int) {
	r.mutate(id, func(rec *Record) bool {
		rec.Total = max(total, rec.Processed)
		return true
	})
}

// Start PENDING -> RUNNING。
func (r *Registry) Start(id string) {
	r.mutate(id, func(rec *Record) bool {
		if rec.Status != StatusPending {
			return false
		}
		now := r.now()
		rec.Status = StatusRunning
		rec.StartedAt = &now
		return true
	})
}

// Complete 标记成功并保存结果。
func (r *Registry) Complete(id string, result any) {
	r.finish(id, StatusCompleted, func(rec *Record) { rec.Result = result })
}

// Fail 标记失败并保存错误描述。
func (r *Registry) Fail(id string, errMsg string) {
	r.finish(id, StatusFailed, func(rec *Record) { rec.Error = errMsg })
}

// MarkCancelled 标记已取消（由执行器在任务响应取消后调用）。
func (r *Registry) MarkCancelled(id string) {
	r.finish(id, StatusCancelled, func(rec *Record) {})
}

// Cancel 请求取消任务。
// 返回：运行句柄被成功通知时为 true；尚无运行句柄的 PENDING 任务直接置为 CANCELLED，同样返回 true；
// 终态或未知任务返回 false。
func (r *Registry) Cancel(id string) bool {
	r.mu.RLock()
	rec, ok := r.tasks[id]
	var status Status
	if ok {
		status = rec.Status
	}
	c := r.canceller
	r.mu.RUnlock()
	if !ok || status.IsTerminal() {
		return false
	}
	if c != nil && c.Cancel(id) {
		return true
	}
	if status == StatusPending {
		r.MarkCancelled(id)
		return true
	}
	return false
}

// Cleanup 清理完成时间早于 maxAge 的终态任务，并释放其订阅。
func (r *Registry) Cleanup(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)
	var removed []string
	r.mu.Lock()
	for id, rec := range r.tasks {
		if !rec.Status.IsTerminal() || rec.CompletedAt == nil {
			continue
		}
		if !rec.CompletedAt.After(cutoff) {
			delete(r.tasks, id)
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()
	for _, id := range removed {
		r.notifier.Release(id)
	}
	return len(removed)
}

// Subscribe 订阅单个任务的变更。
func (r *Registry) Subscribe(id string, cb Callback) SubscriptionID { return r.notifier.Subscribe(id, cb) }

// SubscribeAll 订阅全部任务的变更。
func (r *Registry) SubscribeAll(cb Callback) SubscriptionID { return r.notifier.SubscribeAll(cb) }

// Unsubscribe 取消订阅。
func (r *Registry) Unsubscribe(id string, sub SubscriptionID) { r.notifier.Unsubscribe(id, sub) }

// UnsubscribeAll 取消通配订阅。
func (r *Registry) UnsubscribeAll(sub SubscriptionID) { r.notifier.Unsubscribe(allTasks, sub) }

func (r *Registry) finish(id string, status Status, apply func(rec *Record)) {
	r.mutate(id, func(rec *Record) bool {
		now := r.now()
		rec.Status = status
		rec.CompletedAt = &now
		apply(rec)
		return true
	})
}

// mutate 在锁内修改记录，锁外通知；终态记录不可再变更。
func (r *Registry) mutate(id string, fn func(rec *Record) bool) {
	r.mu.Lock()
	rec, ok := r.tasks[id]
	if !ok || rec.Status.IsTerminal() || !fn(rec) {
		r.mu.Unlock()
		return
	}
	rec.recompute()
	snap := rec.clone()
	r.mu.Unlock()
	r.notifier.Notify(snap)
}
