package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/mengeric/finsync/logging"
)

// Callback 订阅回调，收到的是记录快照（只读）。
type Callback func(rec *Record) error

// SubscriptionID 订阅句柄，用于取消订阅。
type SubscriptionID uint64

// allTasks 通配订阅的键。
const allTasks = ""

type subscriber struct {
	id SubscriptionID
	cb Callback
}

// Notifier 按任务ID维护订阅者，并在记录变更时同步回调。
// 回调返回错误或 panic 时仅记录日志，不影响其它订阅者与调用方。
type Notifier struct {
	mu   sync.RWMutex
	next SubscriptionID
	subs map[string][]subscriber
}

// NewNotifier 构造。
func NewNotifier() *Notifier {
	return &Notifier{subs: map[string][]subscriber{}}
}

// Subscribe 订阅指定任务。
func (n *Notifier) Subscribe(taskID string, cb Callback) SubscriptionID {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	n.subs[taskID] = append(n.subs[taskID], subscriber{id: n.next, cb: cb})
	return n.next
}

// SubscribeAll 订阅全部任务。
func (n *Notifier) SubscribeAll(cb Callback) SubscriptionID { return n.Subscribe(allTasks, cb) }

// Unsubscribe 取消订阅；未知句柄忽略。
func (n *Notifier) Unsubscribe(taskID string, id SubscriptionID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	list := n.subs[taskID]
	for i, s := range list {
		if s.id == id {
			n.subs[taskID] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(n.subs[taskID]) == 0 && taskID != allTasks {
		delete(n.subs, taskID)
	}
}

// Release 释放某任务的全部订阅（清理任务时调用）。
func (n *Notifier) Release(taskID string) {
	if taskID == allTasks {
		return
	}
	n.mu.Lock()
	delete(n.subs, taskID)
	n.mu.Unlock()
}

// Count 返回某任务当前订阅数。
func (n *Notifier) Count(taskID string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs[taskID])
}

// Notify 把快照投递给该任务的订阅者以及通配订阅者。
// 投递在调用方协程内同步完成，同一任务按 Notify 的调用顺序送达；每个订阅者拿到独立副本。
func (n *Notifier) Notify(rec *Record) {
	n.mu.RLock()
	targets := make([]subscriber, 0, len(n.subs[rec.ID])+len(n.subs[allTasks]))
	targets = append(targets, n.subs[rec.ID]...)
	targets = append(targets, n.subs[allTasks]...)
	n.mu.RUnlock()
	for _, s := range targets {
		n.deliver(s, rec.clone())
	}
}

func (n *Notifier) deliver(s subscriber, rec *Record) {
	ctx := logging.WithTaskID(context.Background(), rec.ID)
	defer func() {
		if p := recover(); p != nil {
			logging.L().Error(ctx, "subscriber panicked", "subscription", s.id, "panic", fmt.Sprint(p))
		}
	}()
	if err := s.cb(rec); err != nil {
		logging.L().Warn(ctx, "subscriber failed", "subscription", s.id, "err", err)
	}
}
