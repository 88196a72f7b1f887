// Package relay 将任务快照批量推送到外部通道（Redis、Kafka、历史归档）。
package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mengeric/finsync/logging"
	"github.com/mengeric/finsync/task"
)

// Sink 一个推送目标。
type Sink interface {
	Name() string
	Send(ctx context.Context, recs []*task.Record) error
}

// Retrier 保留失败记录待重试的出口；Pending 大于 0 时空闲周期也会以空批次调用 Send。
type Retrier interface {
	Pending() int
}

// Subscriber 任务变更的订阅方，一般为 *task.Registry。
type Subscriber interface {
	SubscribeAll(cb task.Callback) task.SubscriptionID
	UnsubscribeAll(sub task.SubscriptionID)
}

// flushTimeout 单次推送的超时，退出时的最后一次推送同样适用。
const flushTimeout = 5 * time.Second

// Relay 缓冲队列 + 周期/满批推送。
type Relay struct {
	sinks []Sink
	ch    chan *task.Record
	tick  time.Duration
	max   int

	src     Subscriber
	sub     task.SubscriptionID
	dropped atomic.Int64
	once    sync.Once
	done    chan struct{}
}

// New 创建推送器。
// 参数：interval 推送周期；batchMax 单批最大条数，队列容量为其 4 倍。
func New(interval time.Duration, batchMax int, sinks ...Sink) *Relay {
	if batchMax <= 0 {
		batchMax = 256
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{
		sinks: sinks,
		ch:    make(chan *task.Record, batchMax*4),
		tick:  interval,
		max:   batchMax,
		done:  make(chan struct{}),
	}
}

// Attach 订阅全部任务变更，回调只做非阻塞入队。
func (r *Relay) Attach(src Subscriber) {
	r.src = src
	r.sub = src.SubscribeAll(func(rec *task.Record) error {
		r.Enqueue(rec)
		return nil
	})
}

// Start 启动后台推送协程；ctx 结束后排空队列、完成最后一次推送再退出。
func (r *Relay) Start(ctx context.Context) {
	r.once.Do(func() { go r.loop(ctx) })
}

// Done 后台协程退出后关闭。
func (r *Relay) Done() <-chan struct{} { return r.done }

// Dropped 因队列满被丢弃的快照数。
func (r *Relay) Dropped() int64 { return r.dropped.Load() }

// Enqueue 推入一条快照（非阻塞，满了会丢弃并告警）。
func (r *Relay) Enqueue(rec *task.Record) bool {
	select {
	case r.ch <- rec:
		return true
	default:
		r.dropped.Add(1)
		logging.L().Warn(logging.WithTaskID(context.Background(), rec.ID), "relay queue full, drop", "status", rec.Status)
		return false
	}
}

func (r *Relay) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	buf := make([]*task.Record, 0, r.max)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		r.flush(buf)
		buf = buf[:0]
	}
	for {
		select {
		case <-ctx.Done():
			if r.src != nil {
				r.src.UnsubscribeAll(r.sub)
			}
			for {
				select {
				case rec := <-r.ch:
					buf = append(buf, rec)
					if len(buf) >= r.max {
						flush()
					}
				default:
					flush()
					r.retry()
					return
				}
			}
		case rec := <-r.ch:
			buf = append(buf, rec)
			if len(buf) >= r.max {
				flush()
			}
		case <-ticker.C:
			if len(buf) == 0 {
				r.retry()
				continue
			}
			flush()
		}
	}
}

// flush 依次推送到每个目标，单个目标失败只告警。
// retry 空闲时让有积压的出口重试。
func (r *Relay) retry() {
	var due []Sink
	for _, s := range r.sinks {
		if rs, ok := s.(Retrier); ok && rs.Pending() > 0 {
			due = append(due, s)
		}
	}
	if len(due) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for _, s := range due {
		if err := s.Send(ctx, nil); err != nil {
			logging.L().Warnf(ctx, "relay %s retry failed: err=%v", s.Name(), err)
		}
	}
}

func (r *Relay) flush(buf []*task.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for _, s := range r.sinks {
		if err := s.Send(ctx, buf); err != nil {
			logging.L().Warnf(ctx, "relay %s failed: count=%d err=%v", s.Name(), len(buf), err)
		}
	}
}
