package finsync

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/mengeric/finsync/logging"
	"github.com/mengeric/finsync/task"
)

// latest 只保留最新快照的单槽邮箱；订阅回调不阻塞，终态快照不会丢失。
type latest struct {
	mu   sync.Mutex
	rec  *task.Record
	wake chan struct{}
}

func newLatest() *latest { return &latest{wake: make(chan struct{}, 1)} }

func (l *latest) put(rec *task.Record) error {
	l.mu.Lock()
	l.rec = rec
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

func (l *latest) take() *task.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.rec
	l.rec = nil
	return rec
}

// handleEvents 以 Server-Sent Events 推送任务快照，直到终态、客户端断开或服务关闭。
// 慢客户端只会看到最新进度，中间快照被合并。
func (a *App) handleEvents(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	flusher, ok := rw.(http.Flusher)
	if !ok {
		writeErr(rw, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}
	box := newLatest()
	sub := a.reg.Subscribe(id, box.put)
	defer a.reg.Unsubscribe(id, sub)

	// 先订阅再读快照，避免两者之间的变更丢失。
	rec, ok := a.reg.Get(id)
	if !ok {
		writeErr(rw, http.StatusNotFound, fmt.Errorf("task %s not found", id))
		return
	}
	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")
	rw.WriteHeader(http.StatusOK)

	ctx := logging.WithTaskID(r.Context(), id)
	for {
		if err := writeEvent(rw, rec); err != nil {
			logging.L().Debug(ctx, "event stream closed", "err", err)
			return
		}
		flusher.Flush()
		if rec.Status.IsTerminal() {
			return
		}
		prev := rec
		for rec = nil; rec == nil || older(rec, prev); rec = box.take() {
			select {
			case <-box.wake:
			case <-r.Context().Done():
				return
			case <-a.closing:
				return
			}
		}
	}
}

// older 订阅早于首个快照时可能收到更旧的记录，按状态与进度判断。
func older(next, cur *task.Record) bool {
	if rank(next.Status) != rank(cur.Status) {
		return rank(next.Status) < rank(cur.Status)
	}
	return next.Processed < cur.Processed
}

func rank(s task.Status) int {
	switch {
	case s == task.StatusPending:
		return 0
	case s == task.StatusRunning:
		return 1
	default:
		return 2
	}
}

func writeEvent(w http.ResponseWriter, rec *task.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: task\ndata: %s\n\n", data)
	return err
}
