package finsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/mengeric/finsync/metrics"
	"github.com/mengeric/finsync/processor"
	"github.com/mengeric/finsync/storage"
	"github.com/mengeric/finsync/task"
)

// Handler 返回挂载全部路由的 http.Handler。
// 端点：
//   - POST /tasks/{type}、GET /tasks、GET /tasks/{id}、POST /tasks/{id}/cancel、GET /tasks/{id}/events
//   - POST /maintenance/cleanup、GET /history、GET /stats
func (a *App) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/tasks", a.handleList).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{type}", a.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}", a.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}/cancel", a.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}/events", a.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/maintenance/cleanup", a.handleCleanup).Methods(http.MethodPost)
	r.HandleFunc("/history", a.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)
	return r
}

// submitReq 创建任务请求体，body 可为空。
type submitReq struct {
	Params map[string]any `json:"params"`
}

// handleSubmit 创建任务并立即执行。
func (a *App) handleSubmit(rw http.ResponseWriter, r *http.Request) {
	var req submitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeErr(rw, http.StatusBadRequest, err)
		return
	}
	id, err := a.Submit(mux.Vars(r)["type"], req.Params)
	switch {
	case errors.Is(err, processor.ErrNotFound):
		writeErr(rw, http.StatusNotFound, err)
		return
	case errors.Is(err, ErrClosed):
		writeErr(rw, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		writeErr(rw, http.StatusInternalServerError, err)
		return
	}
	rw.Header().Set("Location", "/tasks/"+id)
	writeJSONStatus(rw, http.StatusAccepted, map[string]string{"id": id})
}

// handleList 按类型列出任务。
func (a *App) handleList(rw http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		writeErr(rw, http.StatusBadRequest, err)
		return
	}
	writeJSON(rw, a.reg.List(r.URL.Query().Get("type"), limit))
}

// handleGet 查询单个任务快照。
func (a *App) handleGet(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok := a.reg.Get(id)
	if !ok {
		writeErr(rw, http.StatusNotFound, fmt.Errorf("task %s not found", id))
		return
	}
	writeJSON(rw, rec)
}

// handleCancel 请求取消；状态由任务协程退出后落定。
func (a *App) handleCancel(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, map[string]bool{"cancelled": a.reg.Cancel(mux.Vars(r)["id"])})
}

// handleCleanup 手动清理终态任务，maxAge 缺省为配置的保留时长。
func (a *App) handleCleanup(rw http.ResponseWriter, r *http.Request) {
	maxAge := a.cfg.Tasks.Retention
	if v := r.URL.Query().Get("maxAge"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeErr(rw, http.StatusBadRequest, fmt.Errorf("invalid maxAge %q", v))
			return
		}
		maxAge = d
	}
	writeJSON(rw, map[string]int{"removed": a.reg.Cleanup(maxAge)})
}

// handleHistory 读取归档的终态任务。
func (a *App) handleHistory(rw http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		writeErr(rw, http.StatusBadRequest, err)
		return
	}
	out, err := a.store.History(r.Context(), r.URL.Query().Get("type"), limit)
	if err != nil {
		writeErr(rw, http.StatusInternalServerError, err)
		return
	}
	if out == nil {
		out = []storage.ArchivedTask{}
	}
	writeJSON(rw, out)
}

// statsResp 运行统计。
type statsResp struct {
	Counts       map[task.Status]int `json:"counts"`
	Running      []string            `json:"running"`
	RelayDropped int64               `json:"relay_dropped"`
	Host         metrics.Snapshot    `json:"host"`
}

func (a *App) handleStats(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, statsResp{
		Counts:       a.reg.Counts(),
		Running:      a.exec.Running(),
		RelayDropped: a.relay.Dropped(),
		Host:         metrics.Collect(r.Context(), ""),
	})
}

// intParam 读取可选的整数查询参数，缺省为 0。
func intParam(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

// writeErr/JSON 公共返回工具。
func writeErr(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": err.Error()})
}

func writeJSON(w http.ResponseWriter, v any) { writeJSONStatus(w, http.StatusOK, v) }

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
