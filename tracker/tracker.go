// Package tracker 跟踪运行中任务的上下文与取消句柄。
package tracker

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Handle 维护运行中任务的上下文与取消函数。
type Handle struct {
	TaskID    string
	Ctx       context.Context
	Cancel    context.CancelFunc
	StartedAt time.Time
}

// Manager 任务句柄跟踪器。
type Manager struct {
	mu      sync.RWMutex
	running map[string]*Handle
}

// NewManager 构造。
func NewManager() *Manager { return &Manager{running: map[string]*Handle{}} }

// Start 注册任务句柄，上下文派生自 parent。
// 返回：同一ID已在运行时返回 nil,false。
func (m *Manager) Start(parent context.Context, id string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.running[id]; ok {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{TaskID: id, Ctx: ctx, Cancel: cancel, StartedAt: time.Now()}
	m.running[id] = h
	return h, true
}

// Stop 取消任务并移除句柄。
func (m *Manager) Stop(id string) bool {
	m.mu.Lock()
	h, ok := m.running[id]
	delete(m.running, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	h.Cancel()
	return true
}

// Remove 任务退出后移除句柄；只移除同一个句柄，重复调用无副作用。
func (m *Manager) Remove(h *Handle) {
	m.mu.Lock()
	if cur, ok := m.running[h.TaskID]; ok && cur == h {
		delete(m.running, h.TaskID)
	}
	m.mu.Unlock()
	h.Cancel()
}

// StopAll 取消全部任务，返回被取消的数量。
func (m *Manager) StopAll() int {
	m.mu.Lock()
	hs := make([]*Handle, 0, len(m.running))
	for id, h := range m.running {
		hs = append(hs, h)
		delete(m.running, id)
	}
	m.mu.Unlock()
	for _, h := range hs {
		h.Cancel()
	}
	return len(hs)
}

// Get 查询句柄。
func (m *Manager) Get(id string) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.running[id]
	return h, ok
}

// ListIDs 返回当前运行任务ID（有序）。
func (m *Manager) ListIDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len 运行中任务数量。
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.running)
}
