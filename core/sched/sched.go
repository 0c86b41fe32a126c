package sched

import (
	"sync"
	"time"
)

// Scheduler 定时回调抽象
// 状态机和传输层的所有延时都走这里，测试用 Manual 推进虚拟时间
type Scheduler interface {
	// AfterFunc 在 d 之后执行 fn，返回可取消的句柄
	AfterFunc(d time.Duration, fn func()) Handle
	// Now 返回当前时间
	Now() time.Time
}

// Handle 一次定时回调的取消句柄
type Handle interface {
	// Cancel 取消尚未触发的回调，已触发或已取消时无效果
	Cancel()
}

// New 创建基于真实时钟的调度器
func New() Scheduler {
	return &realScheduler{}
}

type realScheduler struct{}

func (s *realScheduler) AfterFunc(d time.Duration, fn func()) Handle {
	return &realHandle{timer: time.AfterFunc(d, fn)}
}

func (s *realScheduler) Now() time.Time {
	return time.Now()
}

type realHandle struct {
	timer *time.Timer
}

func (h *realHandle) Cancel() {
	h.timer.Stop()
}

// Manual 手动推进的调度器，仅用于测试
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	pending []*manualEntry
}

type manualEntry struct {
	id       int
	deadline time.Time
	fn       func()
	canceled bool
	owner    *Manual
}

// NewManual 创建手动调度器，起始时间取当前时刻
func NewManual() *Manual {
	return &Manual{now: time.Now()}
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	e := &manualEntry{
		id:       m.nextID,
		deadline: m.now.Add(d),
		fn:       fn,
		owner:    m,
	}
	m.pending = append(m.pending, e)
	return e
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance 推进虚拟时间，按到期顺序同步执行到期回调
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		e := m.popNextDue(target)
		if e == nil {
			break
		}
		e.fn()
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

// popNextDue 取出 target 之前最早到期的未取消回调
// 回调执行期间可能注册新的定时器，所以每轮重新扫描
func (m *Manual) popNextDue(target time.Time) *manualEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, e := range m.pending {
		if e.canceled || e.deadline.After(target) {
			continue
		}
		if idx == -1 || e.deadline.Before(m.pending[idx].deadline) ||
			(e.deadline.Equal(m.pending[idx].deadline) && e.id < m.pending[idx].id) {
			idx = i
		}
	}
	if idx == -1 {
		return nil
	}

	e := m.pending[idx]
	m.pending = append(m.pending[:idx], m.pending[idx+1:]...)
	// 执行回调前把虚拟时钟推到其到期时刻
	m.now = e.deadline
	return e
}

// PendingCount 返回未触发的定时器数量
func (m *Manual) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.pending {
		if !e.canceled {
			n++
		}
	}
	return n
}

func (e *manualEntry) Cancel() {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()
	e.canceled = true
}
