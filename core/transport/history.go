package transport

import (
	"sync"

	"BridgeFM/model"
)

// DefaultHistoryCapacity 重放缓冲默认容量
const DefaultHistoryCapacity = 50

// HistoryBuffer 待重放的上报载荷队列
// 有界先进先出，溢出时丢弃最旧的一条
type HistoryBuffer struct {
	mu       sync.Mutex
	items    []model.NowPlayingPayload
	capacity int
}

// NewHistoryBuffer 创建重放缓冲
func NewHistoryBuffer(capacity int) *HistoryBuffer {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &HistoryBuffer{capacity: capacity}
}

// Append 追加一条载荷，满时先丢弃最旧的
func (h *HistoryBuffer) Append(p model.NowPlayingPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.items) >= h.capacity {
		h.items = h.items[1:]
	}
	h.items = append(h.items, p)
}

// PushFront 把载荷放回队首，重放失败时使用
func (h *HistoryBuffer) PushFront(ps []model.NowPlayingPayload) {
	if len(ps) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items = append(append([]model.NowPlayingPayload{}, ps...), h.items...)
	if overflow := len(h.items) - h.capacity; overflow > 0 {
		h.items = h.items[overflow:]
	}
}

// DrainAll 取出并清空全部载荷，保持原始顺序
func (h *HistoryBuffer) DrainAll() []model.NowPlayingPayload {
	h.mu.Lock()
	defer h.mu.Unlock()

	items := h.items
	h.items = nil
	return items
}

// Items 返回当前载荷的副本
func (h *HistoryBuffer) Items() []model.NowPlayingPayload {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]model.NowPlayingPayload, len(h.items))
	copy(out, h.items)
	return out
}

// Len 返回当前积压条数
func (h *HistoryBuffer) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

// Clear 清空缓冲
func (h *HistoryBuffer) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = nil
}
