package services

import (
	"sync"
	"sync/atomic"

	"tunnel-keeper/internal/models"
)

const defaultEventBuffer = 64

/**
 * EventHub 生命周期事件的广播
 * @description
 * - 每个订阅者一个有缓冲的channel
 * - 订阅者处理太慢时丢弃事件，不阻塞注册表
 * - nil的EventHub可以安全调用Publish
 */
type EventHub struct {
	mu      sync.RWMutex
	subs    map[int]chan models.TunnelEvent
	nextID  int
	buffer  int
	dropped atomic.Int64
	closed  bool
}

func NewEventHub(buffer int) *EventHub {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &EventHub{
		subs:   make(map[int]chan models.TunnelEvent),
		buffer: buffer,
	}
}

/**
 * Subscribe to lifecycle events
 * @returns {<-chan models.TunnelEvent} event channel, closed on cancel or hub close
 * @returns {func()} cancel function, safe to call more than once
 */
func (h *EventHub) Subscribe() (<-chan models.TunnelEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan models.TunnelEvent, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

func (h *EventHub) Publish(ev models.TunnelEvent) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped 因订阅者过慢被丢弃的事件数
func (h *EventHub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close 关闭所有订阅者的channel，之后的Subscribe立即返回已关闭的channel
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
