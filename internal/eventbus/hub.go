package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// 事件类型
const (
	TypeRunStarted    = "run_started"
	TypeRunCompleted  = "run_completed"
	TypeRunCancelled  = "run_cancelled"
	TypeRecordAdded   = "record_added"
	TypeRecordDeleted = "record_deleted"
	TypeRecordUpdated = "record_updated"
	TypeStatsResynced = "stats_resynced"
)

// Event 推送给订阅者（SSE 等）的通知，只读
type Event struct {
	Seq       uint64         `json:"seq"`
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Hub 进程内广播，慢订阅者丢消息而不阻塞写入方
type Hub struct {
	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Emit 按类型发布事件
func (h *Hub) Emit(eventType string, data map[string]any) {
	h.Publish(Event{Type: eventType, Data: data})
}

// Publish 分配序号后广播；订阅者缓冲满时计入 Dropped
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	evt.Seq = h.seq.Add(1)
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe 订阅直到 ctx 结束，随后关闭返回的通道
func (h *Hub) Subscribe(ctx context.Context, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

// Subscribers 当前订阅者数量
func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped 因订阅者缓冲满而丢弃的事件数
func (h *Hub) Dropped() uint64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// LastSeq 最近发布的事件序号
func (h *Hub) LastSeq() uint64 {
	if h == nil {
		return 0
	}
	return h.seq.Load()
}
