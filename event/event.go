package event

import (
	"sync"
	"time"

	"spotfolio/logger"
)

// EventType 事件类型
type EventType string

const (
	EventTypeRateLimited       EventType = "rate_limited"
	EventTypeIPBanned          EventType = "ip_banned"
	EventTypeStreamFallback    EventType = "stream_fallback"
	EventTypeStreamConnected   EventType = "stream_connected"
	EventTypeManualFillAdded   EventType = "manual_fill_added"
	EventTypeManualFillDeleted EventType = "manual_fill_deleted"
	EventTypeMappingAdded      EventType = "mapping_added"
	EventTypeMappingRemoved    EventType = "mapping_removed"
	EventTypeConfigReloaded    EventType = "config_reloaded"
	EventTypeError             EventType = "error"
)

// Event 事件结构
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Publisher 只发布事件的一方
type Publisher interface {
	Publish(event *Event)
}

// EventBus 事件总线，每个订阅者一个缓冲 channel
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan *Event
	bufferSize  int
	closed      bool
}

// NewEventBus 创建事件总线
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventBus{bufferSize: bufferSize}
}

// Publish 发布事件（非阻塞），订阅者队列满时丢弃
func (eb *EventBus) Publish(event *Event) {
	if eb == nil || event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			logger.Warn("⚠️ 事件队列已满，丢弃事件: %s", event.Type)
		}
	}
}

// Subscribe 订阅事件
func (eb *EventBus) Subscribe() <-chan *Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan *Event, eb.bufferSize)
	if eb.closed {
		close(ch)
		return ch
	}
	eb.subscribers = append(eb.subscribers, ch)
	return ch
}

// Unsubscribe 取消订阅
func (eb *EventBus) Unsubscribe(sub <-chan *Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for i, ch := range eb.subscribers {
		if ch == sub {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Close 关闭事件总线
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for _, ch := range eb.subscribers {
		close(ch)
	}
	eb.subscribers = nil
}

type discard struct{}

func (discard) Publish(*Event) {}

// Discard 丢弃所有事件的 Publisher
var Discard Publisher = discard{}
