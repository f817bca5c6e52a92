package event

import (
	"context"
	"fmt"
	"sync"

	"spotfolio/logger"
)

// Severity 事件严重程度
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// NotificationService 通知服务接口
type NotificationService interface {
	Send(event *Event)
}

// Record 事件中心保留的事件
type Record struct {
	*Event
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// EventCenter 消费事件总线：记录日志、保留最近事件、转发通知
type EventCenter struct {
	eventBus *EventBus
	notifier NotificationService
	capacity int

	mu     sync.RWMutex
	recent []*Record

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventCenter notifier 可为 nil
func NewEventCenter(eventBus *EventBus, notifier NotificationService, capacity int) *EventCenter {
	if capacity <= 0 {
		capacity = 200
	}
	return &EventCenter{
		eventBus: eventBus,
		notifier: notifier,
		capacity: capacity,
	}
}

// Start 启动事件处理协程
func (ec *EventCenter) Start(ctx context.Context) {
	ctx, ec.cancel = context.WithCancel(ctx)
	ch := ec.eventBus.Subscribe()

	ec.wg.Add(1)
	go func() {
		defer ec.wg.Done()
		defer ec.eventBus.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				ec.handleEvent(evt)
			}
		}
	}()
	logger.Info("✅ 事件中心已启动")
}

// Stop 停止事件中心
func (ec *EventCenter) Stop() {
	if ec.cancel != nil {
		ec.cancel()
	}
	ec.wg.Wait()
}

func (ec *EventCenter) handleEvent(evt *Event) {
	if evt == nil {
		return
	}
	severity := GetEventSeverity(evt.Type)
	rec := &Record{Event: evt, Severity: severity, Message: Describe(evt)}

	switch severity {
	case SeverityCritical:
		logger.Error("🚨 %s", rec.Message)
	case SeverityWarning:
		logger.Warn("⚠️ %s", rec.Message)
	default:
		logger.Debug("📌 %s", rec.Message)
	}

	ec.mu.Lock()
	ec.recent = append(ec.recent, rec)
	if len(ec.recent) > ec.capacity {
		ec.recent = ec.recent[len(ec.recent)-ec.capacity:]
	}
	ec.mu.Unlock()

	if ec.notifier != nil && severity == SeverityCritical {
		ec.notifier.Send(evt)
	}
}

// Recent 最近的事件，新的在前
func (ec *EventCenter) Recent(limit int) []*Record {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	if limit <= 0 || limit > len(ec.recent) {
		limit = len(ec.recent)
	}
	out := make([]*Record, 0, limit)
	for i := len(ec.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, ec.recent[i])
	}
	return out
}

// GetEventSeverity 事件严重程度
func GetEventSeverity(t EventType) Severity {
	switch t {
	case EventTypeIPBanned, EventTypeError:
		return SeverityCritical
	case EventTypeRateLimited, EventTypeStreamFallback:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Describe 事件的可读描述
func Describe(evt *Event) string {
	symbol, _ := evt.Data["symbol"].(string)
	switch evt.Type {
	case EventTypeIPBanned:
		return fmt.Sprintf("IP 已被交易所封禁 (%v)，直到 %v", evt.Data["endpoint"], evt.Data["banned_until"])
	case EventTypeRateLimited:
		return fmt.Sprintf("请求被限流: %s", symbol)
	case EventTypeStreamFallback:
		return fmt.Sprintf("%s 推送不可用，改为轮询: %v", symbol, evt.Data["reason"])
	case EventTypeStreamConnected:
		return "价格推送连接已建立"
	case EventTypeManualFillAdded:
		return fmt.Sprintf("新增手动订单 %s #%v", symbol, evt.Data["id"])
	case EventTypeManualFillDeleted:
		return fmt.Sprintf("删除手动订单 %s #%v", symbol, evt.Data["id"])
	case EventTypeMappingAdded:
		return fmt.Sprintf("新增交易对映射 %v -> %v", evt.Data["invalid"], evt.Data["valid"])
	case EventTypeMappingRemoved:
		return fmt.Sprintf("删除交易对映射 %v", evt.Data["invalid"])
	case EventTypeConfigReloaded:
		return fmt.Sprintf("配置已热更新: %v", evt.Data["changes"])
	default:
		return fmt.Sprintf("%s %v", evt.Type, evt.Data)
	}
}
