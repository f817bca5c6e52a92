package notify

import (
	"sync"

	"spotfolio/config"
	"spotfolio/event"
	"spotfolio/logger"
)

// Notifier 通知渠道
type Notifier interface {
	Send(event *event.Event) error
	Name() string
}

// NotificationService 通知服务
type NotificationService struct {
	notifiers []Notifier
	wg        sync.WaitGroup
}

// NewNotificationService 按配置初始化启用的通知渠道
func NewNotificationService(cfg *config.Config) *NotificationService {
	ns := &NotificationService{}

	if cfg.Notifications.Webhook.Enabled && cfg.Notifications.Webhook.URL != "" {
		webhookNotifier, err := NewWebhookNotifier(cfg)
		if err != nil {
			logger.Warn("⚠️ 初始化 Webhook 通知失败: %v", err)
		} else {
			ns.notifiers = append(ns.notifiers, webhookNotifier)
			logger.Info("✅ Webhook 通知已启用")
		}
	}
	return ns
}

// AddNotifier 追加通知渠道
func (ns *NotificationService) AddNotifier(n Notifier) {
	ns.notifiers = append(ns.notifiers, n)
}

// Enabled 是否有可用的通知渠道
func (ns *NotificationService) Enabled() bool {
	return len(ns.notifiers) > 0
}

// Send 异步发送到所有渠道，不阻塞调用方
func (ns *NotificationService) Send(evt *event.Event) {
	if evt == nil || len(ns.notifiers) == 0 {
		return
	}

	for _, n := range ns.notifiers {
		ns.wg.Add(1)
		go func(n Notifier) {
			defer ns.wg.Done()
			if err := n.Send(evt); err != nil {
				logger.Warn("⚠️ [%s] 通知发送失败: %v", n.Name(), err)
			}
		}(n)
	}
}

// Wait 等待已发出的通知完成
func (ns *NotificationService) Wait() {
	ns.wg.Wait()
}
