package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"spotfolio/config"
	"spotfolio/event"
)

// webhookCooldown 同类事件（类型 + 交易对）的最小推送间隔
const webhookCooldown = time.Minute

// WebhookNotifier Webhook 通知器，body 里带 text 字段，可直接对接 Slack/Discord 类的入站 Webhook
type WebhookNotifier struct {
	url      string
	timeout  time.Duration
	client   *http.Client
	cooldown time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewWebhookNotifier 创建 Webhook 通知器
func NewWebhookNotifier(cfg *config.Config) (*WebhookNotifier, error) {
	hook := cfg.Notifications.Webhook
	if hook.URL == "" {
		return nil, fmt.Errorf("Webhook URL 未配置")
	}

	timeout := time.Duration(hook.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &WebhookNotifier{
		url:      hook.URL,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		cooldown: webhookCooldown,
		lastSent: make(map[string]time.Time),
	}, nil
}

// Name 返回通知器名称
func (wn *WebhookNotifier) Name() string {
	return "Webhook"
}

// throttled 封禁期间每次请求都会产生事件，冷却期内只推一次
func (wn *WebhookNotifier) throttled(evt *event.Event) bool {
	symbol, _ := evt.Data["symbol"].(string)
	key := string(evt.Type) + "|" + symbol

	wn.mu.Lock()
	defer wn.mu.Unlock()
	if last, ok := wn.lastSent[key]; ok && evt.Timestamp.Sub(last) < wn.cooldown {
		return true
	}
	wn.lastSent[key] = evt.Timestamp
	return false
}

// Send 推送事件，5xx 和网络错误重试一次
func (wn *WebhookNotifier) Send(evt *event.Event) error {
	if wn.throttled(evt) {
		return nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"source":    "spotfolio",
		"type":      string(evt.Type),
		"severity":  string(event.GetEventSeverity(evt.Type)),
		"text":      fmt.Sprintf("[spotfolio] %s", event.Describe(evt)),
		"timestamp": evt.Timestamp.Format(time.RFC3339),
		"data":      evt.Data,
	})
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	retry, err := wn.post(body)
	if err != nil && retry {
		time.Sleep(500 * time.Millisecond)
		_, err = wn.post(body)
	}
	return err
}

func (wn *WebhookNotifier) post(body []byte) (retry bool, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), wn.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wn.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := wn.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode >= 500, fmt.Errorf("Webhook 返回错误状态码: %d", resp.StatusCode)
	}
	return false, nil
}
