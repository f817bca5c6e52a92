package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"spotfolio/config"
	"spotfolio/event"
)

func TestWebhookNotifierSend(t *testing.T) {
	var (
		mu  sync.Mutex
		got map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type 错误: %s", r.Header.Get("Content-Type"))
		}
		mu.Lock()
		json.NewDecoder(r.Body).Decode(&got)
		mu.Unlock()
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Notifications.Webhook.Enabled = true
	cfg.Notifications.Webhook.URL = srv.URL

	ns := NewNotificationService(cfg)
	if !ns.Enabled() {
		t.Fatal("Webhook 应已启用")
	}

	ns.Send(&event.Event{
		Type:      event.EventTypeIPBanned,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"endpoint": "ticker"},
	})
	ns.Wait()

	mu.Lock()
	defer mu.Unlock()
	if got["type"] != "ip_banned" || got["severity"] != "critical" {
		t.Errorf("推送内容错误: %v", got)
	}
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Notifications.Webhook.URL = srv.URL
	wn, err := NewWebhookNotifier(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := wn.Send(&event.Event{Type: event.EventTypeError}); err == nil {
		t.Error("非 2xx 状态码应返回错误")
	}
}

func TestWebhookNotifierRequiresURL(t *testing.T) {
	if _, err := NewWebhookNotifier(&config.Config{}); err == nil {
		t.Error("缺少 URL 应报错")
	}
}

func TestWebhookNotifierThrottleAndRetry(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
		text  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		text, _ = body["text"].(string)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Notifications.Webhook.URL = srv.URL
	wn, err := NewWebhookNotifier(cfg)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	evt := &event.Event{Type: event.EventTypeRateLimited, Timestamp: now, Data: map[string]interface{}{"symbol": "BTCUSDT"}}
	if err := wn.Send(evt); err != nil {
		t.Fatalf("5xx 后重试应成功: %v", err)
	}
	// 冷却期内的同类事件不再推送
	wn.Send(&event.Event{Type: event.EventTypeRateLimited, Timestamp: now.Add(10 * time.Second), Data: evt.Data})
	// 其他交易对不受影响
	wn.Send(&event.Event{Type: event.EventTypeRateLimited, Timestamp: now.Add(10 * time.Second), Data: map[string]interface{}{"symbol": "ETHUSDT"}})

	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Errorf("期望 3 次请求（含一次重试）, 实际 %d", calls)
	}
	if text != "[spotfolio] 请求被限流: ETHUSDT" {
		t.Errorf("text 字段错误: %q", text)
	}
}
