package web

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("连接 websocket 失败: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readType 读到指定类型的消息为止
func readType(t *testing.T, conn *websocket.Conn, typ string) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("等待 %s 消息失败: %v", typ, err)
		}
		var msg map[string]interface{}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg["type"] == typ {
			return msg
		}
	}
}

func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("超时: %s", what)
}

func TestWebSocketPriceFanOut(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	a := dialWS(t, srv, "?symbols=btcusdt")
	readType(t, a, "subscribed")

	b := dialWS(t, srv, "")
	if err := b.WriteJSON(wsMessage{Action: "subscribe", Symbol: "BTCUSDT"}); err != nil {
		t.Fatal(err)
	}
	readType(t, b, "subscribed")

	if calls, _ := env.stream.counts("BTCUSDT"); calls != 1 {
		t.Errorf("同一交易对应只向价格流订阅一次, 得到 %d", calls)
	}

	if !env.stream.emit("BTCUSDT", 43210) {
		t.Fatal("价格流未收到回调")
	}
	for _, conn := range []*websocket.Conn{a, b} {
		msg := readType(t, conn, "price")
		data := msg["data"].(map[string]interface{})
		if data["symbol"] != "BTCUSDT" || data["price"] != 43210.0 {
			t.Errorf("价格消息错误: %v", data)
		}
	}

	// 一个连接退订后价格流仍保留
	if err := b.WriteJSON(wsMessage{Action: "unsubscribe", Symbol: "BTCUSDT"}); err != nil {
		t.Fatal(err)
	}
	readType(t, b, "unsubscribed")
	if _, unsubs := env.stream.counts("BTCUSDT"); unsubs != 0 {
		t.Errorf("仍有订阅者时不应退订价格流")
	}

	// 最后一个连接断开后退订
	a.Close()
	waitUntil(t, func() bool {
		_, unsubs := env.stream.counts("BTCUSDT")
		return unsubs == 1
	}, "最后一个订阅者断开后退订价格流")
}

func TestSplitSymbols(t *testing.T) {
	got := splitSymbols(" btc-usdt, ,ETH/BTC")
	if len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "ETHBTC" {
		t.Errorf("解析交易对列表错误: %v", got)
	}
}
