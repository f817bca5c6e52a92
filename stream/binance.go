package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"spotfolio/logger"
)

const DefaultBinanceURL = "wss://stream.binance.com:9443/ws"

// BinanceOptions 行情推送连接参数
type BinanceOptions struct {
	URL              string
	PongWait         time.Duration
	WriteWait        time.Duration
	SubscribeTimeout time.Duration
	Dialer           *websocket.Dialer
}

// BinanceTransport 币安现货 @ticker 推送
type BinanceTransport struct {
	opts   BinanceOptions
	nextID atomic.Int64

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	pending map[int64]chan error

	writeMu sync.Mutex
}

// NewBinanceTransport 创建推送连接（不会立即连接）
func NewBinanceTransport(opts BinanceOptions) *BinanceTransport {
	if opts.URL == "" {
		opts.URL = DefaultBinanceURL
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.SubscribeTimeout <= 0 {
		opts.SubscribeTimeout = 5 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &BinanceTransport{opts: opts, pending: map[int64]chan error{}}
}

// wsMessage 订阅应答和 24hrTicker 共用的结构
// 大写字段单独声明，避免 E/C 与 e/c 大小写不敏感匹配
type wsMessage struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`

	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Last      string `json:"c"`
	CloseTime int64  `json:"C"`
}

// Connect 建立连接并启动读循环
func (t *BinanceTransport) Connect(ctx context.Context, onTick TickHandler, onError func(error)) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	conn, _, err := t.opts.Dialer.DialContext(ctx, t.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: 连接 %s 失败: %v", ErrTransport, t.opts.URL, err)
	}

	extend := func() { conn.SetReadDeadline(time.Now().Add(t.opts.PongWait)) }
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	// 服务端每 3 分钟发送 ping，需要回复 pong
	conn.SetPingHandler(func(data string) error {
		extend()
		t.writeMu.Lock()
		defer t.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(t.opts.WriteWait))
	})

	done := make(chan struct{})
	t.mu.Lock()
	t.conn = conn
	t.done = done
	t.mu.Unlock()

	go t.readLoop(conn, done, onTick, onError)
	go t.pingLoop(conn, done)

	logger.Info("✅ [行情推送] 已连接 %s", t.opts.URL)
	return nil
}

func (t *BinanceTransport) readLoop(conn *websocket.Conn, done chan struct{}, onTick TickHandler, onError func(error)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("❌ [行情推送] 消息处理 panic: %v", r)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			current := t.conn == conn
			if current {
				t.conn = nil
				close(done)
			}
			t.failPending(fmt.Errorf("%w: 连接已断开", ErrTransport))
			t.mu.Unlock()
			conn.Close()

			if current && onError != nil {
				onError(fmt.Errorf("%w: %v", ErrTransport, err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(t.opts.PongWait))
		t.handleMessage(data, onTick)
	}
}

func (t *BinanceTransport) handleMessage(data []byte, onTick TickHandler) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Debug("[行情推送] 无法解析消息: %v", err)
		return
	}

	if msg.ID != nil {
		var ackErr error
		if msg.Error != nil {
			ackErr = fmt.Errorf("%w: 订阅被拒绝 %d %s", ErrTransport, msg.Error.Code, msg.Error.Msg)
		}
		t.mu.Lock()
		if ch, ok := t.pending[*msg.ID]; ok {
			ch <- ackErr
			delete(t.pending, *msg.ID)
		}
		t.mu.Unlock()
		return
	}

	if msg.Event != "24hrTicker" || msg.Symbol == "" {
		return
	}
	price, err := strconv.ParseFloat(msg.Last, 64)
	if err != nil || price <= 0 {
		return
	}
	if onTick != nil {
		onTick(strings.ToUpper(msg.Symbol), price)
	}
}

// failPending 调用方持有 t.mu
func (t *BinanceTransport) failPending(err error) {
	for id, ch := range t.pending {
		ch <- err
		delete(t.pending, id)
	}
}

func (t *BinanceTransport) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(t.opts.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.opts.WriteWait))
			t.writeMu.Unlock()
			if err != nil {
				logger.Debug("[行情推送] 发送 ping 失败: %v", err)
				return
			}
		}
	}
}

// request 发送 SUBSCRIBE/UNSUBSCRIBE 并等待应答
func (t *BinanceTransport) request(ctx context.Context, method, symbol string) error {
	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return fmt.Errorf("%w: 未连接", ErrTransport)
	}
	id := t.nextID.Add(1)
	ack := make(chan error, 1)
	t.pending[id] = ack
	t.mu.Unlock()

	cleanup := func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}

	payload := map[string]interface{}{
		"method": method,
		"params": []string{strings.ToLower(symbol) + "@ticker"},
		"id":     id,
	}
	t.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(t.opts.WriteWait))
	err := conn.WriteJSON(payload)
	t.writeMu.Unlock()
	if err != nil {
		cleanup()
		return fmt.Errorf("%w: 发送 %s 失败: %v", ErrTransport, method, err)
	}

	timer := time.NewTimer(t.opts.SubscribeTimeout)
	defer timer.Stop()
	select {
	case err := <-ack:
		return err
	case <-timer.C:
		cleanup()
		return fmt.Errorf("%w: 等待 %s %s 应答超时", ErrTransport, method, symbol)
	case <-ctx.Done():
		cleanup()
		return ctx.Err()
	}
}

// Subscribe 订阅交易对 ticker
func (t *BinanceTransport) Subscribe(ctx context.Context, symbol string) error {
	return t.request(ctx, "SUBSCRIBE", symbol)
}

// Unsubscribe 取消订阅
func (t *BinanceTransport) Unsubscribe(ctx context.Context, symbol string) error {
	return t.request(ctx, "UNSUBSCRIBE", symbol)
}

// Close 主动关闭，不会触发 onError
func (t *BinanceTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return nil
	}
	t.conn = nil
	close(t.done)
	t.failPending(fmt.Errorf("%w: 连接已关闭", ErrTransport))
	t.mu.Unlock()

	t.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(t.opts.WriteWait))
	t.writeMu.Unlock()

	logger.Info("[行情推送] 连接已关闭")
	return conn.Close()
}
