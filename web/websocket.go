package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"spotfolio/logger"
	"spotfolio/storage"
	"spotfolio/stream"
	"spotfolio/utils"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	// 只监听本机地址，允许任意来源
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient 每个连接一个写协程，所有输出都走 send
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn, send: make(chan []byte, 256), done: make(chan struct{})}
}

func (cl *wsClient) close() {
	cl.once.Do(func() { close(cl.done) })
}

// enqueue 缓冲满或连接已关闭时丢弃，慢客户端不拖累推送
func (cl *wsClient) enqueue(msg []byte) {
	select {
	case <-cl.done:
	case cl.send <- msg:
	default:
	}
}

// wsMessage 客户端请求
// {"action":"subscribe","symbol":"BTCUSDT"} / {"action":"unsubscribe","symbol":"BTCUSDT"}
type wsMessage struct {
	Action string `json:"action"`
	Symbol string `json:"symbol"`
}

// WebSocketHub 连接管理与价格扇出，同一交易对只向价格流订阅一次
type WebSocketHub struct {
	mu      sync.Mutex
	clients map[*wsClient]map[string]bool
	symbols map[string]map[*wsClient]bool
}

var (
	hub          = newHub()
	logStorage   *storage.LogStorage
	logStorageMu sync.RWMutex
)

func newHub() *WebSocketHub {
	return &WebSocketHub{
		clients: make(map[*wsClient]map[string]bool),
		symbols: make(map[string]map[*wsClient]bool),
	}
}

// SetLogStorage 设置日志存储（用于实时推送）
func SetLogStorage(ls *storage.LogStorage) {
	logStorageMu.Lock()
	defer logStorageMu.Unlock()
	logStorage = ls
}

func (h *WebSocketHub) register(cl *wsClient) {
	h.mu.Lock()
	h.clients[cl] = make(map[string]bool)
	h.mu.Unlock()
}

// unregister 移除连接，返回不再有人关注的交易对
func (h *WebSocketHub) unregister(cl *wsClient) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var orphaned []string
	for sym := range h.clients[cl] {
		delete(h.symbols[sym], cl)
		if len(h.symbols[sym]) == 0 {
			delete(h.symbols, sym)
			orphaned = append(orphaned, sym)
		}
	}
	delete(h.clients, cl)
	cl.close()
	return orphaned
}

// join 返回 true 表示该交易对的第一个订阅者
func (h *WebSocketHub) join(cl *wsClient, symbol string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.clients[cl]
	if !ok || subs[symbol] {
		return false
	}
	subs[symbol] = true
	first := len(h.symbols[symbol]) == 0
	if first {
		h.symbols[symbol] = make(map[*wsClient]bool)
	}
	h.symbols[symbol][cl] = true
	return first
}

// leave 返回 true 表示最后一个订阅者已离开
func (h *WebSocketHub) leave(cl *wsClient, symbol string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.clients[cl]
	if !ok || !subs[symbol] {
		return false
	}
	delete(subs, symbol)
	delete(h.symbols[symbol], cl)
	if len(h.symbols[symbol]) == 0 {
		delete(h.symbols, symbol)
		return true
	}
	return false
}

// onPrice 价格流回调
func (h *WebSocketHub) onPrice(ev stream.PriceEvent) {
	data, err := json.Marshal(gin.H{"type": "price", "data": ev})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.symbols[ev.Symbol] {
		cl.enqueue(data)
	}
}

// Broadcast 推送给所有连接
func (h *WebSocketHub) Broadcast(msgType string, payload interface{}) {
	data, err := json.Marshal(gin.H{"type": msgType, "data": payload})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		cl.enqueue(data)
	}
}

// BroadcastEvent 推送事件中心的消息
func BroadcastEvent(payload interface{}) {
	hub.Broadcast("event", payload)
}

func (h *WebSocketHub) subscribe(cl *wsClient, symbol string) {
	p := getProviders()
	if p.Stream == nil {
		cl.enqueue(mustJSON(gin.H{"type": "error", "error": "price stream unavailable"}))
		return
	}
	if h.join(cl, symbol) {
		state := p.Stream.Subscribe(symbol, h.onPrice)
		logger.Debug("📡 [WS] 订阅 %s: %s", symbol, state)
	}
	state := p.Stream.States()[symbol]
	cl.enqueue(mustJSON(gin.H{"type": "subscribed", "symbol": symbol, "state": state}))
}

func (h *WebSocketHub) unsubscribe(cl *wsClient, symbol string) {
	if h.leave(cl, symbol) {
		if p := getProviders(); p.Stream != nil {
			p.Stream.Unsubscribe(symbol)
		}
	}
	cl.enqueue(mustJSON(gin.H{"type": "unsubscribed", "symbol": symbol}))
}

func mustJSON(v interface{}) []byte {
	data, _ := json.Marshal(v)
	return data
}

func (cl *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case <-cl.done:
			cl.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket /ws?subscribe_logs=true&symbols=BTCUSDT,ETHUSDT
func handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	cl := newWSClient(conn)
	hub.register(cl)
	go cl.writePump()

	defer func() {
		for _, sym := range hub.unregister(cl) {
			if p := getProviders(); p.Stream != nil {
				p.Stream.Unsubscribe(sym)
			}
		}
	}()

	if c.Query("subscribe_logs") == "true" {
		logStorageMu.RLock()
		ls := logStorage
		logStorageMu.RUnlock()
		if ls != nil {
			logCh := ls.Subscribe()
			defer ls.Unsubscribe(logCh)
			go func() {
				for rec := range logCh {
					cl.enqueue(mustJSON(gin.H{"type": "log", "data": rec}))
				}
			}()
		}
	}

	for _, sym := range splitSymbols(c.Query("symbols")) {
		hub.subscribe(cl, sym)
	}

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		symbol := utils.NormalizeSymbol(msg.Symbol)
		if symbol == "" {
			continue
		}
		switch msg.Action {
		case "subscribe":
			hub.subscribe(cl, symbol)
		case "unsubscribe":
			hub.unsubscribe(cl, symbol)
		}
	}
}

func splitSymbols(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if sym := utils.NormalizeSymbol(part); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}
