package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// failingTransport 永远连接失败
type failingTransport struct {
	mu       sync.Mutex
	attempts int
}

func (f *failingTransport) Connect(ctx context.Context, onTick TickHandler, onError func(error)) error {
	f.mu.Lock()
	f.attempts++
	f.mu.Unlock()
	return fmt.Errorf("%w: dial refused", ErrTransport)
}
func (f *failingTransport) Subscribe(ctx context.Context, symbol string) error   { return ErrTransport }
func (f *failingTransport) Unsubscribe(ctx context.Context, symbol string) error { return ErrTransport }
func (f *failingTransport) Close() error                                         { return nil }

// fakeTransport 可手动推送价格和制造断线
type fakeTransport struct {
	mu           sync.Mutex
	onTick       TickHandler
	onError      func(error)
	connects     int
	subscribed   map[string]bool
	unsubscribed []string
	closed       bool
	subErr       error
	subDelay     time.Duration
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subscribed: map[string]bool{}}
}

func (f *fakeTransport) Connect(ctx context.Context, onTick TickHandler, onError func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.onTick = onTick
	f.onError = onError
	return nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, symbol string) error {
	if f.subDelay > 0 {
		time.Sleep(f.subDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.subscribed[symbol] = true
	return nil
}

func (f *fakeTransport) Unsubscribe(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribed, symbol)
	f.unsubscribed = append(f.unsubscribed, symbol)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) tick(symbol string, price float64) {
	f.mu.Lock()
	cb := f.onTick
	f.mu.Unlock()
	cb(symbol, price)
}

func (f *fakeTransport) fail(err error) {
	f.mu.Lock()
	cb := f.onError
	f.mu.Unlock()
	cb(err)
}

// countingPrices 记录轮询调用
type countingPrices struct {
	mu    sync.Mutex
	calls map[string]int
	price float64
}

func (c *countingPrices) GetPrice(ctx context.Context, symbol string, useCache bool) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[symbol]++
	if !useCache {
		return 0, errors.New("轮询应使用缓存")
	}
	return c.price, nil
}

func (c *countingPrices) count(symbol string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[symbol]
}

// collector 线程安全地收集回调
type collector struct {
	mu     sync.Mutex
	events []PriceEvent
}

func (c *collector) add(e PriceEvent) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *collector) snapshot() []PriceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PriceEvent(nil), c.events...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("等待条件超时")
}

func TestFailingTransportFallsBackToPolling(t *testing.T) {
	transport := &failingTransport{}
	prices := &countingPrices{price: 43000}
	s := New(transport, prices, Options{PollInterval: 30 * time.Millisecond})
	defer s.CloseAll()

	var got collector
	if state := s.Subscribe("btcusdt", got.add); state != StatePolling {
		t.Fatalf("连接失败应进入轮询, 得到 %s", state)
	}

	waitFor(t, 2*time.Second, func() bool { return len(got.snapshot()) >= 3 })

	events := got.snapshot()
	for _, e := range events {
		if e.Symbol != "BTCUSDT" || e.Price != 43000 || e.Source != SourcePoll {
			t.Errorf("轮询事件错误: %+v", e)
		}
	}
	// 间隔大致等于轮询周期
	if gap := events[2].Time.Sub(events[1].Time); gap < 20*time.Millisecond {
		t.Errorf("轮询间隔过短: %v", gap)
	}
}

func TestPollingStopsAfterUnsubscribe(t *testing.T) {
	prices := &countingPrices{price: 1}
	s := New(nil, prices, Options{PollInterval: 20 * time.Millisecond})
	defer s.CloseAll()

	var got collector
	s.Subscribe("ETHUSDT", got.add)
	waitFor(t, time.Second, func() bool { return prices.count("ETHUSDT") >= 1 })

	s.Unsubscribe("ETHUSDT")
	if s.State("ETHUSDT") != StateIdle {
		t.Error("取消后状态应为 IDLE")
	}
	// 最多再执行一轮
	time.Sleep(60 * time.Millisecond)
	n := prices.count("ETHUSDT")
	time.Sleep(80 * time.Millisecond)
	if prices.count("ETHUSDT") != n {
		t.Error("取消订阅后轮询未停止")
	}
}

func TestStreamingDeliversTicks(t *testing.T) {
	transport := newFakeTransport()
	prices := &countingPrices{price: 1}
	s := New(transport, prices, Options{PollInterval: time.Hour})
	defer s.CloseAll()

	var btc, eth collector
	if state := s.Subscribe("BTCUSDT", btc.add); state != StateStreaming {
		t.Fatalf("应进入推送状态, 得到 %s", state)
	}
	s.Subscribe("ETHUSDT", eth.add)
	if transport.connects != 1 {
		t.Errorf("多个交易对应共用一个连接, 连接次数 %d", transport.connects)
	}

	transport.tick("BTCUSDT", 43000.5)
	transport.tick("XRPUSDT", 0.5)

	events := btc.snapshot()
	if len(events) != 1 || events[0].Price != 43000.5 || events[0].Source != SourceStream {
		t.Errorf("推送事件错误: %+v", events)
	}
	if len(eth.snapshot()) != 0 {
		t.Error("ETHUSDT 不应收到 BTCUSDT 的价格")
	}
	if prices.count("BTCUSDT") != 0 {
		t.Error("推送状态不应轮询")
	}

	s.Unsubscribe("BTCUSDT")
	if len(transport.unsubscribed) != 1 || transport.unsubscribed[0] != "BTCUSDT" {
		t.Errorf("推送订阅应显式取消: %v", transport.unsubscribed)
	}
}

func TestUnsubscribeWhileConnectingReleasesTransport(t *testing.T) {
	transport := newFakeTransport()
	transport.subDelay = 50 * time.Millisecond
	prices := &countingPrices{price: 1}
	s := New(transport, prices, Options{PollInterval: time.Hour})
	defer s.CloseAll()

	done := make(chan State, 1)
	go func() { done <- s.Subscribe("DOGEUSDT", func(PriceEvent) {}) }()

	waitFor(t, time.Second, func() bool { return s.State("DOGEUSDT") == StateConnecting })
	s.Unsubscribe("DOGEUSDT")

	if state := <-done; state != StateIdle {
		t.Errorf("订阅中被取消应返回 IDLE, 得到 %s", state)
	}
	transport.mu.Lock()
	defer transport.mu.Unlock()
	if transport.subscribed["DOGEUSDT"] {
		t.Error("连接上仍保留已取消交易对的订阅")
	}
	if len(transport.unsubscribed) != 1 || transport.unsubscribed[0] != "DOGEUSDT" {
		t.Errorf("应向连接发送一次取消订阅: %v", transport.unsubscribed)
	}
}

func TestSubscribeFailureUsesPolling(t *testing.T) {
	transport := newFakeTransport()
	transport.subErr = fmt.Errorf("%w: ack timeout", ErrTransport)
	prices := &countingPrices{price: 2}
	s := New(transport, prices, Options{PollInterval: 20 * time.Millisecond})
	defer s.CloseAll()

	var got collector
	if state := s.Subscribe("BNBUSDT", got.add); state != StatePolling {
		t.Fatalf("订阅失败应进入轮询, 得到 %s", state)
	}
	waitFor(t, time.Second, func() bool { return len(got.snapshot()) >= 1 })
}

func TestTransportFailureMovesStreamingToPolling(t *testing.T) {
	transport := newFakeTransport()
	prices := &countingPrices{price: 7}
	s := New(transport, prices, Options{PollInterval: 20 * time.Millisecond})
	defer s.CloseAll()

	var got collector
	s.Subscribe("SOLUSDT", got.add)
	transport.fail(fmt.Errorf("%w: read tcp: connection reset", ErrTransport))

	if s.State("SOLUSDT") != StatePolling {
		t.Fatalf("断线后应转为轮询, 得到 %s", s.State("SOLUSDT"))
	}
	if s.Connected() {
		t.Error("断线后不应处于连接状态")
	}
	waitFor(t, time.Second, func() bool {
		for _, e := range got.snapshot() {
			if e.Source == SourcePoll && e.Price == 7 {
				return true
			}
		}
		return false
	})

	// 下一个新订阅会重新建立连接
	s.Subscribe("ADAUSDT", func(PriceEvent) {})
	if transport.connects != 2 {
		t.Errorf("应重新连接, 连接次数 %d", transport.connects)
	}
}

func TestCloseAllClearsState(t *testing.T) {
	transport := newFakeTransport()
	prices := &countingPrices{price: 1}
	s := New(transport, prices, Options{PollInterval: 10 * time.Millisecond})

	s.Subscribe("BTCUSDT", func(PriceEvent) {})
	transport.subErr = ErrTransport
	s.Subscribe("ETHUSDT", func(PriceEvent) {})

	s.CloseAll()
	if len(s.States()) != 0 {
		t.Errorf("关闭后应清空所有订阅: %v", s.States())
	}
	if !transport.closed {
		t.Error("应关闭共享连接")
	}

	time.Sleep(30 * time.Millisecond)
	n := prices.count("ETHUSDT")
	time.Sleep(50 * time.Millisecond)
	if prices.count("ETHUSDT") != n {
		t.Error("关闭后轮询未停止")
	}
}
