package stream

import (
	"context"
	"sync"
	"time"

	"spotfolio/event"
	"spotfolio/logger"
	"spotfolio/metrics"
	"spotfolio/utils"
)

// State 单个交易对的订阅状态
type State string

const (
	StateIdle       State = "IDLE"
	StateConnecting State = "CONNECTING"
	StateStreaming  State = "STREAMING"
	StatePolling    State = "POLLING"
)

const (
	SourceStream = "stream"
	SourcePoll   = "poll"
)

// PriceEvent 推送和轮询共用的价格事件
type PriceEvent struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Source string    `json:"source"`
	Time   time.Time `json:"time"`
}

// Callback 价格回调
type Callback func(PriceEvent)

// PriceSource 轮询使用的价格来源
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string, useCache bool) (float64, error)
}

// Options 价格流参数
type Options struct {
	PollInterval time.Duration
	Events       event.Publisher
}

type subscription struct {
	symbol string
	cb     Callback
	state  State
}

// Stream 按交易对订阅价格，优先使用共享推送连接，失败时该交易对独立轮询
type Stream struct {
	transport Transport
	prices    PriceSource
	events    event.Publisher

	connMu sync.Mutex // 串行化 Connect

	mu           sync.Mutex
	connected    bool
	subs         map[string]*subscription
	pollInterval time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
}

// New 创建价格流，transport 为 nil 时所有订阅都走轮询
func New(transport Transport, prices PriceSource, opts Options) *Stream {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Events == nil {
		opts.Events = event.Discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		transport:    transport,
		prices:       prices,
		events:       opts.Events,
		subs:         map[string]*subscription{},
		pollInterval: opts.PollInterval,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// SetPollInterval 修改轮询间隔，对下一次轮询生效
func (s *Stream) SetPollInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.pollInterval = d
	s.mu.Unlock()
}

// Subscribe 订阅交易对，重复订阅只替换回调
func (s *Stream) Subscribe(symbol string, cb Callback) State {
	symbol = utils.NormalizeSymbol(symbol)

	s.mu.Lock()
	if sub, ok := s.subs[symbol]; ok {
		sub.cb = cb
		state := sub.state
		s.mu.Unlock()
		return state
	}
	sub := &subscription{symbol: symbol, cb: cb, state: StateConnecting}
	s.subs[symbol] = sub
	ctx := s.ctx
	s.mu.Unlock()

	err := s.ensureConnected(ctx)
	if err == nil {
		err = s.transport.Subscribe(ctx, symbol)
	}

	s.mu.Lock()
	if s.subs[symbol] != sub {
		// 订阅过程中被取消，连接上已生效的订阅要撤回
		leaked := err == nil && s.connected && s.subs[symbol] == nil
		s.mu.Unlock()
		if leaked {
			if uerr := s.transport.Unsubscribe(ctx, symbol); uerr != nil {
				logger.Warn("⚠️ 撤回推送订阅 %s 失败: %v", symbol, uerr)
			}
		}
		return StateIdle
	}
	defer s.mu.Unlock()
	if err == nil && s.connected {
		sub.state = StateStreaming
		logger.Info("📡 %s 使用推送行情", symbol)
	} else {
		logger.Warn("⚠️ %s 推送订阅失败，降级为轮询: %v", symbol, err)
		s.startPollingLocked(sub)
		s.events.Publish(&event.Event{
			Type: event.EventTypeStreamFallback,
			Data: map[string]interface{}{"symbol": symbol, "error": errString(err)},
		})
	}
	s.reportLocked()
	return sub.state
}

func errString(err error) string {
	if err == nil {
		return "连接已断开"
	}
	return err.Error()
}

// ensureConnected 懒建立唯一的共享连接
func (s *Stream) ensureConnected(ctx context.Context) error {
	if s.transport == nil {
		return ErrTransport
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if connected {
		return nil
	}

	if err := s.transport.Connect(ctx, s.onTick, s.onTransportError); err != nil {
		return err
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	metrics.GetPrometheusMetrics().SetWebSocketStatus(true)
	s.events.Publish(&event.Event{Type: event.EventTypeStreamConnected})
	return nil
}

func (s *Stream) onTick(symbol string, price float64) {
	s.mu.Lock()
	sub, ok := s.subs[symbol]
	if !ok || sub.state != StateStreaming || sub.cb == nil {
		s.mu.Unlock()
		return
	}
	cb := sub.cb
	s.mu.Unlock()

	pm := metrics.GetPrometheusMetrics()
	pm.RecordPriceUpdate(SourceStream)
	pm.SetCurrentPrice(symbol, price)
	cb(PriceEvent{Symbol: symbol, Price: price, Source: SourceStream, Time: utils.NowUTC()})
}

// onTransportError 连接断开后所有推送中的交易对转为轮询
func (s *Stream) onTransportError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	var moved []string
	for _, sub := range s.subs {
		if sub.state == StateStreaming || sub.state == StateConnecting {
			if sub.state == StateStreaming {
				s.startPollingLocked(sub)
			}
			moved = append(moved, sub.symbol)
		}
	}
	metrics.GetPrometheusMetrics().SetWebSocketStatus(false)
	s.reportLocked()

	logger.Warn("⚠️ 行情推送连接中断，%d 个交易对降级为轮询: %v", len(moved), err)
	s.events.Publish(&event.Event{
		Type: event.EventTypeStreamFallback,
		Data: map[string]interface{}{"symbols": moved, "error": err.Error()},
	})
}

// startPollingLocked 调用方持有 s.mu
func (s *Stream) startPollingLocked(sub *subscription) {
	sub.state = StatePolling
	go s.poll(s.ctx, sub)
}

// poll 每个交易对独立轮询，发现订阅已移除时退出
func (s *Stream) poll(ctx context.Context, sub *subscription) {
	for {
		s.mu.Lock()
		active := s.subs[sub.symbol] == sub && sub.state == StatePolling
		cb := sub.cb
		interval := s.pollInterval
		s.mu.Unlock()
		if !active {
			return
		}

		price, err := s.prices.GetPrice(ctx, sub.symbol, true)
		if err != nil || price <= 0 {
			logger.Debug("轮询 %s 价格失败: %v", sub.symbol, err)
		} else if cb != nil {
			s.mu.Lock()
			active = s.subs[sub.symbol] == sub
			s.mu.Unlock()
			if active {
				pm := metrics.GetPrometheusMetrics()
				pm.RecordPriceUpdate(SourcePoll)
				pm.SetCurrentPrice(sub.symbol, price)
				cb(PriceEvent{Symbol: sub.symbol, Price: price, Source: SourcePoll, Time: utils.NowUTC()})
			}
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Unsubscribe 取消订阅；轮询中的交易对在下一轮退出
func (s *Stream) Unsubscribe(symbol string) {
	symbol = utils.NormalizeSymbol(symbol)

	s.mu.Lock()
	sub, ok := s.subs[symbol]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subs, symbol)
	streaming := sub.state == StateStreaming && s.connected
	ctx := s.ctx
	s.reportLocked()
	s.mu.Unlock()

	if streaming {
		if err := s.transport.Unsubscribe(ctx, symbol); err != nil {
			logger.Warn("⚠️ 取消推送订阅 %s 失败: %v", symbol, err)
		}
	}
	logger.Debug("已取消订阅 %s", symbol)
}

// CloseAll 关闭共享连接并清空全部订阅
func (s *Stream) CloseAll() {
	s.mu.Lock()
	s.subs = map[string]*subscription{}
	wasConnected := s.connected
	s.connected = false
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.reportLocked()
	s.mu.Unlock()

	if s.transport != nil && wasConnected {
		if err := s.transport.Close(); err != nil {
			logger.Warn("⚠️ 关闭行情推送连接失败: %v", err)
		}
	}
	metrics.GetPrometheusMetrics().SetWebSocketStatus(false)
}

// State 查询交易对状态
func (s *Stream) State(symbol string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[utils.NormalizeSymbol(symbol)]; ok {
		return sub.state
	}
	return StateIdle
}

// States 所有订阅的状态快照
func (s *Stream) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.subs))
	for sym, sub := range s.subs {
		out[sym] = sub.state
	}
	return out
}

// Connected 共享连接是否在线
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Stream) reportLocked() {
	streaming, polling := 0, 0
	for _, sub := range s.subs {
		switch sub.state {
		case StateStreaming:
			streaming++
		case StatePolling:
			polling++
		}
	}
	metrics.GetPrometheusMetrics().SetStreamSubscriptions(streaming, polling)
}
