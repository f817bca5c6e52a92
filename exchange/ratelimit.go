package exchange

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitSnapshot 限流状态快照
type RateLimitSnapshot struct {
	UsedWeight      int       `json:"used_weight"`
	WeightTimestamp time.Time `json:"weight_timestamp"`
	OrderCount      int       `json:"order_count"`
}

// RateLimitState 根据响应头记录的请求权重，只用于观测
type RateLimitState struct {
	mu       sync.Mutex
	snap     RateLimitSnapshot
	observer func(RateLimitSnapshot)
}

// NewRateLimitState 创建限流状态
func NewRateLimitState() *RateLimitState {
	return &RateLimitState{}
}

// SetObserver 每次更新后回调（用于指标上报）
func (s *RateLimitState) SetObserver(fn func(RateLimitSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

// Update 从响应头更新权重和下单计数
func (s *RateLimitState) Update(h http.Header) {
	weight, okWeight := headerInt(h, "X-Mbx-Used-Weight-1m")
	if !okWeight {
		weight, okWeight = headerInt(h, "X-Mbx-Used-Weight")
	}
	count, okCount := orderCount(h)
	if !okWeight && !okCount {
		return
	}

	s.mu.Lock()
	if okWeight {
		s.snap.UsedWeight = weight
		s.snap.WeightTimestamp = time.Now()
	}
	if okCount {
		s.snap.OrderCount = count
	}
	snap, fn := s.snap, s.observer
	s.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// Snapshot 当前状态
func (s *RateLimitState) Snapshot() RateLimitSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func headerInt(h http.Header, key string) (int, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// orderCount 取 X-Mbx-Order-Count-* 中的任意一个
func orderCount(h http.Header) (int, bool) {
	for key := range h {
		if strings.HasPrefix(strings.ToLower(key), "x-mbx-order-count") {
			return headerInt(h, key)
		}
	}
	return 0, false
}

// HeaderTracker 记录每个响应的限流头
type HeaderTracker struct {
	Next  http.RoundTripper
	State *RateLimitState
}

// RoundTrip 实现 http.RoundTripper
func (t *HeaderTracker) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}
	resp, err := next.RoundTrip(req)
	if err == nil && t.State != nil {
		t.State.Update(resp.Header)
	}
	return resp, err
}
