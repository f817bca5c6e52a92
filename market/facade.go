package market

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"spotfolio/event"
	"spotfolio/exchange"
	"spotfolio/metrics"
)

// SymbolLookup 交易对映射查询
type SymbolLookup interface {
	Lookup(symbol string) (string, bool)
}

// DocumentStore 偏好设置持久化所需的文档操作
type DocumentStore interface {
	Load(ctx context.Context, key string, v interface{}) (bool, error)
	Mutate(ctx context.Context, key string, v interface{}, fn func() error) error
}

// Options 行情门面的参数
type Options struct {
	Cache     PriceCache
	RateLimit *exchange.RateLimitState
	Events    event.Publisher
	Docs      DocumentStore

	CacheTTL      time.Duration // 价格新鲜期，默认5秒
	BackoffBase   time.Duration // 限流后等待的基础时间，默认10秒
	BackoffJitter int           // 额外随机等待 1..N 秒，默认20
	DefaultFees   exchange.FeeRates
	PairsTTL      time.Duration // 交易对列表缓存时间，默认1小时
}

// Facade 带缓存、备用查询和限流退避的行情门面
//
// 缓存与限流状态由门面持有，不是全局变量，多个工作协程共享同一个实例。
type Facade struct {
	api      exchange.ExchangeAPI
	resolver SymbolLookup
	cache    PriceCache
	limits   *exchange.RateLimitState
	events   event.Publisher
	docs     DocumentStore
	opts     Options

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(n int) int
	now    func() time.Time

	feeMu      sync.RWMutex
	fees       exchange.FeeRates
	symbolFees map[string]exchange.FeeRates

	pairsMu sync.Mutex
	pairs   []string
	pairsAt time.Time

	prefMu    sync.RWMutex
	prefs     Preferences
	prefsRead bool

	cfgMu sync.RWMutex
}

// NewFacade 创建行情门面，resolver 可为 nil
func NewFacade(api exchange.ExchangeAPI, resolver SymbolLookup, opts Options) *Facade {
	if opts.Cache == nil {
		opts.Cache = NewMemoryPriceCache()
	}
	if opts.RateLimit == nil {
		opts.RateLimit = exchange.NewRateLimitState()
	}
	if opts.Events == nil {
		opts.Events = event.Discard
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Second
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 10 * time.Second
	}
	if opts.BackoffJitter <= 0 {
		opts.BackoffJitter = 20
	}
	if opts.DefaultFees.Maker <= 0 {
		opts.DefaultFees.Maker = 0.001
	}
	if opts.DefaultFees.Taker <= 0 {
		opts.DefaultFees.Taker = 0.001
	}
	if opts.PairsTTL <= 0 {
		opts.PairsTTL = time.Hour
	}

	return &Facade{
		api:        api,
		resolver:   resolver,
		cache:      opts.Cache,
		limits:     opts.RateLimit,
		events:     opts.Events,
		docs:       opts.Docs,
		opts:       opts,
		sleep:      sleepContext,
		jitter:     func(n int) int { return 1 + rand.Intn(n) },
		now:        time.Now,
		fees:       opts.DefaultFees,
		symbolFees: make(map[string]exchange.FeeRates),
		prefs:      Preferences{PreferredPairs: map[string]string{}},
	}
}

// ExchangeName 当前连接的交易所
func (f *Facade) ExchangeName() string {
	return f.api.GetName()
}

// RateLimit 最近一次响应头中的请求权重
func (f *Facade) RateLimit() exchange.RateLimitSnapshot {
	return f.limits.Snapshot()
}

// SetCacheTTL 热更新价格新鲜期
func (f *Facade) SetCacheTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	f.cfgMu.Lock()
	f.opts.CacheTTL = ttl
	f.cfgMu.Unlock()
}

// SetBackoff 热更新退避参数
func (f *Facade) SetBackoff(base time.Duration, jitter int) {
	f.cfgMu.Lock()
	defer f.cfgMu.Unlock()
	if base > 0 {
		f.opts.BackoffBase = base
	}
	if jitter > 0 {
		f.opts.BackoffJitter = jitter
	}
}

func (f *Facade) cacheTTL() time.Duration {
	f.cfgMu.RLock()
	defer f.cfgMu.RUnlock()
	return f.opts.CacheTTL
}

// backoff base + 1..jitter 秒
func (f *Facade) backoff() time.Duration {
	f.cfgMu.RLock()
	base, jitter := f.opts.BackoffBase, f.opts.BackoffJitter
	f.cfgMu.RUnlock()
	return base + time.Duration(f.jitter(jitter))*time.Second
}

// waitBackoff 只阻塞当前调用方
func (f *Facade) waitBackoff(ctx context.Context, op string) error {
	metrics.GetPrometheusMetrics().RecordBackoff(op)
	return f.sleep(ctx, f.backoff())
}

func (f *Facade) publishBan(op string, err error) {
	data := map[string]interface{}{"endpoint": op, "error": err.Error()}
	if until, ok := exchange.BannedUntil(err); ok {
		data["banned_until"] = until.Format(time.RFC3339)
	}
	f.events.Publish(&event.Event{Type: event.EventTypeIPBanned, Data: data})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
