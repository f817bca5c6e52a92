// Package cmd 命令行子命令：serve 启动服务，其余为一次性查询和维护命令
package cmd

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"
	"github.com/redis/go-redis/v9"
	"golang.org/x/term"

	"spotfolio/config"
	"spotfolio/database"
	"spotfolio/event"
	"spotfolio/exchange"
	"spotfolio/exchange/binance"
	"spotfolio/i18n"
	"spotfolio/lock"
	"spotfolio/logger"
	"spotfolio/market"
	"spotfolio/order"
	"spotfolio/position"
	"spotfolio/storage"
	"spotfolio/stream"
	"spotfolio/symbol"
	"spotfolio/utils"
	"spotfolio/vault"
)

// PassphraseEnv 非交互场景下的凭证库口令
const PassphraseEnv = "SPOTFOLIO_VAULT_PASSPHRASE"

var configPath = flag.String("config", "config.yaml", "配置文件路径")

// 多次读取共用一个缓冲
var stdin = bufio.NewReader(os.Stdin)

// Register 注册全部子命令
func Register(c *subcommands.Commander) {
	c.Register(&serveCmd{}, "")

	c.Register(&priceCmd{}, "market")
	c.Register(&balancesCmd{}, "market")
	c.Register(&historyCmd{}, "market")
	c.Register(&positionCmd{}, "market")
	c.Register(&permissionsCmd{}, "market")

	c.Register(&manualCmd{}, "data")
	c.Register(&mapCmd{}, "data")
	c.Register(&vaultCmd{}, "data")
}

// loadConfig 配置文件不存在时使用默认值
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg = &config.Config{}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return cfg, err
}

// initRuntime 时区、日志级别、i18n
func initRuntime(cfg *config.Config) {
	if err := utils.SetLocation(cfg.System.Timezone); err != nil {
		logger.Warn("⚠️ 加载时区 %s 失败: %v，使用本地时区", cfg.System.Timezone, err)
	}
	logger.SetLocation(utils.Location())
	logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))
	if cfg.System.LogDir != "" {
		logger.SetLogDir(cfg.System.LogDir)
	}

	if err := i18n.Init(cfg.System.LogLanguage); err != nil {
		logger.Warn("⚠️ 初始化 i18n 失败: %v", err)
	}
	logger.SetTranslateFunc(i18n.T)
}

// App 组装好的组件
type App struct {
	Config    *config.Config
	Events    *event.EventBus
	Lock      lock.DistributedLock
	DB        database.Database
	Docs      *storage.Documents
	Exchange  *binance.BinanceAdapter
	RateLimit *exchange.RateLimitState
	Market    *market.Facade
	Resolver  *symbol.Resolver
	Manual    *order.ManualBook
	Orders    *order.Aggregator
	Positions *position.Service
	Stream    *stream.Stream

	closers []func()
}

// Close 逆序释放资源
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// buildStore 只创建事件总线和文档存储，维护命令不需要交易所
func buildStore(cfg *config.Config) (*App, error) {
	app := &App{Config: cfg, Events: event.NewEventBus(1000)}
	app.closers = append(app.closers, app.Events.Close)

	locker, err := lock.NewDistributedLock(lock.FromAppConfig(cfg))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("初始化分布式锁失败: %w", err)
	}
	app.Lock = locker
	app.closers = append(app.closers, func() { locker.Close() })

	kv, err := openKeyValueStore(app, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Docs = storage.NewDocuments(kv, locker, time.Duration(cfg.DistributedLock.DefaultTTL)*time.Second)
	return app, nil
}

// buildApp 按配置创建存储、交易所适配器和各业务组件
func buildApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	creds, err := loadCredentials(cfg)
	if err != nil {
		return nil, err
	}
	app.RateLimit = exchange.NewRateLimitState()
	app.Exchange, err = binance.NewBinanceAdapter(binance.Options{
		APIKey:          creds.APIKey,
		SecretKey:       creds.APISecret,
		Testnet:         cfg.Exchange.Testnet,
		RequestInterval: time.Duration(cfg.Exchange.RequestIntervalMs) * time.Millisecond,
		RequestBurst:    cfg.Exchange.RequestBurst,
		RateLimit:       app.RateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("创建交易所适配器失败: %w", err)
	}
	if err := app.Exchange.SyncServerTime(ctx); err != nil {
		logger.Warn("⚠️ %v，签名请求可能因时间偏差失败", err)
	} else {
		logger.Info("✅ 已与 %s 服务器同步时间", app.Exchange.GetName())
	}

	app.Resolver, err = symbol.NewResolver(ctx, app.Docs, app.Events)
	if err != nil {
		return nil, fmt.Errorf("加载交易对映射失败: %w", err)
	}

	app.Market = market.NewFacade(app.Exchange, app.Resolver, market.Options{
		Cache:         priceCache(app, cfg),
		RateLimit:     app.RateLimit,
		Events:        app.Events,
		Docs:          app.Docs,
		CacheTTL:      cfg.PriceCacheTTL(),
		BackoffBase:   time.Duration(cfg.Market.BackoffBase) * time.Second,
		BackoffJitter: cfg.Market.BackoffJitter,
		DefaultFees:   exchange.FeeRates{Maker: cfg.Market.DefaultMakerFee, Taker: cfg.Market.DefaultTakerFee},
	})

	app.Manual, err = order.NewManualBook(ctx, app.Docs, app.Events)
	if err != nil {
		return nil, fmt.Errorf("加载手动订单失败: %w", err)
	}
	app.Orders = order.NewAggregator(app.Exchange, app.Resolver, app.Market, app.Manual)
	app.Positions = position.NewService(app.Orders, app.Market, app.Market, app.Resolver)

	transport := stream.NewBinanceTransport(stream.BinanceOptions{
		URL:              cfg.Stream.WebSocketURL,
		PongWait:         time.Duration(cfg.Stream.PongWait) * time.Second,
		WriteWait:        time.Duration(cfg.Stream.WriteWait) * time.Second,
		SubscribeTimeout: time.Duration(cfg.Stream.SubscribeTimeout) * time.Second,
	})
	app.Stream = stream.New(transport, app.Market, stream.Options{
		PollInterval: cfg.PollInterval(),
		Events:       app.Events,
	})
	app.closers = append(app.closers, app.Stream.CloseAll)

	ok = true
	return app, nil
}

// openKeyValueStore storage.type=file 用 JSON 文件，database 用 gorm 表
func openKeyValueStore(app *App, cfg *config.Config) (storage.KeyValueStore, error) {
	if cfg.Storage.Type == "database" {
		db, err := database.NewDatabase(database.FromAppConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("初始化数据库失败: %w", err)
		}
		app.DB = db
		app.closers = append(app.closers, func() { db.Close() })
		logger.Debug("✅ 文档存储: 数据库 (%s)", cfg.Database.Type)
		return db, nil
	}

	fs, err := storage.NewFileStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("初始化文件存储失败: %w", err)
	}
	logger.Debug("✅ 文档存储: 文件 (%s)", cfg.Storage.DataDir)
	return fs, nil
}

// priceCache 启用 redis_cache 时多进程共享价格缓存
func priceCache(app *App, cfg *config.Config) market.PriceCache {
	rc := cfg.Market.RedisCache
	if !rc.Enabled {
		return market.NewMemoryPriceCache()
	}
	client := redis.NewClient(&redis.Options{Addr: rc.Addr, DB: rc.DB})
	app.closers = append(app.closers, func() { client.Close() })
	logger.Debug("✅ 价格缓存: Redis (%s)", rc.Addr)
	return market.NewRedisPriceCache(client, rc.Prefix, time.Duration(rc.TTL)*time.Second)
}

// loadCredentials use_vault=true 时从凭证库解密，否则取配置文件
func loadCredentials(cfg *config.Config) (*vault.Credentials, error) {
	if !cfg.Exchange.UseVault {
		if cfg.Exchange.APIKey == "" {
			return nil, fmt.Errorf("未配置 API Key，请在配置文件中填写或使用 vault init 创建凭证库")
		}
		return &vault.Credentials{APIKey: cfg.Exchange.APIKey, APISecret: cfg.Exchange.SecretKey}, nil
	}

	v := newVault(cfg)
	if !v.Exists() {
		return nil, fmt.Errorf("%w: %s", vault.ErrNotFound, v.Path())
	}
	pass, err := readPassphrase("凭证库口令: ")
	if err != nil {
		return nil, err
	}
	creds, err := v.Decrypt(pass)
	if err != nil {
		return nil, fmt.Errorf("解密凭证库失败: %w", err)
	}
	return creds, nil
}

func newVault(cfg *config.Config) *vault.Vault {
	return vault.New(vault.Options{
		Path:       cfg.Vault.Path,
		Iterations: cfg.Vault.Iterations,
		RequirePIN: cfg.Vault.RequirePIN,
	})
}

// readPassphrase 优先读环境变量；终端下不回显，管道输入读一行
func readPassphrase(prompt string) (string, error) {
	if pass := os.Getenv(PassphraseEnv); pass != "" {
		return pass, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("读取口令失败: %w", err)
		}
		return string(b), nil
	}
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("读取口令失败: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// withApp 一次性命令的公共流程
func withApp(ctx context.Context, fn func(*App) error) subcommands.ExitStatus {
	return run(ctx, buildApp, fn)
}

// withStore 同 withApp，但只打开本地存储
func withStore(ctx context.Context, fn func(*App) error) subcommands.ExitStatus {
	return run(ctx, func(_ context.Context, cfg *config.Config) (*App, error) {
		return buildStore(cfg)
	}, fn)
}

func run(ctx context.Context, build func(context.Context, *config.Config) (*App, error), fn func(*App) error) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		return subcommands.ExitFailure
	}
	initRuntime(cfg)

	app, err := build(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer app.Close()

	if err := fn(app); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// readLine 读取回显的一行输入
func readLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("读取输入失败: %w", err)
	}
	return strings.TrimSpace(line), nil
}
