package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/subcommands"

	"spotfolio/config"
	"spotfolio/event"
	"spotfolio/logger"
	"spotfolio/metrics"
	"spotfolio/monitor"
	"spotfolio/notify"
	"spotfolio/scheduler"
	"spotfolio/storage"
	"spotfolio/utils"
	"spotfolio/web"
)

// logRetentionDays 日志库保留天数
const logRetentionDays = 7

type serveCmd struct {
	skipPermissionCheck bool
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "启动 Web 服务、实时价格和定时任务" }
func (*serveCmd) Usage() string {
	return `serve [-skip-permission-check]:
  启动常驻服务，直到收到 SIGINT/SIGTERM。
`
}

func (s *serveCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.skipPermissionCheck, "skip-permission-check", false, "启动时不检查 API 权限")
}

func (s *serveCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		return subcommands.ExitFailure
	}
	initRuntime(cfg)
	defer logger.Close()

	if err := s.run(ctx, cfg); err != nil {
		logger.Error("❌ %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (s *serveCmd) run(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("🚀 spotfolio 启动中...")

	var logStorage *storage.LogStorage
	if cfg.Storage.LogDBPath != "-" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.LogDBPath), 0700); err != nil {
			return fmt.Errorf("创建日志目录失败: %w", err)
		}
		ls, err := storage.NewLogStorage(cfg.Storage.LogDBPath)
		if err != nil {
			logger.Warn("⚠️ 初始化日志存储失败: %v", err)
		} else {
			logStorage = ls
			logger.InitLogStorage(ls.WriteLog)
			defer ls.Close()
		}
	}
	if cfg.Web.Enabled {
		if err := logger.InitWebLogger(); err != nil {
			logger.Warn("⚠️ %v", err)
		}
	}

	app, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if app.DB != nil {
		if err := app.DB.Ping(ctx); err != nil {
			return fmt.Errorf("数据库不可用: %w", err)
		}
	}

	notifier := notify.NewNotificationService(cfg)
	defer notifier.Wait()
	center := event.NewEventCenter(app.Events, notifier, 500)
	center.Start(ctx)
	defer center.Stop()
	go forwardEvents(ctx, app.Events)

	if !s.skipPermissionCheck {
		result := web.CheckExchangePermissions(ctx, "binance", app.Exchange)
		if result.ErrorMessage != "" {
			logger.Warn("⚠️ API 权限检查失败: %s", result.ErrorMessage)
		} else {
			logger.Info("%s", web.FormatPermissionReport(result))
		}
	}

	// 首次启动预热
	app.Market.RefreshFeeRates(ctx)
	if n, err := app.Market.RefreshTradingPairs(ctx); err != nil {
		logger.Warn("⚠️ 加载交易对失败: %v", err)
	} else {
		logger.Info("✅ 已加载 %d 个交易对", n)
	}

	history := web.NewSystemMetricsHistory(0)
	web.SetSystemMetricsHistory(history)

	var metricsStore *storage.MetricsStore
	if logStorage != nil {
		if metricsStore, err = storage.NewMetricsStore(logStorage.DB()); err != nil {
			logger.Warn("⚠️ %v", err)
		} else {
			web.SetMetricsStore(metricsStore)
		}
	}

	sched, err := newScheduler(app, cfg, logStorage, metricsStore, history)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	providers := web.Providers{
		Market:       app.Market,
		Orders:       app.Orders,
		Positions:    app.Positions,
		Mappings:     app.Resolver,
		Stream:       app.Stream,
		Events:       center,
		Permissions:  app.Exchange,
		Jobs:         sched,
		Logs:         logStorage,
		MinUSDValue:  cfg.Market.MinUSDValue,
		BaseCurrency: cfg.Market.BaseCurrency,
	}
	p := providers
	web.SetProviders(&p)

	hotReloader := config.NewHotReloader(cfg)
	hotReloader.RegisterCallback(func(oldCfg, newCfg *config.Config, changes []config.ConfigChange) error {
		paths := make([]string, 0, len(changes))
		for _, c := range changes {
			logger.Info("🔄 配置已更新: %s = %v", c.Path, c.NewValue)
			paths = append(paths, c.Path)
		}
		logger.SetLevel(logger.ParseLogLevel(newCfg.System.LogLevel))
		app.Stream.SetPollInterval(newCfg.PollInterval())
		app.Market.SetCacheTTL(newCfg.PriceCacheTTL())
		app.Market.SetBackoff(time.Duration(newCfg.Market.BackoffBase)*time.Second, newCfg.Market.BackoffJitter)

		next := providers
		next.MinUSDValue = newCfg.Market.MinUSDValue
		next.BaseCurrency = newCfg.Market.BaseCurrency
		web.SetProviders(&next)

		app.Events.Publish(&event.Event{
			Type: event.EventTypeConfigReloaded,
			Data: map[string]interface{}{"changes": paths},
		})
		return nil
	})
	web.SetConfigManager(web.NewConfigManager(*configPath, hotReloader))

	if watcher, err := config.NewConfigWatcher(*configPath, hotReloader); err != nil {
		logger.Warn("⚠️ 配置文件监听不可用: %v", err)
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("⚠️ 启动配置监听失败: %v", err)
	} else {
		defer watcher.Stop()
		go watchConfig(ctx, watcher)
	}

	server := web.NewWebServer(cfg)
	if err := server.Start(ctx); err != nil {
		return err
	}
	defer server.Stop()

	logger.Info("✅ spotfolio 已启动")
	<-ctx.Done()
	logger.Info("⏹️ 收到退出信号，正在关闭...")
	return nil
}

type scheduledJob struct {
	name string
	spec string
	fn   scheduler.JobFunc
}

// newScheduler 注册周期任务
func newScheduler(app *App, cfg *config.Config, logStorage *storage.LogStorage, metricsStore *storage.MetricsStore, history *web.SystemMetricsHistory) (*scheduler.Scheduler, error) {
	sched := scheduler.New(utils.Location())
	collector := metrics.NewSystemMetricsCollector(monitor.Sample)

	jobs := []scheduledJob{
		{"fee_refresh", cfg.Schedule.FeeRefresh, func(ctx context.Context) error {
			app.Market.RefreshFeeRates(ctx)
			return nil
		}},
		{"exchange_info", cfg.Schedule.ExchangeInfo, func(ctx context.Context) error {
			_, err := app.Market.RefreshTradingPairs(ctx)
			return err
		}},
		{"system_metrics", cfg.Schedule.SystemMetrics, func(ctx context.Context) error {
			collector.Collect()
			m, err := monitor.CollectSystemMetrics()
			if err != nil {
				return err
			}
			history.Add(m)
			if metricsStore == nil {
				return nil
			}
			return metricsStore.Save(&storage.SystemMetrics{
				Timestamp:     m.Timestamp,
				CPUPercent:    m.CPUPercent,
				MemoryMB:      m.MemoryMB,
				MemoryPercent: m.MemoryPercent,
				ProcessID:     m.ProcessID,
			})
		}},
	}
	if metricsStore != nil {
		jobs = append(jobs, scheduledJob{"metrics_daily", "5 0 * * *", func(ctx context.Context) error {
			if _, err := metricsStore.Aggregate(time.Now().UTC().AddDate(0, 0, -1)); err != nil {
				return err
			}
			_, err := metricsStore.Cleanup(time.Now().AddDate(0, 0, -logRetentionDays))
			return err
		}})
	}
	if logStorage != nil {
		jobs = append(jobs, scheduledJob{"log_cleanup", "0 2 * * *", func(ctx context.Context) error {
			n, err := logStorage.CleanOldLogs(logRetentionDays)
			if err == nil && n > 0 {
				logger.Info("🧹 已清理 %d 条过期日志", n)
			}
			return err
		}})
	}

	for _, j := range jobs {
		if err := sched.Add(j.name, j.spec, j.fn); err != nil {
			return nil, fmt.Errorf("注册定时任务 %s 失败: %w", j.name, err)
		}
	}
	return sched, nil
}

// forwardEvents 把事件总线推送给 WebSocket 客户端
func forwardEvents(ctx context.Context, bus *event.EventBus) {
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			web.BroadcastEvent(evt)
		}
	}
}

func watchConfig(ctx context.Context, watcher *config.ConfigWatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case diff := <-watcher.RestartRequired():
			for _, c := range diff.Changes {
				if c.RequiresRestart {
					logger.Warn("⚠️ 配置项 %s 变更需要重启后生效", c.Path)
				}
			}
		case err := <-watcher.Errors():
			logger.Warn("⚠️ 重新加载配置失败: %v", err)
		}
	}
}
