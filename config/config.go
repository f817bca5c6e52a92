package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 组合查看器配置
type Config struct {
	// 交易所（只读 API Key）
	Exchange struct {
		APIKey            string `yaml:"api_key"`
		SecretKey         string `yaml:"secret_key"`
		Testnet           bool   `yaml:"testnet"`
		UseVault          bool   `yaml:"use_vault"`           // 从加密凭证库读取 API Key
		RequestIntervalMs int    `yaml:"request_interval_ms"` // 两次 REST 请求的最小间隔（毫秒，默认100）
		RequestBurst      int    `yaml:"request_burst"`       // 限速器突发容量（默认5）
	} `yaml:"exchange"`

	// 行情与余额
	Market struct {
		PriceCacheTTL   int     `yaml:"price_cache_ttl"`   // 价格缓存有效期（秒，默认5）
		BackoffBase     int     `yaml:"backoff_base"`      // 限流退避基础时间（秒，默认10）
		BackoffJitter   int     `yaml:"backoff_jitter"`    // 限流退避随机抖动上限（秒，默认20）
		MinUSDValue     float64 `yaml:"min_usd_value"`     // 余额列表最小美元价值（默认1）
		DefaultMakerFee float64 `yaml:"default_maker_fee"` // 默认 Maker 费率（默认0.001）
		DefaultTakerFee float64 `yaml:"default_taker_fee"` // 默认 Taker 费率（默认0.001）
		BaseCurrency    string  `yaml:"base_currency"`     // 汇总视图的计价币（默认USDT）

		RedisCache struct {
			Enabled bool   `yaml:"enabled"` // 多进程共享价格缓存
			Addr    string `yaml:"addr"`
			DB      int    `yaml:"db"`
			Prefix  string `yaml:"prefix"` // 默认 spotfolio:price:
			TTL     int    `yaml:"ttl"`    // Redis 中保留时间（秒，默认600）
		} `yaml:"redis_cache"`
	} `yaml:"market"`

	// 实时价格推送
	Stream struct {
		WebSocketURL     string `yaml:"websocket_url"`     // 默认 wss://stream.binance.com:9443/ws
		PollInterval     int    `yaml:"poll_interval"`     // 轮询降级间隔（秒，默认5）
		PongWait         int    `yaml:"pong_wait"`         // 读超时（秒，默认60）
		WriteWait        int    `yaml:"write_wait"`        // 写超时（秒，默认10）
		SubscribeTimeout int    `yaml:"subscribe_timeout"` // 订阅确认超时（秒，默认5）
	} `yaml:"stream"`

	// 手动订单、映射、偏好的存储
	Storage struct {
		Type      string `yaml:"type"`        // file 或 database，默认 file
		DataDir   string `yaml:"data_dir"`    // 默认 ./data
		LogDBPath string `yaml:"log_db_path"` // 日志数据库，默认 ./data/logs.db，为空字符串"-"表示关闭
	} `yaml:"storage"`

	// storage.type=database 时使用
	Database struct {
		Type            string `yaml:"type"`              // sqlite, postgres, mysql，默认 sqlite
		DSN             string `yaml:"dsn"`               // 默认 ./data/spotfolio.db
		MaxOpenConns    int    `yaml:"max_open_conns"`    // 默认10
		MaxIdleConns    int    `yaml:"max_idle_conns"`    // 默认2
		ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 秒，默认3600
		LogLevel        string `yaml:"log_level"`         // silent, error, warn, info，默认 error
	} `yaml:"database"`

	// 多个进程共用同一份数据时串行化写入
	DistributedLock struct {
		Enabled    bool   `yaml:"enabled"`
		Type       string `yaml:"type"`        // 目前只支持 redis
		Prefix     string `yaml:"prefix"`      // 默认 spotfolio:lock:
		DefaultTTL int    `yaml:"default_ttl"` // 秒，默认5

		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`
	} `yaml:"distributed_lock"`

	Vault struct {
		Path       string `yaml:"path"`        // 默认 ./data/vault.dat
		Iterations int    `yaml:"iterations"`  // PBKDF2 迭代次数，默认100000
		RequirePIN bool   `yaml:"require_pin"` // 口令必须为4位数字
	} `yaml:"vault"`

	Web struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"` // 默认 127.0.0.1
		Port    int    `yaml:"port"` // 默认 28890
		LogAll  bool   `yaml:"log_all"`
	} `yaml:"web"`

	// 定时任务（cron 表达式，五段式）
	Schedule struct {
		FeeRefresh    string `yaml:"fee_refresh"`    // 默认每小时
		ExchangeInfo  string `yaml:"exchange_info"`  // 默认每6小时
		SystemMetrics string `yaml:"system_metrics"` // 默认每分钟
	} `yaml:"schedule"`

	Notifications struct {
		Webhook struct {
			Enabled bool   `yaml:"enabled"`
			URL     string `yaml:"url"`
			Timeout int    `yaml:"timeout"` // 秒，默认3
		} `yaml:"webhook"`
	} `yaml:"notifications"`

	System struct {
		LogLevel    string `yaml:"log_level"`
		Timezone    string `yaml:"timezone"`
		LogLanguage string `yaml:"log_language"` // zh-CN 或 en-US
		LogDir      string `yaml:"log_dir"`
	} `yaml:"system"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes 解析配置内容并校验
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return &cfg, nil
}

// SaveConfig 校验后写回配置文件
func SaveConfig(cfg *Config, configPath string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}

// Validate 验证配置并填充默认值
func (c *Config) Validate() error {
	if c.Exchange.APIKey != "" && c.Exchange.SecretKey == "" {
		return fmt.Errorf("已配置 api_key 但缺少 secret_key")
	}
	if c.Exchange.RequestIntervalMs < 0 {
		return fmt.Errorf("request_interval_ms 不能为负数")
	}
	if c.Exchange.RequestIntervalMs == 0 {
		c.Exchange.RequestIntervalMs = 100
	}
	if c.Exchange.RequestBurst <= 0 {
		c.Exchange.RequestBurst = 5
	}

	if c.Market.DefaultMakerFee < 0 || c.Market.DefaultTakerFee < 0 {
		return fmt.Errorf("手续费率不能为负数")
	}
	if c.Market.DefaultMakerFee == 0 {
		c.Market.DefaultMakerFee = 0.001
	}
	if c.Market.DefaultTakerFee == 0 {
		c.Market.DefaultTakerFee = 0.001
	}
	if c.Market.PriceCacheTTL <= 0 {
		c.Market.PriceCacheTTL = 5
	}
	if c.Market.BackoffBase <= 0 {
		c.Market.BackoffBase = 10
	}
	if c.Market.BackoffJitter <= 0 {
		c.Market.BackoffJitter = 20
	}
	if c.Market.MinUSDValue < 0 {
		return fmt.Errorf("min_usd_value 不能为负数")
	}
	if c.Market.MinUSDValue == 0 {
		c.Market.MinUSDValue = 1
	}
	if c.Market.BaseCurrency == "" {
		c.Market.BaseCurrency = "USDT"
	}
	if c.Market.RedisCache.Addr == "" {
		c.Market.RedisCache.Addr = "localhost:6379"
	}
	if c.Market.RedisCache.Prefix == "" {
		c.Market.RedisCache.Prefix = "spotfolio:price:"
	}
	if c.Market.RedisCache.TTL <= 0 {
		c.Market.RedisCache.TTL = 600
	}

	if c.Stream.WebSocketURL == "" {
		c.Stream.WebSocketURL = "wss://stream.binance.com:9443/ws"
	}
	if c.Stream.PollInterval <= 0 {
		c.Stream.PollInterval = 5
	}
	if c.Stream.PongWait <= 0 {
		c.Stream.PongWait = 60
	}
	if c.Stream.WriteWait <= 0 {
		c.Stream.WriteWait = 10
	}
	if c.Stream.SubscribeTimeout <= 0 {
		c.Stream.SubscribeTimeout = 5
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "file"
	}
	if c.Storage.Type != "file" && c.Storage.Type != "database" {
		return fmt.Errorf("不支持的存储类型: %s", c.Storage.Type)
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Storage.LogDBPath == "" {
		c.Storage.LogDBPath = filepath.Join(c.Storage.DataDir, "logs.db")
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Type == "sqlite" {
		c.Database.DSN = filepath.Join(c.Storage.DataDir, "spotfolio.db")
	}
	if c.Storage.Type == "database" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn 不能为空")
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 2
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 3600
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "error"
	}

	if c.DistributedLock.Type == "" {
		c.DistributedLock.Type = "redis"
	}
	if c.DistributedLock.Prefix == "" {
		c.DistributedLock.Prefix = "spotfolio:lock:"
	}
	if c.DistributedLock.DefaultTTL <= 0 {
		c.DistributedLock.DefaultTTL = 5
	}
	if c.DistributedLock.Redis.Addr == "" {
		c.DistributedLock.Redis.Addr = "localhost:6379"
	}
	if c.DistributedLock.Redis.PoolSize <= 0 {
		c.DistributedLock.Redis.PoolSize = 10
	}

	if c.Vault.Path == "" {
		c.Vault.Path = filepath.Join(c.Storage.DataDir, "vault.dat")
	}
	if c.Vault.Iterations <= 0 {
		c.Vault.Iterations = 100000
	}

	if c.Web.Host == "" {
		c.Web.Host = "127.0.0.1"
	}
	if c.Web.Port <= 0 {
		c.Web.Port = 28890
	}
	if c.Web.Port > 65535 {
		return fmt.Errorf("无效的端口: %d", c.Web.Port)
	}

	if c.Schedule.FeeRefresh == "" {
		c.Schedule.FeeRefresh = "0 * * * *"
	}
	if c.Schedule.ExchangeInfo == "" {
		c.Schedule.ExchangeInfo = "15 */6 * * *"
	}
	if c.Schedule.SystemMetrics == "" {
		c.Schedule.SystemMetrics = "* * * * *"
	}

	if c.Notifications.Webhook.Enabled && c.Notifications.Webhook.URL == "" {
		return fmt.Errorf("启用 webhook 通知时 url 不能为空")
	}
	if c.Notifications.Webhook.Timeout <= 0 {
		c.Notifications.Webhook.Timeout = 3
	}

	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "Local"
	}
	if c.System.LogLanguage == "" {
		c.System.LogLanguage = "zh-CN"
	}
	if c.System.LogDir == "" {
		c.System.LogDir = "logs"
	}

	return nil
}

// PriceCacheTTL 价格缓存有效期
func (c *Config) PriceCacheTTL() time.Duration {
	return time.Duration(c.Market.PriceCacheTTL) * time.Second
}

// PollInterval 轮询降级间隔
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Stream.PollInterval) * time.Second
}

// DataPath 返回数据目录下的文件路径
func (c *Config) DataPath(name string) string {
	return filepath.Join(c.Storage.DataDir, name)
}
