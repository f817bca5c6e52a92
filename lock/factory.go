package lock

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"spotfolio/config"
)

// Config 分布式锁配置
type Config struct {
	Enabled    bool
	Type       string
	Prefix     string
	DefaultTTL time.Duration
	Redis      RedisConfig
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// FromAppConfig 从应用配置中取出锁配置
func FromAppConfig(cfg *config.Config) *Config {
	dl := cfg.DistributedLock
	return &Config{
		Enabled:    dl.Enabled,
		Type:       dl.Type,
		Prefix:     dl.Prefix,
		DefaultTTL: time.Duration(dl.DefaultTTL) * time.Second,
		Redis: RedisConfig{
			Addr:     dl.Redis.Addr,
			Password: dl.Redis.Password,
			DB:       dl.Redis.DB,
			PoolSize: dl.Redis.PoolSize,
		},
	}
}

// NewDistributedLock 根据配置创建分布式锁，未启用时返回 NopLock
func NewDistributedLock(cfg *Config) (DistributedLock, error) {
	if cfg == nil || !cfg.Enabled {
		return NewNopLock(), nil
	}

	switch cfg.Type {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		return NewRedisLock(client, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("不支持的锁类型: %s", cfg.Type)
	}
}
