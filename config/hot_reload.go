package config

import (
	"fmt"
	"sync"
)

// ConfigUpdateCallback 配置热更新回调，只会收到可热更新的变更
type ConfigUpdateCallback func(oldConfig, newConfig *Config, changes []ConfigChange) error

// HotReloader 配置热更新器
type HotReloader struct {
	mu              sync.RWMutex
	currentConfig   *Config
	updateCallbacks []ConfigUpdateCallback
}

// NewHotReloader 创建热更新器
func NewHotReloader(initialConfig *Config) *HotReloader {
	return &HotReloader{currentConfig: initialConfig}
}

// RegisterCallback 注册配置更新回调
func (hr *HotReloader) RegisterCallback(callback ConfigUpdateCallback) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.updateCallbacks = append(hr.updateCallbacks, callback)
}

// GetCurrentConfig 获取当前生效的配置
func (hr *HotReloader) GetCurrentConfig() *Config {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	return hr.currentConfig
}

// UpdateConfig 应用新配置中可热更新的部分，需要重启的变更保留旧值
func (hr *HotReloader) UpdateConfig(newConfig *Config) (*ConfigDiff, error) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	diff := DiffConfig(hr.currentConfig, newConfig)

	applied := *hr.currentConfig
	var hot []ConfigChange
	for _, c := range diff.Changes {
		if c.RequiresRestart {
			continue
		}
		hot = append(hot, c)
		switch c.Path {
		case "system.log_level":
			applied.System.LogLevel = newConfig.System.LogLevel
		case "stream.poll_interval":
			applied.Stream.PollInterval = newConfig.Stream.PollInterval
		case "market.price_cache_ttl":
			applied.Market.PriceCacheTTL = newConfig.Market.PriceCacheTTL
		case "market.min_usd_value":
			applied.Market.MinUSDValue = newConfig.Market.MinUSDValue
		case "market.backoff_base":
			applied.Market.BackoffBase = newConfig.Market.BackoffBase
		case "market.backoff_jitter":
			applied.Market.BackoffJitter = newConfig.Market.BackoffJitter
		case "market.base_currency":
			applied.Market.BaseCurrency = newConfig.Market.BaseCurrency
		}
	}
	if len(hot) == 0 {
		return diff, nil
	}

	for _, cb := range hr.updateCallbacks {
		if err := cb(hr.currentConfig, &applied, hot); err != nil {
			return nil, fmt.Errorf("执行配置更新回调失败: %w", err)
		}
	}
	hr.currentConfig = &applied
	return diff, nil
}
