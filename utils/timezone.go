package utils

import (
	"sync"
	"time"
)

var (
	globalLocation = time.UTC
	locationMu     sync.RWMutex
)

// SetLocation 设置展示用时区，加载失败时保留原值并返回错误
func SetLocation(name string) error {
	if name == "" {
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == "UTC+8" {
			loc = time.FixedZone("UTC+8", 8*60*60)
		} else {
			return err
		}
	}
	locationMu.Lock()
	globalLocation = loc
	locationMu.Unlock()
	return nil
}

// Location 返回当前配置的时区
func Location() *time.Location {
	locationMu.RLock()
	defer locationMu.RUnlock()
	return globalLocation
}

// NowUTC 获取当前UTC时间
func NowUTC() time.Time {
	return time.Now().UTC()
}

// FromMillis 将交易所毫秒时间戳转换为配置时区的时间
func FromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).In(Location())
}

// NowMillis 当前毫秒时间戳
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
