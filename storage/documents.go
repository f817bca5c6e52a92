package storage

import (
	"context"
	"fmt"
	"time"

	"spotfolio/lock"
	"spotfolio/logger"
	"spotfolio/metrics"
)

// Documents 在 KeyValueStore 之上串行化读-改-写
//
// 同一进程内由调用方的互斥锁保证顺序，跨进程由分布式锁保证。
type Documents struct {
	kv     KeyValueStore
	locker lock.DistributedLock
	ttl    time.Duration
}

// NewDocuments locker 为 nil 时使用 NopLock
func NewDocuments(kv KeyValueStore, locker lock.DistributedLock, ttl time.Duration) *Documents {
	if locker == nil {
		locker = lock.NewNopLock()
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Documents{kv: kv, locker: locker, ttl: ttl}
}

// Load 读取文档
func (d *Documents) Load(ctx context.Context, key string, v interface{}) (bool, error) {
	return d.kv.Load(ctx, key, v)
}

// Mutate 加锁后重新读取文档，交给 fn 修改，再整体写回
//
// fn 返回错误时不写回。
func (d *Documents) Mutate(ctx context.Context, key string, v interface{}, fn func() error) error {
	pm := metrics.GetPrometheusMetrics()

	if err := d.locker.Lock(ctx, key, d.ttl); err != nil {
		pm.RecordLockAcquire(key, "failed")
		return fmt.Errorf("获取文档锁 %s 失败: %w", key, err)
	}
	pm.RecordLockAcquire(key, "success")
	start := time.Now()
	defer func() {
		if err := d.locker.Unlock(context.Background(), key); err != nil {
			logger.Warn("⚠️ 释放文档锁 %s 失败: %v", key, err)
		}
		pm.RecordLockHoldDuration(key, time.Since(start))
	}()

	if _, err := d.kv.Load(ctx, key, v); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return d.kv.Save(ctx, key, v)
}
