package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLock(t *testing.T) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("启动 miniredis 失败: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedisLock(client, "test:lock:")
	t.Cleanup(func() { l.Close() })
	return l, mr
}

func TestRedisLockTryLock(t *testing.T) {
	l, mr := newTestRedisLock(t)
	ctx := context.Background()

	ok, err := l.TryLock(ctx, "manual_fills", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("首次加锁应成功: ok=%v err=%v", ok, err)
	}
	if !mr.Exists("test:lock:manual_fills") {
		t.Error("Redis 中应存在锁 key")
	}

	other := NewRedisLock(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:lock:")
	defer other.Close()
	ok, err = other.TryLock(ctx, "manual_fills", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("锁被占用时 TryLock 应返回 false")
	}

	if err := l.Unlock(ctx, "manual_fills"); err != nil {
		t.Fatalf("释放锁失败: %v", err)
	}
	if mr.Exists("test:lock:manual_fills") {
		t.Error("释放后锁 key 应被删除")
	}
}

func TestRedisLockUnlockNotHeld(t *testing.T) {
	l, _ := newTestRedisLock(t)
	if err := l.Unlock(context.Background(), "nothing"); !errors.Is(err, ErrNotHeld) {
		t.Errorf("期望 ErrNotHeld, 得到 %v", err)
	}
}

func TestRedisLockExpiredCannotUnlock(t *testing.T) {
	l, mr := newTestRedisLock(t)
	ctx := context.Background()

	if ok, _ := l.TryLock(ctx, "prefs", time.Second); !ok {
		t.Fatal("加锁失败")
	}
	mr.FastForward(2 * time.Second)

	if err := l.Unlock(ctx, "prefs"); !errors.Is(err, ErrNotHeld) {
		t.Errorf("过期锁释放应返回 ErrNotHeld, 得到 %v", err)
	}
}

func TestRedisLockWaitsForRelease(t *testing.T) {
	l, mr := newTestRedisLock(t)
	ctx := context.Background()

	if ok, _ := l.TryLock(ctx, "k", 5*time.Second); !ok {
		t.Fatal("加锁失败")
	}

	other := NewRedisLock(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:lock:")
	defer other.Close()

	done := make(chan error, 1)
	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		done <- other.Lock(waitCtx, "k", 5*time.Second)
	}()

	time.Sleep(100 * time.Millisecond)
	if err := l.Unlock(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Errorf("释放后等待方应获得锁: %v", err)
	}
}

func TestRedisLockContextTimeout(t *testing.T) {
	l, _ := newTestRedisLock(t)
	ctx := context.Background()
	l.TryLock(ctx, "busy", 5*time.Second)

	waitCtx, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
	defer cancel()
	other := NewRedisLock(l.client, "test:lock:")
	if err := other.Lock(waitCtx, "busy", time.Second); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("期望超时, 得到 %v", err)
	}
}

func TestRedisLockExtend(t *testing.T) {
	l, mr := newTestRedisLock(t)
	ctx := context.Background()
	l.TryLock(ctx, "k", time.Second)

	if err := l.Extend(ctx, "k", 10*time.Second); err != nil {
		t.Fatalf("续期失败: %v", err)
	}
	if ttl := mr.TTL("test:lock:k"); ttl < 5*time.Second {
		t.Errorf("续期后 TTL 过短: %v", ttl)
	}
}

func TestNewDistributedLockDisabled(t *testing.T) {
	l, err := NewDistributedLock(&Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := l.(*NopLock); !ok {
		t.Errorf("未启用时应返回 NopLock, 得到 %T", l)
	}

	if _, err := NewDistributedLock(&Config{Enabled: true, Type: "etcd"}); err == nil {
		t.Error("不支持的类型应报错")
	}
}
