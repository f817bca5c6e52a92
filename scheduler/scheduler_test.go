package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddRejectsBadSpec(t *testing.T) {
	s := New(time.UTC)
	if err := s.Add("bad", "every minute", func(context.Context) error { return nil }); err == nil {
		t.Error("非法 cron 表达式应报错")
	}
	if err := s.Add("hourly", "0 * * * *", func(context.Context) error { return nil }); err != nil {
		t.Errorf("合法表达式报错: %v", err)
	}
	if err := s.Add("desc", "@every 1h", func(context.Context) error { return nil }); err != nil {
		t.Errorf("描述符表达式报错: %v", err)
	}
}

func TestRunNowRecordsStatus(t *testing.T) {
	s := New(time.UTC)
	var calls int32
	boom := errors.New("boom")
	s.Add("fees", "0 * * * *", func(context.Context) error {
		if atomic.AddInt32(&calls, 1) == 2 {
			return boom
		}
		return nil
	})

	if err := s.RunNow("fees"); err != nil {
		t.Fatalf("第一次运行失败: %v", err)
	}
	if err := s.RunNow("fees"); !errors.Is(err, boom) {
		t.Fatalf("第二次运行应返回任务错误, 得到 %v", err)
	}
	if err := s.RunNow("missing"); err == nil {
		t.Error("不存在的任务应报错")
	}

	st := s.Status()
	if len(st) != 1 || st[0].Runs != 2 || st[0].LastErr != "boom" {
		t.Errorf("任务状态错误: %+v", st)
	}
}

func TestReplaceJob(t *testing.T) {
	s := New(time.UTC)
	var first, second int32
	s.Add("job", "0 * * * *", func(context.Context) error { atomic.AddInt32(&first, 1); return nil })
	s.Add("job", "0 * * * *", func(context.Context) error { atomic.AddInt32(&second, 1); return nil })

	s.RunNow("job")
	if first != 0 || second != 1 {
		t.Errorf("同名任务应被替换: first=%d second=%d", first, second)
	}
	if len(s.Status()) != 1 {
		t.Errorf("替换后应只有一个任务")
	}
}

func TestStopCancelsContext(t *testing.T) {
	s := New(time.UTC)
	s.Add("job", "@every 1h", func(context.Context) error { return nil })
	s.Start()
	s.Stop()
	if err := s.RunNow("job"); err == nil {
		t.Error("停止后运行应返回 ctx 错误")
	}
}
