package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"spotfolio/logger"
)

// JobFunc 定时任务，ctx 在调度器停止时取消
type JobFunc func(ctx context.Context) error

// JobStatus 任务最近一次运行情况
type JobStatus struct {
	Name     string        `json:"name"`
	Spec     string        `json:"spec"`
	LastRun  time.Time     `json:"last_run"`
	Duration time.Duration `json:"duration"`
	LastErr  string        `json:"last_error,omitempty"`
	Runs     int           `json:"runs"`
	Next     time.Time     `json:"next"`
}

type job struct {
	id     cron.EntryID
	status JobStatus
	fn     JobFunc
}

// Scheduler 基于 cron 表达式（五段式）的周期任务
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser

	mu   sync.Mutex
	jobs map[string]*job

	ctx    context.Context
	cancel context.CancelFunc
}

// New loc 为 nil 时使用本地时区
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			// 上一次还没跑完时跳过本次
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		parser: parser,
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add 注册任务，同名任务会被替换
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("解析 %s 的 cron 表达式 %q 失败: %w", name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.id)
	}
	j := &job{status: JobStatus{Name: name, Spec: spec}, fn: fn}
	j.id = s.cron.Schedule(schedule, cron.FuncJob(func() { s.run(j) }))
	s.jobs[name] = j
	logger.Debug("⏰ 已注册定时任务 %s (%s)", name, spec)
	return nil
}

// ErrJobNotFound 任务名未注册
var ErrJobNotFound = errors.New("定时任务不存在")

// RunNow 立即执行一次（同步）
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.run(j)
}

func (s *Scheduler) run(j *job) error {
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	start := time.Now()
	err := j.fn(s.ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	j.status.LastRun = start
	j.status.Duration = elapsed
	j.status.Runs++
	j.status.LastErr = ""
	if err != nil {
		j.status.LastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		logger.Warn("⚠️ 定时任务 %s 失败: %v", j.status.Name, err)
	} else {
		logger.Debug("✅ 定时任务 %s 完成，耗时 %v", j.status.Name, elapsed)
	}
	return err
}

// Status 所有任务的运行情况
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := j.status
		st.Next = s.cron.Entry(j.id).Next
		out = append(out, st)
	}
	return out
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("⏰ 定时任务调度器已启动 (%d 个任务)", len(s.jobs))
}

// Stop 停止调度并等待正在运行的任务结束
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	logger.Info("✅ 定时任务调度器已停止")
}
