package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// dailyFile 按日期切分的日志文件
type dailyFile struct {
	pattern string

	mu     sync.Mutex
	file   *os.File
	out    *log.Logger
	date   string
	opened bool
}

// open 启用文件输出，同一天内重复调用不会重新打开
func (d *dailyFile) open(t time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = true
	return d.rotateLocked(t)
}

func (d *dailyFile) rotateLocked(t time.Time) error {
	today := t.Format("2006-01-02")
	if d.out != nil && d.date == today {
		return nil
	}
	if d.file != nil {
		d.file.Close()
		d.file, d.out = nil, nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("创建日志文件夹失败: %w", err)
	}
	name := filepath.Join(logDir, fmt.Sprintf(d.pattern, today))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	d.file = f
	d.out = log.New(f, "", 0)
	d.date = today
	return nil
}

// write 写入一行，跨天时自动切换文件；未启用时丢弃
func (d *dailyFile) write(t time.Time, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.opened {
		return
	}
	if err := d.rotateLocked(t); err != nil {
		return
	}
	d.out.Printf("%s %s", t.Format("2006/01/02 15:04:05"), message)
}

func (d *dailyFile) close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file != nil {
		d.file.Close()
	}
	d.file, d.out, d.date = nil, nil, ""
	d.opened = false
}
