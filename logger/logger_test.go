package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		" INFO ":  INFO,
		"warning": WARN,
		"error":   ERROR,
		"fatal":   FATAL,
		"unknown": INFO,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("解析 %q 错误: 期望 %s, 得到 %s", in, want, got)
		}
	}
}

func TestLogStorageWriter(t *testing.T) {
	SetLevel(INFO)
	defer Close()

	var (
		mu    sync.Mutex
		lines []string
		done  = make(chan struct{}, 4)
	)
	InitLogStorage(func(level, message string) {
		mu.Lock()
		lines = append(lines, level+"|"+message)
		mu.Unlock()
		done <- struct{}{}
	})

	Debug("不应写入 %d", 1)
	Warn("⚠️ 价格缓存过期: %s", "BTCUSDT")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("日志写入器未被调用")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 1 {
		t.Fatalf("期望 1 条日志, 得到 %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "WARN|[WARN]") || !strings.Contains(lines[0], "BTCUSDT") {
		t.Errorf("日志内容错误: %s", lines[0])
	}
}

func TestDebugWritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	SetLogDir(dir)
	defer SetLogDir("logs")

	SetLevel(DEBUG)
	Debug("🔄 刷新手续费率")
	SetLevel(INFO)

	matches, err := filepath.Glob(filepath.Join(dir, "app-spotfolio-*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("期望生成一个日志文件, 得到 %v (%v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	if !strings.Contains(string(data), "刷新手续费率") {
		t.Errorf("日志文件内容缺失: %s", data)
	}
}

func TestTranslateFunc(t *testing.T) {
	SetTranslateFunc(func(key string, data ...interface{}) string {
		if key == "hello %s" {
			return "你好 %s"
		}
		return key
	})
	defer SetTranslateFunc(nil)

	if got := translate("hello %s"); got != "你好 %s" {
		t.Errorf("翻译失败: %s", got)
	}
	if got := translate("other"); got != "other" {
		t.Errorf("未知 key 应原样返回: %s", got)
	}
}
