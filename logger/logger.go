package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel 日志级别
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var (
	globalLevel LogLevel = INFO
	mu          sync.RWMutex

	logDir = "logs"

	// 应用日志只在 DEBUG 级别落盘，Web 访问日志按需开启
	appFile = &dailyFile{pattern: "app-spotfolio-%s.log"}
	webFile = &dailyFile{pattern: "web-gin-%s.log"}

	globalLocation *time.Location = time.Local
	locationMu     sync.RWMutex

	// 通过函数指针注入，避免 logger 依赖 storage
	logStorageWriter func(level, message string)
	logStorageMu     sync.RWMutex

	translateFunc func(key string, data ...interface{}) string
	translateMu   sync.RWMutex
)

// String 返回日志级别的字符串表示
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel 解析日志级别字符串，无法识别时返回 INFO
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// SetLevel 设置全局日志级别
func SetLevel(level LogLevel) {
	mu.Lock()
	globalLevel = level
	mu.Unlock()

	if level == DEBUG {
		if err := appFile.open(now()); err != nil {
			log.Printf("[WARN] 打开日志文件失败: %v，将只输出到控制台", err)
		}
	} else {
		appFile.close()
	}
}

// GetLevel 获取全局日志级别
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return globalLevel
}

// SetLocation 设置日志时间使用的时区
func SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	locationMu.Lock()
	defer locationMu.Unlock()
	globalLocation = loc
}

// SetLogDir 修改日志目录（默认 logs）
func SetLogDir(dir string) {
	if dir == "" {
		return
	}
	appFile.close()
	webFile.close()
	logDir = dir
}

// SetTranslateFunc 设置翻译函数（由 main 包注入 i18n.T）
func SetTranslateFunc(fn func(key string, data ...interface{}) string) {
	translateMu.Lock()
	defer translateMu.Unlock()
	translateFunc = fn
}

// InitLogStorage 设置日志持久化写入器
func InitLogStorage(writer func(level, message string)) {
	logStorageMu.Lock()
	defer logStorageMu.Unlock()
	logStorageWriter = writer
}

// InitWebLogger 启用 Web 访问日志文件
func InitWebLogger() error {
	if err := webFile.open(now()); err != nil {
		return fmt.Errorf("打开 Web 日志文件失败: %w", err)
	}
	return nil
}

// WriteWebLog 写入 Web 访问日志（供 Gin 中间件使用）
func WriteWebLog(message string) {
	webFile.write(now(), message)
}

// Close 关闭日志文件并清理持久化写入器
func Close() {
	appFile.close()
	webFile.close()

	logStorageMu.Lock()
	defer logStorageMu.Unlock()
	logStorageWriter = nil
}

func now() time.Time {
	locationMu.RLock()
	defer locationMu.RUnlock()
	return time.Now().In(globalLocation)
}

func translate(message string) string {
	translateMu.RLock()
	fn := translateFunc
	translateMu.RUnlock()

	if fn == nil {
		return message
	}
	if translated := fn(message); translated != "" {
		return translated
	}
	return message
}

func emit(level LogLevel, message string) {
	if level < GetLevel() {
		return
	}
	line := fmt.Sprintf("[%s] %s", level.String(), message)
	log.Print(line)

	if GetLevel() == DEBUG {
		appFile.write(now(), line)
	}

	logStorageMu.RLock()
	writer := logStorageWriter
	logStorageMu.RUnlock()

	if writer != nil {
		go func() {
			defer func() {
				// 持久化失败不能影响主流程，也不能再写日志
				_ = recover()
			}()
			writer(level.String(), line)
		}()
	}
}

func logf(level LogLevel, format string, args ...interface{}) {
	if level < GetLevel() {
		return
	}
	emit(level, fmt.Sprintf(translate(format), args...))
}

// Debug 输出调试日志
func Debug(format string, args ...interface{}) {
	logf(DEBUG, format, args...)
}

// Info 输出一般信息日志
func Info(format string, args ...interface{}) {
	logf(INFO, format, args...)
}

// Warn 输出警告日志
func Warn(format string, args ...interface{}) {
	logf(WARN, format, args...)
}

// Error 输出错误日志
func Error(format string, args ...interface{}) {
	logf(ERROR, format, args...)
}

// Errorln 输出错误日志（无格式）
func Errorln(args ...interface{}) {
	emit(ERROR, strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

// Fatal 输出致命错误日志并退出程序
func Fatal(format string, args ...interface{}) {
	logf(FATAL, format, args...)
	Close()
	os.Exit(1)
}

// Fatalf 同 Fatal（兼容标准库命名）
func Fatalf(format string, args ...interface{}) {
	Fatal(format, args...)
}
