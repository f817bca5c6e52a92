package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"spotfolio/utils"
)

const maxLogSubscribers = 100

// LogStorage 把日志批量写入 SQLite，并推送给实时订阅者
type LogStorage struct {
	db     *sql.DB
	mu     sync.RWMutex
	logCh  chan *LogRecord
	done   chan struct{}
	closed bool

	subscribers []chan *LogRecord
	subMu       sync.RWMutex
}

// LogQueryParams 日志查询参数
type LogQueryParams struct {
	StartTime time.Time
	EndTime   time.Time
	Level     string
	Keyword   string
	Limit     int
	Offset    int
}

// LogRecord 日志记录
type LogRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// NewLogStorage 打开（或创建）日志数据库
func NewLogStorage(path string) (*LogStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("打开日志数据库失败: %w", err)
	}
	// SQLite 单写者
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ls, err := NewLogStorageWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return ls, nil
}

// NewLogStorageWithDB 使用已有连接创建日志存储
func NewLogStorageWithDB(db *sql.DB) (*LogStorage, error) {
	ls := &LogStorage{
		db:    db,
		logCh: make(chan *LogRecord, 500),
		done:  make(chan struct{}),
	}
	if err := ls.createTable(); err != nil {
		return nil, fmt.Errorf("创建日志表失败: %w", err)
	}
	go ls.processLogs()
	return ls, nil
}

// DB 底层连接，供同库的其他表使用
func (ls *LogStorage) DB() *sql.DB {
	return ls.db
}

func (ls *LogStorage) createTable() error {
	_, err := ls.db.Exec(`
	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level);
	`)
	return err
}

// WriteLog 异步写入，队列满时丢弃
func (ls *LogStorage) WriteLog(level, message string) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	if ls.closed {
		return
	}

	select {
	case ls.logCh <- &LogRecord{Timestamp: utils.NowUTC(), Level: level, Message: message}:
	default:
	}
}

// processLogs 满 100 条或每秒刷新一次
func (ls *LogStorage) processLogs() {
	defer close(ls.done)

	buffer := make([]*LogRecord, 0, 100)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		if err := ls.batchInsert(buffer); err == nil {
			ls.notifySubscribers(buffer)
		}
		buffer = make([]*LogRecord, 0, 100)
	}

	for {
		select {
		case entry, ok := <-ls.logCh:
			if !ok {
				flush()
				return
			}
			buffer = append(buffer, entry)
			if len(buffer) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (ls *LogStorage) batchInsert(entries []*LogRecord) error {
	tx, err := ls.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO logs (timestamp, level, message) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, entry := range entries {
		result, err := stmt.Exec(entry.Timestamp, entry.Level, entry.Message)
		if err != nil {
			return err
		}
		entry.ID, _ = result.LastInsertId()
	}
	return tx.Commit()
}

// Subscribe 订阅新写入的日志，超过上限时踢掉最早的订阅者
func (ls *LogStorage) Subscribe() <-chan *LogRecord {
	ls.subMu.Lock()
	defer ls.subMu.Unlock()

	ch := make(chan *LogRecord, 100)
	ls.subscribers = append(ls.subscribers, ch)
	if len(ls.subscribers) > maxLogSubscribers {
		close(ls.subscribers[0])
		ls.subscribers = ls.subscribers[1:]
	}
	return ch
}

// Unsubscribe 取消订阅
func (ls *LogStorage) Unsubscribe(ch <-chan *LogRecord) {
	ls.subMu.Lock()
	defer ls.subMu.Unlock()

	for i, sub := range ls.subscribers {
		if sub == ch {
			ls.subscribers = append(ls.subscribers[:i], ls.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

func (ls *LogStorage) notifySubscribers(records []*LogRecord) {
	ls.subMu.RLock()
	defer ls.subMu.RUnlock()

	for _, r := range records {
		for _, sub := range ls.subscribers {
			select {
			case sub <- r:
			default:
			}
		}
	}
}

// GetLogs 按条件分页查询，按时间倒序
func (ls *LogStorage) GetLogs(params LogQueryParams) ([]*LogRecord, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if !params.StartTime.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, params.StartTime)
	}
	if !params.EndTime.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, params.EndTime)
	}
	if params.Level != "" {
		where = append(where, "level = ?")
		args = append(args, params.Level)
	}
	if params.Keyword != "" {
		where = append(where, "message LIKE ?")
		args = append(args, "%"+params.Keyword+"%")
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	if err := ls.db.QueryRow("SELECT COUNT(*) FROM logs WHERE "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("查询日志总数失败: %w", err)
	}

	if params.Limit <= 0 {
		params.Limit = 100
	}
	if params.Limit > 1000 {
		params.Limit = 1000
	}
	args = append(args, params.Limit, params.Offset)

	rows, err := ls.db.Query(
		"SELECT id, timestamp, level, message FROM logs WHERE "+whereClause+" ORDER BY timestamp DESC LIMIT ? OFFSET ?",
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("查询日志失败: %w", err)
	}
	defer rows.Close()

	var records []*LogRecord
	for rows.Next() {
		var r LogRecord
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Level, &r.Message); err != nil {
			continue
		}
		records = append(records, &r)
	}
	return records, total, rows.Err()
}

// CleanOldLogs 删除 days 天之前的日志
func (ls *LogStorage) CleanOldLogs(days int) (int64, error) {
	result, err := ls.db.Exec(`DELETE FROM logs WHERE timestamp < ?`, time.Now().AddDate(0, 0, -days))
	if err != nil {
		return 0, fmt.Errorf("清理日志失败: %w", err)
	}
	return result.RowsAffected()
}

// Close 刷新剩余日志后关闭
func (ls *LogStorage) Close() error {
	ls.mu.Lock()
	if ls.closed {
		ls.mu.Unlock()
		return nil
	}
	ls.closed = true
	close(ls.logCh)
	ls.mu.Unlock()

	<-ls.done

	ls.subMu.Lock()
	for _, sub := range ls.subscribers {
		close(sub)
	}
	ls.subscribers = nil
	ls.subMu.Unlock()

	return ls.db.Close()
}
