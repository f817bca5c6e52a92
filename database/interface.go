package database

import (
	"context"
	"time"
)

// Database 以数据库表承载 KeyValueStore 文档
type Database interface {
	Load(ctx context.Context, key string, v interface{}) (bool, error)
	Save(ctx context.Context, key string, v interface{}) error

	// Keys 列出已保存的文档名
	Keys(ctx context.Context) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// Document 一行一个文档，正文为 JSON
type Document struct {
	Key       string    `gorm:"primaryKey;size:64" json:"key"`
	Body      string    `gorm:"type:text" json:"body"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Document) TableName() string {
	return "kv_documents"
}
