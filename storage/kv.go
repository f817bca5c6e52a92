package storage

import (
	"context"
	"errors"
)

// 文档名
const (
	DocManualFills    = "manual_fills"
	DocSymbolMappings = "symbol_mappings"
	DocPreferences    = "preferences"
)

// ErrEmptyKey 文档名为空
var ErrEmptyKey = errors.New("文档名不能为空")

// KeyValueStore 整文档读写，不做合并写入
type KeyValueStore interface {
	// Load 把文档解码进 v，文档不存在时返回 false
	Load(ctx context.Context, key string, v interface{}) (bool, error)
	// Save 整体覆盖文档
	Save(ctx context.Context, key string, v interface{}) error
}
