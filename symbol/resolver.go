package symbol

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"spotfolio/event"
	"spotfolio/logger"
	"spotfolio/storage"
	"spotfolio/utils"
)

// DocumentStore 映射持久化所需的文档操作
type DocumentStore interface {
	Load(ctx context.Context, key string, v interface{}) (bool, error)
	Mutate(ctx context.Context, key string, v interface{}, fn func() error) error
}

// Resolver 把交易所不认识的交易对改写为用户指定的有效交易对
type Resolver struct {
	docs   DocumentStore
	events event.Publisher

	mu       sync.RWMutex
	mappings map[string]string // invalid -> valid
}

// NewResolver 启动时读取一次映射表
func NewResolver(ctx context.Context, docs DocumentStore, events event.Publisher) (*Resolver, error) {
	if events == nil {
		events = event.Discard
	}
	r := &Resolver{
		docs:     docs,
		events:   events,
		mappings: make(map[string]string),
	}
	if docs == nil {
		return r, nil
	}

	loaded := map[string]string{}
	if _, err := docs.Load(ctx, storage.DocSymbolMappings, &loaded); err != nil {
		return nil, fmt.Errorf("加载交易对映射失败: %w", err)
	}
	for k, v := range loaded {
		r.mappings[utils.NormalizeSymbol(k)] = utils.NormalizeSymbol(v)
	}
	if len(r.mappings) > 0 {
		logger.Info("✅ 已加载 %d 条交易对映射", len(r.mappings))
	}
	return r, nil
}

// Resolve 返回映射后的交易对，没有映射时原样返回
func (r *Resolver) Resolve(symbol string) string {
	symbol = utils.NormalizeSymbol(symbol)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if valid, ok := r.mappings[symbol]; ok {
		return valid
	}
	return symbol
}

// Lookup 返回映射以及是否存在
func (r *Resolver) Lookup(symbol string) (string, bool) {
	symbol = utils.NormalizeSymbol(symbol)
	r.mu.RLock()
	defer r.mu.RUnlock()
	valid, ok := r.mappings[symbol]
	return valid, ok
}

// AddMapping 新增或覆盖一条映射，并整表写回
func (r *Resolver) AddMapping(ctx context.Context, invalid, valid string) error {
	invalid = utils.NormalizeSymbol(invalid)
	valid = utils.NormalizeSymbol(valid)
	if invalid == "" || valid == "" {
		return fmt.Errorf("交易对不能为空")
	}

	if err := r.update(ctx, func(m map[string]string) { m[invalid] = valid }); err != nil {
		return err
	}
	logger.Info("✅ 交易对映射: %s -> %s", invalid, valid)
	r.events.Publish(&event.Event{
		Type: event.EventTypeMappingAdded,
		Data: map[string]interface{}{"invalid": invalid, "valid": valid},
	})
	return nil
}

// RemoveMapping 删除映射，不存在时返回 false
func (r *Resolver) RemoveMapping(ctx context.Context, invalid string) (bool, error) {
	invalid = utils.NormalizeSymbol(invalid)
	if _, ok := r.Lookup(invalid); !ok {
		return false, nil
	}
	if err := r.update(ctx, func(m map[string]string) { delete(m, invalid) }); err != nil {
		return false, err
	}
	r.events.Publish(&event.Event{
		Type: event.EventTypeMappingRemoved,
		Data: map[string]interface{}{"invalid": invalid},
	})
	return true, nil
}

// update 在写锁内修改，写盘成功后才替换内存中的表
func (r *Resolver) update(ctx context.Context, apply func(map[string]string)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.docs == nil {
		next := copyMap(r.mappings)
		apply(next)
		r.mappings = next
		return nil
	}

	persisted := map[string]string{}
	err := r.docs.Mutate(ctx, storage.DocSymbolMappings, &persisted, func() error {
		// 以锁内读到的最新文档为准，其他进程的写入不会丢失
		apply(persisted)
		return nil
	})
	if err != nil {
		return fmt.Errorf("保存交易对映射失败: %w", err)
	}
	r.mappings = copyMap(persisted)
	return nil
}

// Mappings 映射表快照
func (r *Resolver) Mappings() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyMap(r.mappings)
}

// InvalidFor 以 asset 开头的无效交易对，按字母序
func (r *Resolver) InvalidFor(asset string) []string {
	asset = utils.NormalizeSymbol(asset)
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for invalid := range r.mappings {
		if strings.HasPrefix(invalid, asset) {
			out = append(out, invalid)
		}
	}
	sort.Strings(out)
	return out
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
