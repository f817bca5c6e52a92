package market

import (
	"context"
	"fmt"

	"spotfolio/logger"
	"spotfolio/storage"
	"spotfolio/utils"
)

// Preferences 用户偏好
type Preferences struct {
	PreferredPairs map[string]string `json:"preferred_pairs"`
}

func (f *Facade) loadPreferences(ctx context.Context) {
	f.prefMu.Lock()
	defer f.prefMu.Unlock()
	if f.prefsRead || f.docs == nil {
		return
	}
	var p Preferences
	if _, err := f.docs.Load(ctx, storage.DocPreferences, &p); err != nil {
		logger.Warn("⚠️ 读取偏好设置失败: %v", err)
		return
	}
	if p.PreferredPairs == nil {
		p.PreferredPairs = map[string]string{}
	}
	f.prefs = p
	f.prefsRead = true
}

// PreferredPair 资产的首选交易对，没有时返回空字符串
func (f *Facade) PreferredPair(ctx context.Context, asset string) string {
	f.loadPreferences(ctx)
	f.prefMu.RLock()
	defer f.prefMu.RUnlock()
	return f.prefs.PreferredPairs[utils.NormalizeSymbol(asset)]
}

// PreferredPairs 全部首选交易对
func (f *Facade) PreferredPairs(ctx context.Context) map[string]string {
	f.loadPreferences(ctx)
	f.prefMu.RLock()
	defer f.prefMu.RUnlock()
	out := make(map[string]string, len(f.prefs.PreferredPairs))
	for k, v := range f.prefs.PreferredPairs {
		out[k] = v
	}
	return out
}

// SetPreferredPair 设置首选交易对，asset 为空时从交易对推导
func (f *Facade) SetPreferredPair(ctx context.Context, asset, pair string) (string, error) {
	pair = utils.NormalizeSymbol(pair)
	if pair == "" {
		return "", fmt.Errorf("交易对不能为空")
	}
	asset = utils.NormalizeSymbol(asset)
	if asset == "" {
		asset = utils.AssetFromPair(pair)
	}

	f.loadPreferences(ctx)
	f.prefMu.Lock()
	defer f.prefMu.Unlock()

	if f.docs == nil {
		f.prefs.PreferredPairs[asset] = pair
		return asset, nil
	}

	var persisted Preferences
	err := f.docs.Mutate(ctx, storage.DocPreferences, &persisted, func() error {
		if persisted.PreferredPairs == nil {
			persisted.PreferredPairs = map[string]string{}
		}
		persisted.PreferredPairs[asset] = pair
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("保存偏好设置失败: %w", err)
	}
	f.prefs = persisted
	f.prefsRead = true
	logger.Info("✅ %s 首选交易对: %s", asset, pair)
	return asset, nil
}
