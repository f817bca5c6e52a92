package config

import (
	"reflect"
	"strings"
)

// ConfigChange 单个配置项变更
type ConfigChange struct {
	Path            string      `json:"path"` // 如 "stream.poll_interval"
	OldValue        interface{} `json:"old_value"`
	NewValue        interface{} `json:"new_value"`
	RequiresRestart bool        `json:"requires_restart"`
}

// ConfigDiff 配置差异
type ConfigDiff struct {
	Changes         []ConfigChange `json:"changes"`
	RequiresRestart bool           `json:"requires_restart"`
}

// hotReloadable 运行中可以直接生效的配置项
var hotReloadable = map[string]bool{
	"system.log_level":       true,
	"stream.poll_interval":   true,
	"market.price_cache_ttl": true,
	"market.min_usd_value":   true,
	"market.backoff_base":    true,
	"market.backoff_jitter":  true,
	"market.base_currency":   true,
}

// DiffConfig 按 yaml 路径逐项对比两个配置
func DiffConfig(oldConfig, newConfig *Config) *ConfigDiff {
	diff := &ConfigDiff{Changes: []ConfigChange{}}
	if oldConfig == nil || newConfig == nil {
		return diff
	}
	diff.compare(reflect.ValueOf(*oldConfig), reflect.ValueOf(*newConfig), "")
	for _, c := range diff.Changes {
		if c.RequiresRestart {
			diff.RequiresRestart = true
			break
		}
	}
	return diff
}

func (d *ConfigDiff) compare(oldVal, newVal reflect.Value, path string) {
	if oldVal.Kind() == reflect.Struct {
		t := oldVal.Type()
		for i := 0; i < t.NumField(); i++ {
			name := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
			if name == "" || name == "-" {
				name = strings.ToLower(t.Field(i).Name)
			}
			if path != "" {
				name = path + "." + name
			}
			d.compare(oldVal.Field(i), newVal.Field(i), name)
		}
		return
	}

	if reflect.DeepEqual(oldVal.Interface(), newVal.Interface()) {
		return
	}
	d.Changes = append(d.Changes, ConfigChange{
		Path:            path,
		OldValue:        oldVal.Interface(),
		NewValue:        newVal.Interface(),
		RequiresRestart: !hotReloadable[path],
	})
}
