package web

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	"spotfolio/config"
	"spotfolio/logger"
)

const redacted = "******"

var configManager *ConfigManager

// ConfigManager 配置文件读写与热更新
type ConfigManager struct {
	mu          sync.Mutex
	configPath  string
	hotReloader *config.HotReloader
}

// NewConfigManager 创建配置管理器
func NewConfigManager(configPath string, hr *config.HotReloader) *ConfigManager {
	return &ConfigManager{configPath: configPath, hotReloader: hr}
}

// SetConfigManager 设置配置管理器
func SetConfigManager(cm *ConfigManager) {
	configManager = cm
}

// GetConfig 当前生效的配置
func (cm *ConfigManager) GetConfig() (*config.Config, error) {
	if cm.hotReloader != nil {
		if cfg := cm.hotReloader.GetCurrentConfig(); cfg != nil {
			return cfg, nil
		}
	}
	return config.LoadConfig(cm.configPath)
}

// UpdateConfig 保存到文件并尝试热更新
func (cm *ConfigManager) UpdateConfig(newConfig *config.Config) (*config.ConfigDiff, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := config.SaveConfig(newConfig, cm.configPath); err != nil {
		return nil, err
	}
	if cm.hotReloader == nil {
		return &config.ConfigDiff{Changes: []config.ConfigChange{}}, nil
	}
	return cm.hotReloader.UpdateConfig(newConfig)
}

// redactConfig 隐藏密钥类字段
func redactConfig(cfg *config.Config) *config.Config {
	out := *cfg
	if out.Exchange.APIKey != "" {
		out.Exchange.APIKey = redacted
	}
	if out.Exchange.SecretKey != "" {
		out.Exchange.SecretKey = redacted
	}
	if out.DistributedLock.Redis.Password != "" {
		out.DistributedLock.Redis.Password = redacted
	}
	return &out
}

// restoreSecrets 提交的配置里仍是占位符的字段沿用旧值
func restoreSecrets(newCfg, oldCfg *config.Config) {
	if newCfg.Exchange.APIKey == redacted {
		newCfg.Exchange.APIKey = oldCfg.Exchange.APIKey
	}
	if newCfg.Exchange.SecretKey == redacted {
		newCfg.Exchange.SecretKey = oldCfg.Exchange.SecretKey
	}
	if newCfg.DistributedLock.Redis.Password == redacted {
		newCfg.DistributedLock.Redis.Password = oldCfg.DistributedLock.Redis.Password
	}
}

// readConfigBody 请求体为 YAML（JSON 是 YAML 的子集，同样可用）
func readConfigBody(c *gin.Context) (*config.Config, bool) {
	data, err := c.GetRawData()
	if err != nil || len(data) == 0 {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return nil, false
	}
	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": "无效的配置格式: " + err.Error()})
		return nil, false
	}
	return &cfg, true
}

// getConfigHandler 当前配置（YAML，密钥已隐藏）
// GET /api/config
func getConfigHandler(c *gin.Context) {
	if configManager == nil {
		unavailable(c)
		return
	}
	cfg, err := configManager.GetConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	data, err := yaml.Marshal(redactConfig(cfg))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "序列化配置失败: " + err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/x-yaml", data)
}

// getConfigJSONHandler 当前配置（JSON，字段名沿用 yaml 标签）
// GET /api/config/json
func getConfigJSONHandler(c *gin.Context) {
	if configManager == nil {
		unavailable(c)
		return
	}
	cfg, err := configManager.GetConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	yamlData, err := yaml.Marshal(redactConfig(cfg))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "序列化配置失败: " + err.Error()})
		return
	}
	var configMap map[string]interface{}
	if err := yaml.Unmarshal(yamlData, &configMap); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "转换配置格式失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, configMap)
}

// validateConfigHandler 只校验不保存
// POST /api/config/validate
func validateConfigHandler(c *gin.Context) {
	cfg, ok := readConfigBody(c)
	if !ok {
		return
	}
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// previewConfigHandler 预览与当前配置的差异
// POST /api/config/preview
func previewConfigHandler(c *gin.Context) {
	if configManager == nil {
		unavailable(c)
		return
	}
	newCfg, ok := readConfigBody(c)
	if !ok {
		return
	}
	oldCfg, err := configManager.GetConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	restoreSecrets(newCfg, oldCfg)
	if err := newCfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": err.Error()})
		return
	}
	diff := config.DiffConfig(oldCfg, newCfg)
	c.JSON(http.StatusOK, gin.H{"diff": diff, "requires_restart": diff.RequiresRestart})
}

// updateConfigHandler 保存配置，可热更新的项立即生效
// POST /api/config/update
func updateConfigHandler(c *gin.Context) {
	if configManager == nil {
		unavailable(c)
		return
	}
	newCfg, ok := readConfigBody(c)
	if !ok {
		return
	}
	oldCfg, err := configManager.GetConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	restoreSecrets(newCfg, oldCfg)
	if err := newCfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": err.Error()})
		return
	}

	diff, err := configManager.UpdateConfig(newCfg)
	if err != nil {
		logger.Error("❌ 更新配置失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Info("✅ 配置已通过 Web 更新，变更 %d 项", len(diff.Changes))
	c.JSON(http.StatusOK, gin.H{"diff": diff, "requires_restart": diff.RequiresRestart})
}
