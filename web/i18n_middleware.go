package web

import (
	"strings"

	"github.com/gin-gonic/gin"

	"spotfolio/i18n"
)

// I18nMiddleware 解析 Accept-Language 并写入上下文，?lang= 优先
func I18nMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := c.Query("lang")
		if lang == "" {
			lang = c.GetHeader("Accept-Language")
		}
		c.Set("language", parseAcceptLanguage(lang))
		c.Next()
	}
}

// parseAcceptLanguage 取优先级最高的语言
// 示例: "en-US,en;q=0.9,zh;q=0.8" -> "en-US"
func parseAcceptLanguage(acceptLang string) string {
	if acceptLang == "" {
		return i18n.GetSystemLanguage()
	}

	first := strings.TrimSpace(strings.Split(acceptLang, ",")[0])
	if idx := strings.Index(first, ";"); idx != -1 {
		first = first[:idx]
	}
	return normalizeLanguage(strings.TrimSpace(first))
}

// normalizeLanguage 只有 zh-CN 和 en-US 两套翻译
func normalizeLanguage(lang string) string {
	lang = strings.ToLower(lang)
	switch {
	case strings.HasPrefix(lang, "en"):
		return "en-US"
	case strings.HasPrefix(lang, "zh"):
		return "zh-CN"
	default:
		if sys := i18n.GetSystemLanguage(); sys != "" {
			return sys
		}
		return "zh-CN"
	}
}

// GetLanguage 从上下文获取语言
func GetLanguage(c *gin.Context) string {
	if lang, exists := c.Get("language"); exists {
		if l, ok := lang.(string); ok && l != "" {
			return l
		}
	}
	return "zh-CN"
}

// T 按请求语言翻译
func T(c *gin.Context, key string, data ...interface{}) string {
	return i18n.TWithLang(GetLanguage(c), key, data...)
}
