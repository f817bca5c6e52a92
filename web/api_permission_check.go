package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"spotfolio/exchange"
	"spotfolio/logger"
)

// PermissionCheckResult API 权限检测结果
type PermissionCheckResult struct {
	Exchange     string                   `json:"exchange"`
	Permissions  *exchange.APIPermissions `json:"permissions,omitempty"`
	Warnings     []string                 `json:"warnings"`
	ReadOnly     bool                     `json:"read_only"`
	CheckTime    time.Time                `json:"check_time"`
	ErrorMessage string                   `json:"error_message,omitempty"`
}

// CheckExchangePermissions 检测 API Key 权限，失败只记录不阻止启动
func CheckExchangePermissions(ctx context.Context, name string, checker exchange.PermissionChecker) *PermissionCheckResult {
	result := &PermissionCheckResult{
		Exchange:  name,
		Warnings:  []string{},
		CheckTime: time.Now(),
	}
	if checker == nil {
		result.ErrorMessage = "该交易所暂不支持权限检测"
		return result
	}

	permissions, err := checker.CheckAPIPermissions(ctx)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("权限检测失败: %v", err)
		logger.Error("❌ [%s] API 权限检测失败: %v", name, err)
		return result
	}

	result.Permissions = permissions
	result.ReadOnly = permissions.IsReadOnly()
	result.Warnings = permissions.GetWarnings()

	for _, w := range result.Warnings {
		logger.Warn("[%s] %s", name, w)
	}
	if result.ReadOnly {
		logger.Info("✅ [%s] API 密钥为只读权限", name)
	} else {
		logger.Warn("🚨 [%s] API 密钥权限超出只读需要，建议重新创建只读密钥", name)
	}
	return result
}

// FormatPermissionReport 命令行输出用的检测报告
func FormatPermissionReport(result *PermissionCheckResult) string {
	var b strings.Builder
	line := strings.Repeat("═", 48)

	b.WriteString(line + "\n")
	b.WriteString("            API 权限检测报告\n")
	b.WriteString(line + "\n")
	fmt.Fprintf(&b, "交易所: %s\n", result.Exchange)
	fmt.Fprintf(&b, "检测时间: %s\n", result.CheckTime.Format("2006-01-02 15:04:05"))

	if result.ErrorMessage != "" {
		fmt.Fprintf(&b, "❌ 错误: %s\n", result.ErrorMessage)
		b.WriteString(line + "\n")
		return b.String()
	}

	if p := result.Permissions; p != nil {
		fmt.Fprintf(&b, "  - 读取: %v\n", p.CanRead)
		fmt.Fprintf(&b, "  - 交易: %v\n", p.CanTrade)
		fmt.Fprintf(&b, "  - 提现: %v\n", p.CanWithdraw)
		fmt.Fprintf(&b, "  - 充值: %v\n", p.CanDeposit)
		fmt.Fprintf(&b, "安全评分: %d/100 (%s)\n", p.SecurityScore, p.RiskLevel)
	}
	for _, w := range result.Warnings {
		b.WriteString("  " + w + "\n")
	}
	if result.ReadOnly {
		b.WriteString("✅ 只读密钥\n")
	} else {
		b.WriteString("🚨 建议改用只读密钥\n")
	}
	b.WriteString(line + "\n")
	return b.String()
}

// getAPIPermissions 实时检测当前 API Key 权限
// GET /api/permissions/check
func getAPIPermissions(c *gin.Context) {
	p := getProviders()
	if p.Permissions == nil {
		unavailable(c)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	result := CheckExchangePermissions(ctx, "binance", p.Permissions)
	if result.ErrorMessage != "" {
		c.JSON(http.StatusBadGateway, result)
		return
	}
	c.JSON(http.StatusOK, result)
}
