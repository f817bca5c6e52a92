package exchange

import "context"

// PermissionChecker API 权限检测接口
type PermissionChecker interface {
	CheckAPIPermissions(ctx context.Context) (*APIPermissions, error)
}

// APIPermissions API 权限信息
type APIPermissions struct {
	CanRead     bool `json:"can_read"`
	CanTrade    bool `json:"can_trade"`
	CanWithdraw bool `json:"can_withdraw"`
	CanDeposit  bool `json:"can_deposit"`

	// 安全评分（0-100，越高越安全）
	SecurityScore int    `json:"security_score"`
	RiskLevel     string `json:"risk_level"` // "low", "medium", "high"
}

// CalculateSecurityScore 只读查看器的评分：任何写权限都扣分
func (p *APIPermissions) CalculateSecurityScore() {
	score := 100
	if p.CanWithdraw {
		score -= 60
	}
	if p.CanTrade {
		score -= 30
	}
	if !p.CanRead {
		score -= 10
	}
	if score < 0 {
		score = 0
	}
	p.SecurityScore = score

	switch {
	case score >= 80:
		p.RiskLevel = "low"
	case score >= 50:
		p.RiskLevel = "medium"
	default:
		p.RiskLevel = "high"
	}
}

// IsReadOnly 是否为只读密钥
func (p *APIPermissions) IsReadOnly() bool {
	return p.CanRead && !p.CanTrade && !p.CanWithdraw
}

// GetWarnings 安全提示
func (p *APIPermissions) GetWarnings() []string {
	warnings := []string{}
	if p.CanWithdraw {
		warnings = append(warnings, "⚠️ 危险：API 密钥具有提现权限！强烈建议禁用")
	}
	if p.CanTrade {
		warnings = append(warnings, "⚠️ 警告：API 密钥具有交易权限，查看持仓只需要读取权限")
	}
	if !p.CanRead {
		warnings = append(warnings, "ℹ️ 注意：API 密钥无法读取账户数据")
	}
	return warnings
}
