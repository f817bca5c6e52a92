package exchange

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewAPIErrorClassification(t *testing.T) {
	cases := []struct {
		code int64
		msg  string
		want error
	}{
		{CodeInvalidSymbol, "Invalid symbol.", ErrInvalidSymbol},
		{CodeTooManyOrders, "Too many new orders", ErrRateLimited},
		{CodeTooManyRequests, "Too much request weight used", ErrRateLimited},
		{CodeTooManyRequests, "Way too many requests; IP(1.2.3.4) banned until 1767288777555.", ErrIPBanned},
		{CodeIPBanned, "IP banned", ErrIPBanned},
	}
	for _, c := range cases {
		err := fmt.Errorf("获取价格失败: %w", NewAPIError(c.code, c.msg))
		if !errors.Is(err, c.want) {
			t.Errorf("code=%d msg=%q 分类错误: %v", c.code, c.msg, ErrorKind(err))
		}
	}

	other := NewAPIError(-2015, "Invalid API-key")
	if other.Kind != nil || ErrorKind(other) != "other" {
		t.Errorf("未知错误码不应被分类: %v", other.Kind)
	}
}

func TestParseBanTime(t *testing.T) {
	until, ok := ParseBanTime("IP(130.176.187.84) banned until 1767288777555")
	if !ok {
		t.Fatal("应能解析封禁时间")
	}
	if until.UnixMilli() != 1767288777555 {
		t.Errorf("封禁时间错误: %d", until.UnixMilli())
	}
	if _, ok := ParseBanTime("nothing here"); ok {
		t.Error("不应解析出封禁时间")
	}
}

func TestHeaderTracker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "42")
		w.Header().Set("X-MBX-ORDER-COUNT-10S", "3")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	state := NewRateLimitState()
	var observed RateLimitSnapshot
	state.SetObserver(func(s RateLimitSnapshot) { observed = s })

	client := &http.Client{Transport: &HeaderTracker{State: state}}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	resp.Body.Close()

	snap := state.Snapshot()
	if snap.UsedWeight != 42 || snap.OrderCount != 3 {
		t.Errorf("限流状态错误: %+v", snap)
	}
	if snap.WeightTimestamp.IsZero() {
		t.Error("权重时间戳未设置")
	}
	if observed.UsedWeight != 42 {
		t.Errorf("观察者未收到更新: %+v", observed)
	}
}

func TestPermissionScore(t *testing.T) {
	p := &APIPermissions{CanRead: true}
	p.CalculateSecurityScore()
	if p.SecurityScore != 100 || p.RiskLevel != "low" || !p.IsReadOnly() {
		t.Errorf("只读密钥评分错误: %+v", p)
	}

	p = &APIPermissions{CanRead: true, CanTrade: true, CanWithdraw: true}
	p.CalculateSecurityScore()
	if p.RiskLevel != "high" || len(p.GetWarnings()) != 2 {
		t.Errorf("高风险密钥评分错误: %+v", p)
	}
}
