package exchange

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	ErrInvalidSymbol = errors.New("invalid symbol")
	ErrRateLimited   = errors.New("rate limited")
	ErrIPBanned      = errors.New("ip banned")
)

// Binance 错误码
const (
	CodeTooManyRequests int64 = -1003
	CodeIPBanned        int64 = -1010
	CodeTooManyOrders   int64 = -1015
	CodeInvalidSymbol   int64 = -1121
)

// APIError 带错误码的交易所错误，Kind 为上面的哨兵错误之一（未分类时为 nil）
type APIError struct {
	Kind        error
	Code        int64
	Message     string
	BannedUntil time.Time
}

func (e *APIError) Error() string {
	return fmt.Sprintf("<APIError> code=%d, msg=%s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

var banUntilRe = regexp.MustCompile(`banned until (\d+)`)

// ParseBanTime 从错误消息中解析封禁截止时间
// 格式: "IP(1.2.3.4) banned until 1767288777555"
func ParseBanTime(msg string) (time.Time, bool) {
	m := banUntilRe.FindStringSubmatch(msg)
	if len(m) < 2 {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// NewAPIError 根据错误码和消息分类
func NewAPIError(code int64, msg string) *APIError {
	e := &APIError{Code: code, Message: msg}
	if until, ok := ParseBanTime(msg); ok {
		e.Kind = ErrIPBanned
		e.BannedUntil = until
		return e
	}
	switch code {
	case CodeInvalidSymbol:
		e.Kind = ErrInvalidSymbol
	case CodeTooManyRequests, CodeTooManyOrders:
		e.Kind = ErrRateLimited
	case CodeIPBanned:
		e.Kind = ErrIPBanned
	}
	return e
}

// IsInvalidSymbol 交易对无效
func IsInvalidSymbol(err error) bool { return errors.Is(err, ErrInvalidSymbol) }

// IsRateLimited 被限流
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// IsIPBanned IP 被封禁
func IsIPBanned(err error) bool { return errors.Is(err, ErrIPBanned) }

// ErrorKind 返回用于日志和指标的错误类别
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsInvalidSymbol(err):
		return "invalid_symbol"
	case IsRateLimited(err):
		return "rate_limited"
	case IsIPBanned(err):
		return "ip_banned"
	default:
		return "other"
	}
}

// BannedUntil 从错误链中取出封禁截止时间
func BannedUntil(err error) (time.Time, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && !apiErr.BannedUntil.IsZero() {
		return apiErr.BannedUntil, true
	}
	return time.Time{}, false
}
