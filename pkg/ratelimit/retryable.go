package ratelimit

import (
	"errors"
	"net"
	"strings"
)

// rateLimitedError 由上游客户端的错误类型实现，例如 agent.APIError
type rateLimitedError interface {
	RateLimited() bool
}

// IsRetryableError 只有限流 (429) 和超时可以重试
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var rl rateLimitedError
	if errors.As(err, &rl) {
		return rl.RateLimited()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"429", "too many requests", "rate limit", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
