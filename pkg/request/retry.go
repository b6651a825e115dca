package request

import (
	"math/rand/v2"
	"time"
)

// RetryConfig 指数退避重试，仅对网络错误与 5xx 重试
type RetryConfig struct {
	MaxAttempts  int           // 重试次数（不含首次，默认 2）
	InitialDelay time.Duration // 默认 100ms
	MaxDelay     time.Duration // 默认 2s
}

func (rc RetryConfig) normalized() RetryConfig {
	if rc.MaxAttempts <= 0 {
		rc.MaxAttempts = 2
	}
	if rc.InitialDelay <= 0 {
		rc.InitialDelay = 100 * time.Millisecond
	}
	if rc.MaxDelay <= 0 {
		rc.MaxDelay = 2 * time.Second
	}
	return rc
}

// backoff 第 attempt 次重试前的等待，±25% 抖动
func (rc RetryConfig) backoff(attempt int) time.Duration {
	d := rc.InitialDelay
	for i := 0; i < attempt && d < rc.MaxDelay; i++ {
		d *= 2
	}
	d = min(d, rc.MaxDelay)
	jitter := time.Duration(float64(d) * 0.25 * (rand.Float64()*2 - 1))
	return max(d+jitter, 0)
}

func retryable(resp *Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode >= 500
}
