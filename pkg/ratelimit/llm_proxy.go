package ratelimit

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	defaultQPM       = 30
	defaultRetries   = 3
	defaultRetryWait = 2 * time.Second
	// 配置表里的 QPM 只用 90%，给其它调用方留余量
	qpmHeadroom = 0.9
)

// Limits 一个聊天模型的限流参数
type Limits struct {
	QPM        int
	MaxRetries int
	RetryWait  time.Duration
}

// ResolveLimits 按优先级确定 QPM：显式值 > 模型表 (90%) > 默认 30。
// 其余字段为 0 时使用默认值
func ResolveLimits(modelName string, table map[string]int, qpm, maxRetries int, retryWait time.Duration) Limits {
	l := Limits{QPM: qpm, MaxRetries: maxRetries, RetryWait: retryWait}
	if l.QPM <= 0 {
		if v, ok := table[modelName]; ok && v > 0 {
			l.QPM = int(float64(v) * qpmHeadroom)
		}
	}
	if l.QPM <= 0 {
		l.QPM = defaultQPM
	}
	if l.MaxRetries <= 0 {
		l.MaxRetries = defaultRetries
	}
	if l.RetryWait <= 0 {
		l.RetryWait = defaultRetryWait
	}
	return l
}

// RateLimitedLLMModel 每次调用前从令牌桶取令牌，Generate 对 429/超时退避重试
type RateLimitedLLMModel struct {
	inner  model.ToolCallingChatModel
	bucket *TokenBucket
}

var _ model.ToolCallingChatModel = (*RateLimitedLLMModel)(nil)

// Wrap 包装聊天模型，桶容量取 QPM 的一半
func Wrap(inner model.ToolCallingChatModel, l Limits) *RateLimitedLLMModel {
	return &RateLimitedLLMModel{
		inner:  inner,
		bucket: NewTokenBucket(l.QPM, 0).WithRetryPolicy(l.RetryWait, l.MaxRetries),
	}
}

// Limiter 底层令牌桶
func (rl *RateLimitedLLMModel) Limiter() *TokenBucket {
	return rl.bucket
}

func (rl *RateLimitedLLMModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	var out *schema.Message
	err := rl.bucket.RetryWithBackoff(ctx, func() error {
		msg, err := rl.inner.Generate(ctx, messages, options...)
		if err != nil {
			return err
		}
		out = msg
		return nil
	})
	return out, err
}

// Stream 只取一次令牌，流一旦开始就不重放
func (rl *RateLimitedLLMModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := rl.bucket.Wait(ctx); err != nil {
		return nil, err
	}
	return rl.inner.Stream(ctx, messages, options...)
}

// WithTools 新模型与原模型共用同一个令牌桶
func (rl *RateLimitedLLMModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound, err := rl.inner.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &RateLimitedLLMModel{inner: bound, bucket: rl.bucket}, nil
}
