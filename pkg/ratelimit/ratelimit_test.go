package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recruit-agent-go/pkg/agent"
)

func TestTokenBucket_AllowRespectsCapacity(t *testing.T) {
	tb := NewTokenBucket(60, 2)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "容量耗尽后应拒绝")
}

func TestTokenBucket_WaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &agent.APIError{StatusCode: 429, Body: "slow down"}, true},
		{"wrapped 429", fmt.Errorf("阶段失败: %w", &agent.APIError{StatusCode: 429}), true},
		{"500", &agent.APIError{StatusCode: 500, Body: "oops"}, false},
		{"400", &agent.APIError{StatusCode: 400}, false},
		{"client timeout", errors.New("net/http: request canceled (Client.Timeout exceeded)"), true},
		{"i/o timeout", errors.New("dial tcp: i/o timeout"), true},
		{"generic", errors.New("bad json"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryableError(tc.err))
		})
	}
}

func TestRetryWithBackoff_RetriesOnlyRetryable(t *testing.T) {
	tb := NewTokenBucket(6000, 100).WithRetryPolicy(time.Millisecond, 3)

	calls := 0
	err := tb.RetryWithBackoff(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &agent.APIError{StatusCode: 429}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = tb.RetryWithBackoff(context.Background(), func() error {
		calls++
		return errors.New("schema mismatch")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "不可重试的错误只调用一次")
}

func TestRetryWithBackoff_GivesUpAfterMaxRetries(t *testing.T) {
	tb := NewTokenBucket(6000, 100).WithRetryPolicy(time.Millisecond, 2)
	calls := 0
	err := tb.RetryWithBackoff(context.Background(), func() error {
		calls++
		return &agent.APIError{StatusCode: 429}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRateLimitedLLMModel_Generate(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{Error: &agent.APIError{StatusCode: 429}},
		{Content: `{"ok":true}`},
	})
	llm := Wrap(mock, ResolveLimits("llama-3.3-70b-versatile", map[string]int{"llama-3.3-70b-versatile": 600}, 0, 2, time.Millisecond))

	msg, err := llm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, msg.Content)
	assert.Equal(t, 2, mock.CallCount())

	withTools, err := llm.WithTools(nil)
	require.NoError(t, err)
	assert.IsType(t, &RateLimitedLLMModel{}, withTools)
}

func TestResolveLimits(t *testing.T) {
	table := map[string]int{"llama-3.3-70b-versatile": 100}

	l := ResolveLimits("llama-3.3-70b-versatile", table, 0, 0, 0)
	assert.Equal(t, 90, l.QPM, "模型表按 90% 取值")
	assert.Equal(t, 3, l.MaxRetries)
	assert.Equal(t, 2*time.Second, l.RetryWait)

	l = ResolveLimits("llama-3.3-70b-versatile", table, 12, 1, time.Second)
	assert.Equal(t, Limits{QPM: 12, MaxRetries: 1, RetryWait: time.Second}, l, "显式 QPM 优先")

	l = ResolveLimits("unknown", table, 0, 0, 0)
	assert.Equal(t, 30, l.QPM)
}

func TestRateLimitedLLMModel_StreamIsNotReplayed(t *testing.T) {
	mock := agent.NewMockChatClient("x", nil)
	llm := Wrap(mock, Limits{QPM: 600, MaxRetries: 3, RetryWait: time.Millisecond})

	_, err := llm.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
	assert.Equal(t, 0, mock.CallCount(), "Stream 不计入 Generate 调用")
}
