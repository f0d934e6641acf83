package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGroqChatModel_RequiresKey(t *testing.T) {
	_, err := NewGroqChatModel("  ")
	assert.Error(t, err)
}

func TestGroqChatModel_Generate(t *testing.T) {
	var captured chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"{\"a\":1}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
	}))
	defer server.Close()

	m, err := NewGroqChatModel("test-key",
		WithGroqAPIURL(server.URL),
		WithGroqModel("llama-3.1-8b-instant"),
		WithTemperature(0),
		WithMaxTokens(256),
		WithRequestTimeout(5*time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, "llama-3.1-8b-instant", m.ModelName())

	msg, err := m.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, msg.Content)
	assert.Equal(t, schema.Assistant, msg.Role)
	require.NotNil(t, msg.ResponseMeta)
	assert.Equal(t, "stop", msg.ResponseMeta.FinishReason)
	assert.Equal(t, 5, msg.ResponseMeta.Usage.TotalTokens)

	assert.Equal(t, "llama-3.1-8b-instant", captured.Model)
	assert.Equal(t, float32(0), captured.Temperature)
	require.NotNil(t, captured.MaxTokens)
	assert.Equal(t, 256, *captured.MaxTokens)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "hello", captured.Messages[1].Content)
}

func TestGroqChatModel_CallOptionsOverrideDefaults(t *testing.T) {
	var captured chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer server.Close()

	m, err := NewGroqChatModel("k", WithGroqAPIURL(server.URL))
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("x")},
		model.WithTemperature(0.5), model.WithModel("other-model"))
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), captured.Temperature)
	assert.Equal(t, "other-model", captured.Model)
	assert.Nil(t, captured.MaxTokens)
}

func TestGroqChatModel_HTTPErrorIsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limit"}`))
	}))
	defer server.Close()

	m, err := NewGroqChatModel("k", WithGroqAPIURL(server.URL))
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("x")})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.RateLimited())
	assert.Contains(t, apiErr.Body, "rate limit")
}

func TestGroqChatModel_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	m, err := NewGroqChatModel("k", WithGroqAPIURL(server.URL))
	require.NoError(t, err)
	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("x")})
	assert.Error(t, err)

	_, err = m.Stream(context.Background(), nil)
	assert.Error(t, err)
}

func TestMockChatClient(t *testing.T) {
	seq := NewMockChatClientSequential([]MockResponse{{Content: "a"}, {Error: errors.New("b")}})
	msg, err := seq.Generate(context.Background(), []*schema.Message{schema.UserMessage("1")})
	require.NoError(t, err)
	assert.Equal(t, "a", msg.Content)
	_, err = seq.Generate(context.Background(), nil)
	assert.EqualError(t, err, "b")
	_, err = seq.Generate(context.Background(), nil)
	assert.Error(t, err, "响应用尽后应报错")
	assert.Equal(t, 3, seq.CallCount())

	slow := NewMockChatClient("late", nil)
	slow.Delay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = slow.Generate(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	fn := NewMockChatClientFunc(func(in []*schema.Message) (string, error) {
		return in[len(in)-1].Content + "!", nil
	})
	msg, err = fn.Generate(context.Background(), []*schema.Message{schema.UserMessage("hey")})
	require.NoError(t, err)
	assert.Equal(t, "hey!", msg.Content)
}
