package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	defaultGroqAPIURL    = "https://api.groq.com/openai/v1/chat/completions"
	defaultGroqModelName = "llama-3.3-70b-versatile"
)

// APIError 上游返回的非 200 响应
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API 请求失败，状态 %d: %s", e.StatusCode, e.Body)
}

// RateLimited 是否为 429
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	TopP        *float32      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// GroqChatModel OpenAI 兼容的 chat completions 客户端，实现 model.ToolCallingChatModel。
// 流水线各阶段只需要一次性文本补全，不使用工具调用。
type GroqChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature float32
	maxTokens   int
	httpClient  *http.Client
	logger      *log.Logger
}

// GroqOption GroqChatModel 的可选配置
type GroqOption func(*GroqChatModel)

// WithGroqModel 设置模型名
func WithGroqModel(name string) GroqOption {
	return func(g *GroqChatModel) {
		if strings.TrimSpace(name) != "" {
			g.modelName = name
		}
	}
}

// WithGroqAPIURL 设置 chat completions 地址
func WithGroqAPIURL(url string) GroqOption {
	return func(g *GroqChatModel) {
		if strings.TrimSpace(url) != "" {
			g.apiURL = url
		}
	}
}

// WithTemperature 设置默认温度
func WithTemperature(t float32) GroqOption {
	return func(g *GroqChatModel) {
		g.temperature = t
	}
}

// WithMaxTokens 设置默认最大输出 token 数，0 表示不限制
func WithMaxTokens(n int) GroqOption {
	return func(g *GroqChatModel) {
		g.maxTokens = n
	}
}

// WithRequestTimeout 设置单次 HTTP 请求超时
func WithRequestTimeout(d time.Duration) GroqOption {
	return func(g *GroqChatModel) {
		if d > 0 {
			g.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient 替换 HTTP 客户端
func WithHTTPClient(c *http.Client) GroqOption {
	return func(g *GroqChatModel) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// WithGroqLogger 设置日志记录器
func WithGroqLogger(l *log.Logger) GroqOption {
	return func(g *GroqChatModel) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGroqChatModel 创建一个新的 GroqChatModel 实例
func NewGroqChatModel(apiKey string, opts ...GroqOption) (*GroqChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	g := &GroqChatModel{
		apiKey:     apiKey,
		modelName:  defaultGroqModelName,
		apiURL:     defaultGroqAPIURL,
		httpClient: &http.Client{Timeout: 90 * time.Second},
		logger:     log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger.Printf("使用 Groq LLM 客户端，API URL: %s, 模型: %s", g.apiURL, g.modelName)
	return g, nil
}

// ModelName 当前模型名
func (g *GroqChatModel) ModelName() string {
	return g.modelName
}

func (g *GroqChatModel) buildRequest(messages []*schema.Message, options ...model.Option) chatCompletionRequest {
	temperature := g.temperature
	var maxTokens *int
	if g.maxTokens > 0 {
		mt := g.maxTokens
		maxTokens = &mt
	}
	common := model.GetCommonOptions(&model.Options{
		Temperature: &temperature,
		MaxTokens:   maxTokens,
		Model:       &g.modelName,
	}, options...)

	req := chatCompletionRequest{
		Model:     g.modelName,
		Messages:  make([]chatMessage, 0, len(messages)),
		MaxTokens: common.MaxTokens,
		TopP:      common.TopP,
		Stop:      common.Stop,
	}
	if common.Model != nil && *common.Model != "" {
		req.Model = *common.Model
	}
	if common.Temperature != nil {
		req.Temperature = *common.Temperature
	}
	for _, m := range messages {
		if m == nil {
			continue
		}
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return req
}

// Generate 实现 model.ChatModel 接口
func (g *GroqChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	reqPayload := g.buildRequest(messages, options...)
	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	g.logger.Printf("[Groq] 模型 %s 响应 %d，耗时 %s，响应体 %d 字节", reqPayload.Model, httpResp.StatusCode, time.Since(start), len(bodyBytes))

	if httpResp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: httpResp.StatusCode, Body: string(bodyBytes)}
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(bodyBytes, &resp); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("从 API 收到空选项: %s", string(bodyBytes))
	}

	choice := resp.Choices[0]
	content := ""
	if choice.Message.Content != nil {
		content = *choice.Message.Content
	}
	out := schema.AssistantMessage(content, nil)
	out.ResponseMeta = &schema.ResponseMeta{FinishReason: choice.FinishReason}
	if resp.Usage != nil {
		out.ResponseMeta.Usage = &schema.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// Stream 流水线不需要流式输出
func (g *GroqChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("GroqChatModel 不支持 Stream")
}

// BindTools 实现 model.ChatModel 接口，工具被忽略
func (g *GroqChatModel) BindTools(tools []*schema.ToolInfo) error {
	if len(tools) > 0 {
		g.logger.Printf("[Groq] 忽略 %d 个工具定义", len(tools))
	}
	return nil
}

// WithTools 返回自身，工具被忽略
func (g *GroqChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if err := g.BindTools(tools); err != nil {
		return nil, err
	}
	return g, nil
}

var _ model.ChatModel = (*GroqChatModel)(nil)
var _ model.ToolCallingChatModel = (*GroqChatModel)(nil)
