// Package agent 实现流水线的三个阶段执行器：Researcher、Evaluator、Writer
package agent

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"recruit-agent-go/internal/tracing"
)

var agentTracer = otel.Tracer("recruit-agent-go/agent")

// 阶段名
const (
	StageResearcher = "researcher"
	StageEvaluator  = "evaluator"
	StageWriter     = "writer"
)

// Option 阶段执行器的可选配置
type Option func(*BaseAgent)

// WithLogger 设置日志记录器
func WithLogger(l *log.Logger) Option {
	return func(a *BaseAgent) {
		if l != nil {
			a.logger = l
		}
	}
}

// BaseAgent 三个阶段共享的调用流程：组装消息、调用模型、去掉代码块、按 JSON Schema 校验
type BaseAgent struct {
	Name         string
	SystemPrompt string
	ChatClient   model.ToolCallingChatModel

	schema   *gojsonschema.Schema
	callOpts []model.Option
	logger   *log.Logger
}

func newBaseAgent(name, systemPrompt string, client model.ToolCallingChatModel, s *gojsonschema.Schema, opts ...Option) (*BaseAgent, error) {
	if client == nil {
		return nil, fmt.Errorf("阶段 %s 的模型客户端不能为空", name)
	}
	a := &BaseAgent{
		Name:         name,
		SystemPrompt: systemPrompt,
		ChatClient:   client,
		schema:       s,
		callOpts:     []model.Option{model.WithTemperature(0)},
		logger:       log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// run 调用模型并返回通过 Schema 校验的 JSON 文本。
// wantArray 决定提取最外层的数组还是对象
func (a *BaseAgent) run(ctx context.Context, userPrompt string, wantArray bool) (string, error) {
	ctx, span := agentTracer.Start(ctx, "Agent."+a.Name,
		trace.WithAttributes(
			attribute.String("agent.stage", a.Name),
			attribute.Int("prompt.length", len(userPrompt)),
			attribute.String("prompt.preview", tracing.SafePrompt(userPrompt)),
		))
	defer span.End()

	messages := []*schema.Message{
		schema.SystemMessage(a.SystemPrompt),
		schema.UserMessage(userPrompt),
	}

	start := time.Now()
	resp, err := a.ChatClient.Generate(ctx, messages, a.callOpts...)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return "", fmt.Errorf("调用模型失败: %w", err)
	}
	if resp == nil {
		err := fmt.Errorf("模型返回空消息")
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return "", err
	}
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		span.SetAttributes(attribute.Int("llm.total_tokens", resp.ResponseMeta.Usage.TotalTokens))
	}
	a.logger.Printf("代理 '%s': 模型响应 %d 字符 (用时 %.2f秒)", a.Name, len(resp.Content), time.Since(start).Seconds())

	raw, err := ExtractJSON(resp.Content, wantArray)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return "", err
	}
	if a.schema != nil {
		if err := validateAgainst(a.schema, raw); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeValidation)
			return "", err
		}
	}
	return raw, nil
}
