package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"recruit-agent-go/internal/config"
	"recruit-agent-go/internal/tracing"
)

var rabbitTracer = otel.Tracer("recruit-agent-go/storage/rabbitmq")

const confirmTimeout = 5 * time.Second

// MessagePublisher outbox relay 依赖的最小发布接口
type MessagePublisher interface {
	PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error
}

var _ MessagePublisher = (*RabbitMQ)(nil)

// RabbitMQ 流水线事件发布端，只由 outbox relay 调用，单个 confirm 模式通道串行发布
type RabbitMQ struct {
	conn   *amqp.Connection
	logger *log.Logger

	mu       sync.Mutex // 保护 ch 与 declared
	ch       *amqp.Channel
	declared map[string]bool
}

// NewRabbitMQ 连接 broker，打开 confirm 通道并声明事件 exchange
func NewRabbitMQ(cfg *config.RabbitMQConfig, logger *log.Logger) (*RabbitMQ, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL配置不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("无法连接到RabbitMQ服务器: %w", err)
	}
	mq := &RabbitMQ{
		conn:     conn,
		logger:   logger,
		declared: make(map[string]bool),
	}

	mq.mu.Lock()
	_, err = mq.channelLocked()
	mq.mu.Unlock()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if cfg.PipelineEventsExchange != "" {
		if err := mq.EnsureExchange(cfg.PipelineEventsExchange, amqp.ExchangeTopic); err != nil {
			conn.Close()
			return nil, err
		}
	}
	logger.Printf("成功连接到RabbitMQ服务器, exchange=%s", cfg.PipelineEventsExchange)
	return mq, nil
}

// channelLocked 返回可用通道，已关闭时重新打开。调用方需持有 mu
func (r *RabbitMQ) channelLocked() (*amqp.Channel, error) {
	if r.ch != nil && !r.ch.IsClosed() {
		return r.ch, nil
	}
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("创建RabbitMQ通道失败: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("开启发布确认失败: %w", err)
	}
	if r.ch != nil {
		r.logger.Printf("RabbitMQ通道已重建")
	}
	r.ch = ch
	return ch, nil
}

// Close 关闭通道与连接
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	if r.ch != nil {
		r.ch.Close()
	}
	r.mu.Unlock()
	return r.conn.Close()
}

// EnsureExchange 声明持久化 exchange，已声明过的直接返回
func (r *RabbitMQ) EnsureExchange(name, kind string) error {
	if name == "" || name == "amq.default" {
		return fmt.Errorf("不能声明默认交换机 '%s'", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.declared[name] {
		return nil
	}
	ch, err := r.channelLocked()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(name, kind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("声明exchange失败: %w", err)
	}
	r.declared[name] = true
	return nil
}

// PublishMessage 发布消息并等待 broker 确认。nack 或确认超时都返回错误，由 relay 重试
func (r *RabbitMQ) PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error {
	ctx, span := rabbitTracer.Start(ctx, "RabbitMQ.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", exchangeName),
			attribute.String("messaging.rabbitmq.routing_key", routingKey),
			attribute.Int("messaging.message.body.size", len(message)),
		))
	defer span.End()

	mode := amqp.Transient
	if persistent {
		mode = amqp.Persistent
	}
	msg := amqp.Publishing{
		DeliveryMode: mode,
		ContentType:  "application/json",
		Body:         message,
		Timestamp:    time.Now(),
	}

	r.mu.Lock()
	ch, err := r.channelLocked()
	if err != nil {
		r.mu.Unlock()
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		return err
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchangeName, routingKey, false, false, msg)
	r.mu.Unlock()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		return fmt.Errorf("发布消息失败: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()
	acked, err := confirm.WaitContext(waitCtx)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		return fmt.Errorf("等待发布确认失败: %w", err)
	}
	if !acked {
		err := fmt.Errorf("broker 拒绝了消息 (exchange=%s, key=%s)", exchangeName, routingKey)
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		return err
	}
	return nil
}
