package embedding

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"recruit-agent-go/internal/constants"
	"recruit-agent-go/internal/tracing"
)

var embedTracer = otel.Tracer("recruit-agent-go/embedding")

// VectorCache 向量缓存，storage.Redis 实现了该接口
type VectorCache interface {
	GetEmbedding(ctx context.Context, model, text string) ([]float64, bool, error)
	SetEmbedding(ctx context.Context, model, text string, vector []float64, ttl time.Duration) error
}

type modelNamer interface {
	ModelName() string
}

// CachedEmbedder 在内层嵌入器之前查缓存，只把未命中的文本送去嵌入。
// 缓存读写失败只记日志，不影响结果。
type CachedEmbedder struct {
	inner  embedding.Embedder
	cache  VectorCache
	model  string
	ttl    time.Duration
	logger *log.Logger
}

// CachedOption CachedEmbedder 的可选配置
type CachedOption func(*CachedEmbedder)

// WithCacheTTL 设置缓存时长
func WithCacheTTL(ttl time.Duration) CachedOption {
	return func(c *CachedEmbedder) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCacheLogger 设置日志记录器
func WithCacheLogger(l *log.Logger) CachedOption {
	return func(c *CachedEmbedder) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCachedEmbedder 包装 inner。缓存键中的模型名优先取 inner.ModelName()
func NewCachedEmbedder(inner embedding.Embedder, cache VectorCache, opts ...CachedOption) (*CachedEmbedder, error) {
	if inner == nil {
		return nil, fmt.Errorf("内层嵌入器不能为空")
	}
	if cache == nil {
		return nil, fmt.Errorf("向量缓存不能为空")
	}
	c := &CachedEmbedder{
		inner:  inner,
		cache:  cache,
		model:  "default",
		ttl:    constants.DefaultEmbeddingCacheTTL,
		logger: log.New(io.Discard, "", 0),
	}
	if n, ok := inner.(modelNamer); ok && n.ModelName() != "" {
		c.model = n.ModelName()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EmbedStrings 实现 embedding.Embedder 接口
func (c *CachedEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}
	ctx, span := embedTracer.Start(ctx, "Embedding.Cached",
		trace.WithAttributes(attribute.Int("text.count", len(texts)), attribute.String("embedding.model", c.model)))
	defer span.End()

	out := make([][]float64, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		vec, ok, err := c.cache.GetEmbedding(ctx, c.model, text)
		if err != nil {
			c.logger.Printf("[CachedEmbedder] 读取缓存失败: %v", err)
		}
		if ok && len(vec) > 0 {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	span.SetAttributes(attribute.Int("cache.miss", len(missTexts)))
	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.inner.EmbedStrings(ctx, missTexts, opts...)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		err := fmt.Errorf("向量数量 (%d) 与文本数量 (%d) 不一致", len(vectors), len(missTexts))
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vectors[j]
		if err := c.cache.SetEmbedding(ctx, c.model, missTexts[j], vectors[j], c.ttl); err != nil {
			c.logger.Printf("[CachedEmbedder] 写入缓存失败: %v", err)
		}
	}
	return out, nil
}

var _ embedding.Embedder = (*CachedEmbedder)(nil)
