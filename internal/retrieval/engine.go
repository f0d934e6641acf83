package retrieval

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"recruit-agent-go/internal/tracing"
	"recruit-agent-go/internal/types"
)

var retrievalTracer = otel.Tracer("recruit-agent-go/retrieval")

// DefaultOversample 查询时默认的过采样倍数
const DefaultOversample = 5

// Match 去重后的单份简历命中
type Match struct {
	ResumeID  string  `json:"resume_id"`
	Filename  string  `json:"filename"`
	Score     float64 `json:"score"`
	ChunkText string  `json:"text"`
}

// Engine 简历分块、索引、检索与全文重建
type Engine struct {
	chunker    *Chunker
	embedder   embedding.Embedder
	index      VectorIndex
	oversample int
	logger     *log.Logger
}

// EngineOption 检索引擎的可选配置
type EngineOption func(*Engine)

// WithOversample 设置过采样倍数，非正数忽略
func WithOversample(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.oversample = n
		}
	}
}

// WithEngineLogger 设置日志记录器
func WithEngineLogger(l *log.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine 创建检索引擎
func NewEngine(chunker *Chunker, embedder embedding.Embedder, index VectorIndex, opts ...EngineOption) (*Engine, error) {
	if chunker == nil {
		return nil, fmt.Errorf("分块器不能为空")
	}
	if embedder == nil {
		return nil, fmt.Errorf("向量嵌入器不能为空")
	}
	if index == nil {
		return nil, fmt.Errorf("向量索引不能为空")
	}
	e := &Engine{
		chunker:    chunker,
		embedder:   embedder,
		index:      index,
		oversample: DefaultOversample,
		logger:     log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Oversample 当前过采样倍数
func (e *Engine) Oversample() int {
	return e.oversample
}

// IndexResume 分块、向量化并写入索引，返回分块数。
// 写入前先删除该简历的旧分块，重新上传更短的文本时不会残留多余的 ordinal。
func (e *Engine) IndexResume(ctx context.Context, doc types.Document) (int, error) {
	ctx, span := retrievalTracer.Start(ctx, "Retrieval.IndexResume",
		trace.WithAttributes(attribute.String("resume.id", doc.ID)))
	defer span.End()

	chunks := e.chunker.Split(doc.ID, doc.Filename, doc.Text)
	if len(chunks) == 0 {
		err := fmt.Errorf("简历 %s 文本为空，无法索引", doc.ID)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return 0, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := e.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return 0, fmt.Errorf("分块向量化失败: %w", err)
	}
	if len(vectors) != len(chunks) {
		err := fmt.Errorf("向量数量 (%d) 与分块数量 (%d) 不一致", len(vectors), len(chunks))
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return 0, err
	}

	if err := e.index.DeleteResume(ctx, doc.ID); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return 0, fmt.Errorf("清理旧分块失败: %w", err)
	}

	records := make([]ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = ChunkRecord{Key: ChunkKey(c.ResumeID, c.Ordinal), Chunk: c, Vector: vectors[i]}
	}
	if err := e.index.Upsert(ctx, records); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return 0, fmt.Errorf("写入向量索引失败: %w", err)
	}

	span.SetAttributes(attribute.Int("chunk.count", len(chunks)))
	e.logger.Printf("简历 %s (%s) 已索引，分块数: %d", doc.ID, doc.Filename, len(chunks))
	return len(chunks), nil
}

// Query 检索与 text 最相关的至多 n 份不重复简历，按相似度降序
func (e *Engine) Query(ctx context.Context, text string, n int) ([]Match, error) {
	if n <= 0 {
		return []Match{}, nil
	}

	ctx, span := retrievalTracer.Start(ctx, "Retrieval.Query",
		trace.WithAttributes(attribute.Int("top_n", n), attribute.Int("oversample", e.oversample)))
	defer span.End()

	vectors, err := e.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, fmt.Errorf("查询文本向量化失败: %w", err)
	}
	if len(vectors) != 1 {
		err := fmt.Errorf("期望 1 个查询向量，实际 %d 个", len(vectors))
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return nil, err
	}

	hits, err := e.index.Query(ctx, vectors[0], n*e.oversample)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	matches := Dedupe(hits, n)
	span.SetAttributes(attribute.Int("hit.count", len(hits)), attribute.Int("match.count", len(matches)))
	e.logger.Printf("检索完成: 命中分块 %d 个，去重后简历 %d 份 (topN=%d)", len(hits), len(matches), n)
	return matches, nil
}

// Dedupe 按距离升序遍历命中，每份简历只保留第一个（相似度最高的）分块，收满 n 份即停止
func Dedupe(hits []ChunkHit, n int) []Match {
	sorted := append([]ChunkHit(nil), hits...)
	sortHits(sorted)

	seen := make(map[string]struct{}, n)
	matches := make([]Match, 0, n)
	for _, h := range sorted {
		if len(matches) >= n {
			break
		}
		if _, ok := seen[h.Chunk.ResumeID]; ok {
			continue
		}
		seen[h.Chunk.ResumeID] = struct{}{}
		matches = append(matches, Match{
			ResumeID:  h.Chunk.ResumeID,
			Filename:  h.Chunk.Filename,
			Score:     h.Similarity(),
			ChunkText: h.Chunk.Text,
		})
	}
	return matches
}

// Reconstruct 按 ordinal 拼接简历全部分块，分块之间用单个空格连接。
// 重叠部分会重复出现，只适合作为阶段输入，不能当作原文。
func (e *Engine) Reconstruct(ctx context.Context, resumeID string) (string, error) {
	chunks, err := e.index.ChunksByResume(ctx, resumeID)
	if err != nil {
		return "", fmt.Errorf("读取简历 %s 的分块失败: %w", resumeID, err)
	}
	sortByOrdinal(chunks)

	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Text
	}
	return strings.Join(parts, " "), nil
}

// DeleteResume 删除简历的全部分块
func (e *Engine) DeleteResume(ctx context.Context, resumeID string) error {
	if err := e.index.DeleteResume(ctx, resumeID); err != nil {
		return fmt.Errorf("删除简历 %s 的分块失败: %w", resumeID, err)
	}
	return nil
}

// Reset 清空索引
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.index.Reset(ctx); err != nil {
		return fmt.Errorf("重置向量索引失败: %w", err)
	}
	e.logger.Printf("向量索引已重置")
	return nil
}
