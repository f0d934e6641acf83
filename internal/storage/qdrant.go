package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"recruit-agent-go/internal/config"
	"recruit-agent-go/internal/retrieval"
	"recruit-agent-go/internal/tracing"
	"recruit-agent-go/internal/types"
)

// 定义Qdrant的专用tracer
var qdrantTracer = otel.Tracer("recruit-agent-go/storage/qdrant")

// QdrantPointIDNamespace 生成确定性 point ID 的命名空间。
// 同一个 {resumeId}_{ordinal} 总是得到同一个 point ID，重复写入即覆盖。
var QdrantPointIDNamespace = uuid.Must(uuid.FromString("fd6c72c2-5a33-4b53-8e7c-8298f3f5a7e1"))

// scrollPageSize 按简历拉取分块时每页的数量
const scrollPageSize = 256

// Qdrant 基于 REST API 的向量索引
type Qdrant struct {
	endpoint       string
	collectionName string
	vectorSize     int
	distanceMetric string
	apiKey         string
	httpClient     *http.Client
	logger         *log.Logger
}

var _ retrieval.VectorIndex = (*Qdrant)(nil)

// chunkPayload 存入 Qdrant 的分块载荷
type chunkPayload struct {
	ChunkKey string `json:"chunk_key"`
	ResumeID string `json:"resume_id"`
	Filename string `json:"filename"`
	Ordinal  int    `json:"ordinal"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Text     string `json:"text"`
}

func (p chunkPayload) toChunk() types.Chunk {
	return types.Chunk{
		ResumeID: p.ResumeID,
		Filename: p.Filename,
		Ordinal:  p.Ordinal,
		Start:    p.Start,
		End:      p.End,
		Text:     p.Text,
	}
}

// QdrantOption 定义Qdrant构造函数选项
type QdrantOption func(*Qdrant)

// WithHttpTimeout 设置HTTP客户端超时
func WithHttpTimeout(timeout time.Duration) QdrantOption {
	return func(q *Qdrant) {
		q.httpClient = &http.Client{Timeout: timeout}
	}
}

// WithQdrantLogger 设置日志记录器
func WithQdrantLogger(l *log.Logger) QdrantOption {
	return func(q *Qdrant) {
		if l != nil {
			q.logger = l
		}
	}
}

// NewQdrant 创建Qdrant客户端并确保集合存在
func NewQdrant(cfg *config.QdrantConfig, opts ...QdrantOption) (*Qdrant, error) {
	if cfg == nil {
		return nil, fmt.Errorf("qdrant配置不能为空")
	}

	q := &Qdrant{
		endpoint:       cfg.Endpoint,
		collectionName: cfg.Collection,
		vectorSize:     cfg.Dimension,
		distanceMetric: "Cosine",
		apiKey:         cfg.APIKey,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		logger:         log.New(io.Discard, "", 0),
	}
	if q.endpoint == "" {
		q.endpoint = "http://localhost:6333"
	}
	if q.collectionName == "" {
		q.collectionName = "resumes"
	}
	if q.vectorSize <= 0 {
		q.vectorSize = 384
	}
	for _, opt := range opts {
		opt(q)
	}

	if err := q.ensureCollectionExists(context.Background()); err != nil {
		return nil, fmt.Errorf("确保集合 '%s' 存在失败: %w", q.collectionName, err)
	}

	q.logger.Printf("成功连接到Qdrant服务器: %s，集合: %s", q.endpoint, q.collectionName)
	return q, nil
}

// PointID 由分块主键生成确定性 point ID
func PointID(chunkKey string) string {
	return uuid.NewV5(QdrantPointIDNamespace, chunkKey).String()
}

// ensureCollectionExists 集合不存在时创建，存在但配置不一致时只记录警告
func (q *Qdrant) ensureCollectionExists(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.EnsureCollectionExists",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	status, err := q.doRequest(ctx, http.MethodGet, q.collectionPath(""), nil, &info)
	if status == http.StatusNotFound {
		span.AddEvent("collection_not_found")
		q.logger.Printf("集合 '%s' 不存在，将创建新集合", q.collectionName)
		return q.createCollection(ctx)
	}
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("检查集合失败: %w", err)
	}

	existing := info.Result.Config.Params.Vectors
	if existing.Size != q.vectorSize || existing.Distance != q.distanceMetric {
		q.logger.Printf("警告: 现有集合配置与当前配置不匹配。现有: 维度=%d, 距离=%s; 当前: 维度=%d, 距离=%s",
			existing.Size, existing.Distance, q.vectorSize, q.distanceMetric)
		span.AddEvent("collection_config_mismatch")
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// createCollection 创建新的向量集合
func (q *Qdrant) createCollection(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.CreateCollection",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.collection", q.collectionName),
			attribute.Int("db.vector_size", q.vectorSize),
		))
	defer span.End()

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.vectorSize,
			"distance": q.distanceMetric,
		},
	}
	if _, err := q.doRequest(ctx, http.MethodPut, q.collectionPath(""), body, nil); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("创建集合失败: %w", err)
	}
	// 按 resume_id 过滤的 payload 索引
	indexBody := map[string]interface{}{"field_name": "resume_id", "field_schema": "keyword"}
	if _, err := q.doRequest(ctx, http.MethodPut, q.collectionPath("/index?wait=true"), indexBody, nil); err != nil {
		q.logger.Printf("创建 resume_id payload 索引失败（不影响使用）: %v", err)
	}

	q.logger.Printf("已成功创建Qdrant集合: %s，维度: %d", q.collectionName, q.vectorSize)
	return nil
}

// Upsert 写入分块，point ID 由分块主键确定
func (q *Qdrant) Upsert(ctx context.Context, records []retrieval.ChunkRecord) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Upsert",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("points.count", len(records))))
	defer span.End()

	if len(records) == 0 {
		return nil
	}

	points := make([]map[string]interface{}, 0, len(records))
	for _, r := range records {
		if len(r.Vector) != q.vectorSize {
			err := fmt.Errorf("向量维度(%d)与配置维度(%d)不匹配", len(r.Vector), q.vectorSize)
			tracing.RecordError(span, err, tracing.ErrorTypeValidation)
			return err
		}
		payload := chunkPayload{
			ChunkKey: r.Key,
			ResumeID: r.Chunk.ResumeID,
			Filename: r.Chunk.Filename,
			Ordinal:  r.Chunk.Ordinal,
			Start:    r.Chunk.Start,
			End:      r.Chunk.End,
			Text:     r.Chunk.Text,
		}
		points = append(points, map[string]interface{}{
			"id":      PointID(r.Key),
			"vector":  r.Vector,
			"payload": payload,
		})
	}

	if _, err := q.doRequest(ctx, http.MethodPut, q.collectionPath("/points?wait=true"), map[string]interface{}{"points": points}, nil); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("写入向量失败: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Query 最近邻检索，score 为余弦相似度，转换为距离 1-score
func (q *Qdrant) Query(ctx context.Context, vector []float64, k int) ([]retrieval.ChunkHit, error) {
	if k <= 0 {
		return nil, nil
	}
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("search.limit", k)))
	defer span.End()

	req := map[string]interface{}{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      interface{}  `json:"id"`
			Score   float64      `json:"score"`
			Payload chunkPayload `json:"payload"`
		} `json:"result"`
	}
	if _, err := q.doRequest(ctx, http.MethodPost, q.collectionPath("/points/search"), req, &resp); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	hits := make([]retrieval.ChunkHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, retrieval.ChunkHit{Chunk: r.Payload.toChunk(), Distance: 1 - r.Score})
	}
	span.SetAttributes(attribute.Int("search.results", len(hits)))
	return hits, nil
}

// ChunksByResume 分页拉取一份简历的全部分块，按 ordinal 升序
func (q *Qdrant) ChunksByResume(ctx context.Context, resumeID string) ([]types.Chunk, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.ChunksByResume",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("resume.id", resumeID)))
	defer span.End()

	var chunks []types.Chunk
	var offset interface{}
	for {
		req := map[string]interface{}{
			"filter":       resumeFilter(resumeID),
			"with_payload": true,
			"with_vector":  false,
			"limit":        scrollPageSize,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					Payload chunkPayload `json:"payload"`
				} `json:"points"`
				NextPageOffset interface{} `json:"next_page_offset"`
			} `json:"result"`
		}
		if _, err := q.doRequest(ctx, http.MethodPost, q.collectionPath("/points/scroll"), req, &resp); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return nil, fmt.Errorf("拉取简历分块失败: %w", err)
		}
		for _, p := range resp.Result.Points {
			chunks = append(chunks, p.Payload.toChunk())
		}
		if resp.Result.NextPageOffset == nil || len(resp.Result.Points) == 0 {
			break
		}
		offset = resp.Result.NextPageOffset
	}

	sortChunks(chunks)
	span.SetAttributes(attribute.Int("chunk.count", len(chunks)))
	return chunks, nil
}

// DeleteResume 按 resume_id 过滤删除
func (q *Qdrant) DeleteResume(ctx context.Context, resumeID string) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.DeleteResume",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("resume.id", resumeID)))
	defer span.End()

	body := map[string]interface{}{"filter": resumeFilter(resumeID)}
	if _, err := q.doRequest(ctx, http.MethodPost, q.collectionPath("/points/delete?wait=true"), body, nil); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("删除简历分块失败: %w", err)
	}
	return nil
}

// Reset 删除并重建集合
func (q *Qdrant) Reset(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Reset", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	status, err := q.doRequest(ctx, http.MethodDelete, q.collectionPath(""), nil, nil)
	if err != nil && status != http.StatusNotFound {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("删除集合失败: %w", err)
	}
	return q.createCollection(ctx)
}

// CountPoints 获取集合中的点数量
func (q *Qdrant) CountPoints(ctx context.Context) (int64, error) {
	var resp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	if _, err := q.doRequest(ctx, http.MethodPost, q.collectionPath("/points/count"), map[string]interface{}{"exact": true}, &resp); err != nil {
		return 0, fmt.Errorf("获取点数量失败: %w", err)
	}
	return resp.Result.Count, nil
}

func (q *Qdrant) collectionPath(suffix string) string {
	return fmt.Sprintf("/collections/%s%s", q.collectionName, suffix)
}

func resumeFilter(resumeID string) map[string]interface{} {
	return map[string]interface{}{
		"must": []map[string]interface{}{
			{"key": "resume_id", "match": map[string]interface{}{"value": resumeID}},
		},
	}
}

// sortChunks 按 ordinal 升序
func sortChunks(chunks []types.Chunk) {
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Ordinal < chunks[j].Ordinal })
}

// doRequest 发送请求并解析结果，返回 HTTP 状态码（请求未发出时为 0）
func (q *Qdrant) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("net.peer.name", q.endpoint),
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", path),
	)

	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return 0, err
		}
		reader = bytes.NewReader(jsonBody)
		span.SetAttributes(attribute.Int("http.request.body.size", len(jsonBody)))
	}

	req, err := http.NewRequestWithContext(ctx, method, q.endpoint+path, reader)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	// 注入trace context
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := q.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return 0, err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("qdrant API error: status=%d, body=%s", resp.StatusCode, tracing.TruncateString(string(respBody), 500))
		tracing.RecordHTTPError(span, err, resp.StatusCode)
		return resp.StatusCode, err
	}

	if result != nil && len(respBody) > 0 {
		if err = json.Unmarshal(respBody, result); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return resp.StatusCode, err
		}
	}

	span.SetStatus(codes.Ok, "")
	return resp.StatusCode, nil
}
