package ingestion

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"recruit-agent-go/internal/tracing"
	"recruit-agent-go/internal/types"
)

var ingestTracer = otel.Tracer("recruit-agent-go/ingestion")

// Upload 一个待处理的上传文件
type Upload struct {
	Filename string
	Data     []byte
}

// Ingestor 校验类型、保存原始文件并提取文本，产出 Document
type Ingestor struct {
	extractor TextExtractor
	blobs     BlobStore
	logger    *log.Logger
	now       func() time.Time
}

// Option Ingestor 的可选配置
type Option func(*Ingestor)

// WithBlobStore 设置原始文件存储，未设置时不保存原始文件
func WithBlobStore(b BlobStore) Option {
	return func(i *Ingestor) {
		i.blobs = b
	}
}

// WithLogger 设置日志记录器
func WithLogger(l *log.Logger) Option {
	return func(i *Ingestor) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewIngestor 创建 Ingestor
func NewIngestor(extractor TextExtractor, opts ...Option) (*Ingestor, error) {
	if extractor == nil {
		return nil, fmt.Errorf("文本提取器不能为空")
	}
	i := &Ingestor{
		extractor: extractor,
		logger:    log.New(io.Discard, "", 0),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Ingest 处理单个文件。不支持的类型返回 ValidationError，文本为空返回 ExtractionError
func (i *Ingestor) Ingest(ctx context.Context, up Upload, docType types.DocType) (types.Document, error) {
	ctx, span := ingestTracer.Start(ctx, "Ingestion.Ingest",
		trace.WithAttributes(
			attribute.String("file.name", tracing.SafeAttributeValue("file.name", up.Filename, tracing.DefaultMaxLength)),
			attribute.String("file.ext", FileExt(up.Filename)),
			attribute.Int("file.size", len(up.Data)),
			attribute.String("doc.type", string(docType)),
		))
	defer span.End()

	ext := FileExt(up.Filename)
	if !Supported(ext) {
		err := types.NewValidationError("ingest", fmt.Sprintf("Unsupported file type: %s", ext))
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return types.Document{}, err
	}

	docID := uuid.NewString()
	if i.blobs != nil {
		key, err := i.blobs.Put(ctx, docID, up.Filename, up.Data)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
			return types.Document{}, fmt.Errorf("保存上传文件 %s 失败: %w", up.Filename, err)
		}
		i.logger.Printf("上传文件 %s 已保存: %s", up.Filename, key)
	}

	text, err := i.extractor.Extract(ctx, up.Filename, up.Data)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return types.Document{}, err
	}
	if text == "" {
		err := types.NewExtractionError("ingest", up.Filename, fmt.Sprintf("No text could be extracted from %s", up.Filename), nil)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return types.Document{}, err
	}

	span.SetAttributes(
		attribute.String("doc.id", docID),
		attribute.Int("text.length", len([]rune(text))),
		attribute.String("text.preview", tracing.SafeResumeContent(text)),
	)
	return types.Document{
		ID:         docID,
		Filename:   up.Filename,
		DocType:    docType,
		Text:       text,
		UploadedAt: i.now().UTC(),
	}, nil
}

// BlobStore 当前的原始文件存储，可能为 nil
func (i *Ingestor) BlobStore() BlobStore {
	return i.blobs
}
