package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"recruit-agent-go/internal/config"
	"recruit-agent-go/internal/tracing"
)

var minioTracer = otel.Tracer("recruit-agent-go/storage/minio")

// MinIO 保存上传的原始文件，对象键为 {docID}/{filename}
type MinIO struct {
	client *minio.Client
	cfg    *config.MinIOConfig
	bucket string
	logger *log.Logger
}

// NewMinIO 创建MinIO客户端并确保存储桶存在
func NewMinIO(cfg *config.MinIOConfig, logger *log.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	bucket := cfg.BucketName
	if bucket == "" {
		bucket = "uploads"
	}
	m := &MinIO{client: client, cfg: cfg, bucket: bucket, logger: logger}

	ctx := context.Background()
	if err := m.ensureBucketExists(ctx); err != nil {
		return nil, err
	}
	if cfg.UploadExpireDays > 0 {
		if err := m.setupLifecycle(ctx, cfg.UploadExpireDays); err != nil {
			// 生命周期规则失败不影响使用
			logger.Printf("[MinIO] 设置生命周期规则失败: %v", err)
		}
	}

	logger.Printf("[MinIO] 客户端初始化完成: endpoint=%s, bucket=%s", cfg.Endpoint, bucket)
	return m, nil
}

func (m *MinIO) ensureBucketExists(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.cfg.Location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", m.bucket, err)
	}
	m.logger.Printf("[MinIO] 存储桶 %s 已创建", m.bucket)
	return nil
}

func (m *MinIO) setupLifecycle(ctx context.Context, days int) error {
	lc := lifecycle.NewConfiguration()
	lc.Rules = []lifecycle.Rule{
		{
			ID:     "expire-uploads",
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(days),
			},
		},
	}
	return m.client.SetBucketLifecycle(ctx, m.bucket, lc)
}

// ObjectKey 生成对象键，文件名只保留最后一段
func ObjectKey(docID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		name = "upload"
	}
	return docID + "/" + name
}

// Put 上传原始字节，返回对象键
func (m *MinIO) Put(ctx context.Context, docID, filename string, data []byte) (string, error) {
	key := ObjectKey(docID, filename)
	ctx, span := minioTracer.Start(ctx, "MinIO.Put",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("minio.bucket", m.bucket),
			attribute.String("minio.key", key),
			attribute.Int("minio.size", len(data)),
		))
	defer span.End()

	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: getContentType(path.Ext(key))})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
		return "", fmt.Errorf("上传对象 %s/%s 失败: %w", m.bucket, key, err)
	}
	return key, nil
}

// Get 读取对象
func (m *MinIO) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", m.bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s/%s 数据失败: %w", m.bucket, key, err)
	}
	return data, nil
}

// DeleteAll 删除存储桶内全部对象，会话重置时调用
func (m *MinIO) DeleteAll(ctx context.Context) error {
	ctx, span := minioTracer.Start(ctx, "MinIO.DeleteAll",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("minio.bucket", m.bucket)))
	defer span.End()

	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Recursive: true}) {
			if obj.Err != nil {
				m.logger.Printf("[MinIO] 列举对象失败: %v", obj.Err)
				return
			}
			objectsCh <- obj
		}
	}()

	var failed int
	var firstErr error
	for rErr := range m.client.RemoveObjects(ctx, m.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		failed++
		if firstErr == nil {
			firstErr = rErr.Err
		}
	}
	if firstErr != nil {
		tracing.RecordError(span, firstErr, tracing.ErrorTypeObjectStore)
		return fmt.Errorf("删除 %d 个对象失败: %w", failed, firstErr)
	}
	return nil
}

// getContentType 按扩展名推断内容类型
func getContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".txt", ".text":
		return "text/plain; charset=utf-8"
	case ".md":
		return "text/markdown; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
