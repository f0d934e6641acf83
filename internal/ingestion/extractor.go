// Package ingestion 负责上传文件的落盘与文本提取
package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"

	"recruit-agent-go/internal/types"
)

// TextExtractor 从上传文件中提取纯文本
type TextExtractor interface {
	Extract(ctx context.Context, filename string, data []byte) (string, error)
}

// FileExt 返回小写扩展名（含点）
func FileExt(filename string) string {
	return strings.ToLower(path.Ext(strings.ReplaceAll(filename, "\\", "/")))
}

// Supported 是否为支持的文件类型
func Supported(ext string) bool {
	switch ext {
	case ".pdf", ".txt", ".text", ".md":
		return true
	}
	return false
}

// PDFExtractor 使用 eino PDF Parser 提取整份 PDF 的文本
type PDFExtractor struct {
	parser  *pdf.PDFParser
	timeout time.Duration
	logger  *log.Logger
}

// PDFOption PDF 提取器的配置选项
type PDFOption func(*PDFExtractor)

// WithPDFLogger 设置日志记录器
func WithPDFLogger(l *log.Logger) PDFOption {
	return func(e *PDFExtractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPDFTimeout 设置单个文件的解析超时
func WithPDFTimeout(d time.Duration) PDFOption {
	return func(e *PDFExtractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewPDFExtractor 不按页面分割，得到整份文档的连续文本
func NewPDFExtractor(ctx context.Context, opts ...PDFOption) (*PDFExtractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: false})
	if err != nil {
		return nil, fmt.Errorf("创建 eino PDF 解析器失败: %w", err)
	}
	e := &PDFExtractor{
		parser:  p,
		timeout: 30 * time.Second,
		logger:  log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ExtractFromReader 解析 PDF，多个文档时按空行拼接
func (e *PDFExtractor) ExtractFromReader(ctx context.Context, reader io.Reader, uri string) (text string, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// 底层 PDF 库遇到损坏文件可能 panic
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("解析 PDF %s 时发生 panic: %v", uri, r)
		}
	}()

	start := time.Now()
	docs, err := e.parser.Parse(ctx, reader, einoParser.WithURI(uri))
	if err != nil {
		return "", fmt.Errorf("eino PDF parser failed for URI %s: %w", uri, err)
	}

	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc != nil && doc.Content != "" {
			parts = append(parts, doc.Content)
		}
	}
	text = strings.Join(parts, "\n\n")
	e.logger.Printf("PDF %s 处理完成: %d 个文档, %d 个字符 (用时 %.2f秒)", uri, len(docs), len(text), time.Since(start).Seconds())
	return text, nil
}

// Extractor 按扩展名分派：.pdf 走 eino 解析器，.txt/.text/.md 按 UTF-8 解码
type Extractor struct {
	pdf *PDFExtractor
}

// NewExtractor p 为 nil 时 PDF 文件会返回提取错误
func NewExtractor(p *PDFExtractor) *Extractor {
	return &Extractor{pdf: p}
}

// Extract 实现 TextExtractor。结果已去掉首尾空白
func (x *Extractor) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	ext := FileExt(filename)
	switch ext {
	case ".pdf":
		if x.pdf == nil {
			return "", types.NewExtractionError("extract", filename, "PDF extraction is not available", nil)
		}
		text, err := x.pdf.ExtractFromReader(ctx, bytes.NewReader(data), filename)
		if err != nil {
			return "", types.NewExtractionError("extract", filename, fmt.Sprintf("Failed to extract text from %s", filename), err)
		}
		return strings.TrimSpace(text), nil
	case ".txt", ".text", ".md":
		return strings.TrimSpace(strings.ToValidUTF8(string(data), "\uFFFD")), nil
	default:
		return "", types.NewValidationError("extract", fmt.Sprintf("Unsupported file type: %s", ext))
	}
}

var _ TextExtractor = (*Extractor)(nil)
