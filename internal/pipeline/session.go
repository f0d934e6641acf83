package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"recruit-agent-go/internal/ingestion"
	"recruit-agent-go/internal/tracing"
	"recruit-agent-go/internal/types"
)

// UploadJobDescription 清空会话后导入新的岗位描述
func (o *Orchestrator) UploadJobDescription(ctx context.Context, up ingestion.Upload) (types.Document, error) {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.UploadJobDescription",
		trace.WithAttributes(attribute.String("file.name", up.Filename)))
	defer span.End()

	if err := o.ResetSession(ctx); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return types.Document{}, err
	}
	doc, err := o.ingestor.Ingest(ctx, up, types.DocTypeJD)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return types.Document{}, err
	}
	o.store.AddDocument(doc)
	o.logger.Printf("[pipeline] 岗位描述 %s (%s) 已导入", doc.ID, doc.Filename)
	return doc, nil
}

// UploadResumes 逐个导入并索引简历。先检查全部扩展名，任何一个不支持则整体拒绝；
// 中途失败时已成功的简历保留
func (o *Orchestrator) UploadResumes(ctx context.Context, ups []ingestion.Upload) ([]types.Document, error) {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.UploadResumes",
		trace.WithAttributes(attribute.Int("file.count", len(ups))))
	defer span.End()

	if len(ups) == 0 {
		err := types.NewValidationError("upload_resumes", "No files uploaded")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	for _, up := range ups {
		if ext := ingestion.FileExt(up.Filename); !ingestion.Supported(ext) {
			err := types.NewValidationError("upload_resumes", "Unsupported file type: "+ext)
			tracing.RecordError(span, err, tracing.ErrorTypeValidation)
			return nil, err
		}
	}

	docs := make([]types.Document, 0, len(ups))
	for _, up := range ups {
		doc, err := o.ingestor.Ingest(ctx, up, types.DocTypeResume)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeValidation)
			return docs, err
		}
		n, err := o.retriever.IndexResume(ctx, doc)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return docs, fmt.Errorf("索引简历 %s 失败: %w", doc.Filename, err)
		}
		o.store.AddDocument(doc)
		docs = append(docs, doc)
		o.logger.Printf("[pipeline] 简历 %s (%s) 已索引, 分块数=%d", doc.ID, doc.Filename, n)
	}
	return docs, nil
}

// Documents 当前会话的全部文档，按上传时间排序
func (o *Orchestrator) Documents() []types.Document {
	return o.store.ListDocuments()
}

// ResetSession 取消后台任务并清空文档、运行、向量索引、上传文件与快照缓存
func (o *Orchestrator) ResetSession(ctx context.Context) error {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.ResetSession")
	defer span.End()

	tasks := o.store.Reset()
	for _, t := range tasks {
		t.Cancel()
	}

	var errs []error
	if err := o.retriever.Reset(ctx); err != nil {
		errs = append(errs, fmt.Errorf("重置向量索引失败: %w", err))
	}
	if blobs := o.ingestor.BlobStore(); blobs != nil {
		if err := blobs.DeleteAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("清理上传文件失败: %w", err))
		}
	}
	if o.purger != nil {
		if err := o.purger.DeleteRunSnapshots(ctx); err != nil {
			errs = append(errs, fmt.Errorf("清理运行快照失败: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return err
	}
	o.logger.Printf("[pipeline] 会话已重置, 取消任务数=%d", len(tasks))
	return nil
}
