package handler

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"recruit-agent-go/internal/ingestion"
	"recruit-agent-go/internal/pipeline"
	"recruit-agent-go/internal/types"
)

// DocumentHandler 文档上传、列表与会话重置
type DocumentHandler struct {
	orch *pipeline.Orchestrator
}

// NewDocumentHandler 创建 DocumentHandler
func NewDocumentHandler(orch *pipeline.Orchestrator) *DocumentHandler {
	return &DocumentHandler{orch: orch}
}

// HandleUploadJobDescription 上传岗位描述，会先清空当前会话
// POST /documents/job-description
func (h *DocumentHandler) HandleUploadJobDescription(ctx context.Context, c *app.RequestContext) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		writeError(ctx, c, types.NewValidationError("upload_jd", "file is required"))
		return
	}
	up, err := readUpload(fileHeader)
	if err != nil {
		writeError(ctx, c, err)
		return
	}

	doc, err := h.orch.UploadJobDescription(ctx, up)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	hlog.CtxInfof(ctx, "岗位描述上传成功: id=%s, filename=%s", doc.ID, doc.Filename)
	c.JSON(consts.StatusOK, doc)
}

// HandleUploadResumes 上传一份或多份简历
// POST /documents/resumes
func (h *DocumentHandler) HandleUploadResumes(ctx context.Context, c *app.RequestContext) {
	form, err := c.MultipartForm()
	if err != nil {
		writeError(ctx, c, types.NewValidationError("upload_resumes", "files are required"))
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		writeError(ctx, c, types.NewValidationError("upload_resumes", "No files uploaded"))
		return
	}

	ups := make([]ingestion.Upload, 0, len(headers))
	for _, fh := range headers {
		up, err := readUpload(fh)
		if err != nil {
			writeError(ctx, c, err)
			return
		}
		ups = append(ups, up)
	}

	docs, err := h.orch.UploadResumes(ctx, ups)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	hlog.CtxInfof(ctx, "简历上传成功: %d 份", len(docs))
	c.JSON(consts.StatusOK, docs)
}

// HandleListDocuments 列出当前会话的文档
// GET /documents
func (h *DocumentHandler) HandleListDocuments(_ context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, h.orch.Documents())
}

// HandleResetSession 清空会话
// POST /session/reset
func (h *DocumentHandler) HandleResetSession(ctx context.Context, c *app.RequestContext) {
	if err := h.orch.ResetSession(ctx); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"status": "ok"})
}

func readUpload(fh *multipart.FileHeader) (ingestion.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return ingestion.Upload{}, fmt.Errorf("打开上传文件 %s 失败: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return ingestion.Upload{}, fmt.Errorf("读取上传文件 %s 失败: %w", fh.Filename, err)
	}
	return ingestion.Upload{Filename: fh.Filename, Data: data}, nil
}
