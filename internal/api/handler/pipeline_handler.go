package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/go-playground/validator/v10"

	"recruit-agent-go/internal/pipeline"
	"recruit-agent-go/internal/types"
)

var validate = validator.New()

// StartRequest 启动流水线，同时接受 camelCase 与 snake_case 字段
type StartRequest struct {
	JobDescriptionID string `json:"jobDescriptionId"`
	JDID             string `json:"jd_id"`
	TopN             *int   `json:"topN"`
	TopNSnake        *int   `json:"top_n"`
}

func (r StartRequest) jdID() string {
	if r.JobDescriptionID != "" {
		return r.JobDescriptionID
	}
	return r.JDID
}

func (r StartRequest) topN() int {
	switch {
	case r.TopN != nil:
		return *r.TopN
	case r.TopNSnake != nil:
		return *r.TopNSnake
	default:
		return 0
	}
}

// ApproveRequest 审批请求
type ApproveRequest struct {
	ApprovedResumeIDs      *[]string `json:"approvedResumeIds"`
	ApprovedResumeIDsSnake *[]string `json:"approved_resume_ids"`
}

func (r ApproveRequest) ids() ([]string, bool) {
	switch {
	case r.ApprovedResumeIDs != nil:
		return *r.ApprovedResumeIDs, true
	case r.ApprovedResumeIDsSnake != nil:
		return *r.ApprovedResumeIDsSnake, true
	default:
		return nil, false
	}
}

// EditEmailRequest 编辑邮件
type EditEmailRequest struct {
	Subject *string `json:"subject" validate:"required"`
	Body    *string `json:"body" validate:"required"`
}

// PipelineHandler 流水线的启动、查询、审批与邮件编辑
type PipelineHandler struct {
	orch *pipeline.Orchestrator
}

// NewPipelineHandler 创建 PipelineHandler
func NewPipelineHandler(orch *pipeline.Orchestrator) *PipelineHandler {
	return &PipelineHandler{orch: orch}
}

// HandleStart 启动一次运行并立即返回 pending 快照
// POST /pipeline/start
func (h *PipelineHandler) HandleStart(ctx context.Context, c *app.RequestContext) {
	var req StartRequest
	if err := decodeBody(c, &req); err != nil {
		writeError(ctx, c, err)
		return
	}
	jdID := strings.TrimSpace(req.jdID())
	if jdID == "" {
		writeError(ctx, c, types.NewValidationError("start", "jobDescriptionId is required"))
		return
	}

	run, err := h.orch.Start(ctx, jdID, req.topN())
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	hlog.CtxInfof(ctx, "流水线已启动: run=%s, jd=%s", run.RunID, jdID)
	c.JSON(consts.StatusOK, run)
}

// HandleGetStatus 查询运行快照
// GET /pipeline/:runId
func (h *PipelineHandler) HandleGetStatus(ctx context.Context, c *app.RequestContext) {
	run, err := h.orch.GetStatus(c.Param("runId"))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, run)
}

// HandleApprove 提交审批结果
// POST /pipeline/:runId/approve
func (h *PipelineHandler) HandleApprove(ctx context.Context, c *app.RequestContext) {
	var req ApproveRequest
	if err := decodeBody(c, &req); err != nil {
		writeError(ctx, c, err)
		return
	}
	ids, ok := req.ids()
	if !ok {
		writeError(ctx, c, types.NewValidationError("approve", "approvedResumeIds is required"))
		return
	}

	run, err := h.orch.Approve(ctx, c.Param("runId"), ids)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, run)
}

// HandleEditEmail 覆盖一封邮件的主题与正文
// PUT /pipeline/:runId/emails/:resumeId
func (h *PipelineHandler) HandleEditEmail(ctx context.Context, c *app.RequestContext) {
	var req EditEmailRequest
	if err := decodeBody(c, &req); err != nil {
		writeError(ctx, c, err)
		return
	}

	run, err := h.orch.EditEmail(c.Param("runId"), c.Param("resumeId"), *req.Subject, *req.Body)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, run)
}

// decodeBody 解析 JSON 请求体并按 validate 标签校验
func decodeBody(c *app.RequestContext, out any) error {
	body := c.Request.Body()
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return types.NewValidationError("decode", "Invalid JSON body: "+err.Error())
	}
	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			return types.NewValidationError("decode", "Invalid request: "+strings.Join(fields, ", "))
		}
		return types.NewValidationError("decode", err.Error())
	}
	return nil
}
