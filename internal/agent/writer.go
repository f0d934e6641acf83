package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"recruit-agent-go/internal/types"
)

// Writer 为通过审批的候选人撰写邀约邮件
type Writer struct {
	*BaseAgent
}

// NewWriter 创建 Writer
func NewWriter(client model.ToolCallingChatModel, opts ...Option) (*Writer, error) {
	base, err := newBaseAgent(StageWriter, writerSystemPrompt, client, emailsSchema, opts...)
	if err != nil {
		return nil, err
	}
	return &Writer{BaseAgent: base}, nil
}

// Write 生成邮件。只保留 evaluations 中出现过的 resume_id，同一候选人只保留第一封
func (w *Writer) Write(ctx context.Context, analysis types.JDAnalysis, evaluations []types.CandidateEvaluation, resumes []types.ResumeInput) Result[[]types.OutreachEmail] {
	if len(evaluations) == 0 {
		return Ok([]types.OutreachEmail{})
	}

	raw, err := w.run(ctx, BuildWriterPrompt(analysis, evaluations, resumes), true)
	if err != nil {
		return stageFailure[[]types.OutreachEmail](w.Name, err)
	}

	var parsed []types.OutreachEmail
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return stageFailure[[]types.OutreachEmail](w.Name, fmt.Errorf("解析邮件失败: %w", err))
	}

	allowed := make(map[string]struct{}, len(evaluations))
	for _, ev := range evaluations {
		allowed[ev.ResumeID] = struct{}{}
	}

	out := make([]types.OutreachEmail, 0, len(parsed))
	seen := make(map[string]struct{}, len(parsed))
	for i := range parsed {
		email := parsed[i]
		email.ResumeID = strings.TrimSpace(email.ResumeID)
		if err := validate.Struct(email); err != nil {
			return stageFailure[[]types.OutreachEmail](w.Name, fmt.Errorf("第 %d 封邮件无效: %w", i, err))
		}
		if _, ok := allowed[email.ResumeID]; !ok {
			w.logger.Printf("代理 '%s': 丢弃未审批简历 %s 的邮件", w.Name, email.ResumeID)
			continue
		}
		if _, dup := seen[email.ResumeID]; dup {
			continue
		}
		seen[email.ResumeID] = struct{}{}
		out = append(out, email)
	}

	w.logger.Printf("代理 '%s': 生成 %d 封邮件", w.Name, len(out))
	return Ok(out)
}
