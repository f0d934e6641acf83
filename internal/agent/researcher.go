package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"recruit-agent-go/internal/types"
)

// Researcher 从 JD 中提取结构化要求
type Researcher struct {
	*BaseAgent
}

// NewResearcher 创建 Researcher
func NewResearcher(client model.ToolCallingChatModel, opts ...Option) (*Researcher, error) {
	base, err := newBaseAgent(StageResearcher, researcherSystemPrompt, client, jdAnalysisSchema, opts...)
	if err != nil {
		return nil, err
	}
	return &Researcher{BaseAgent: base}, nil
}

// Research 分析 JD 文本
func (r *Researcher) Research(ctx context.Context, jdText string) Result[types.JDAnalysis] {
	if strings.TrimSpace(jdText) == "" {
		return Err[types.JDAnalysis](r.Name, types.KindStageExecution, "researcher stage failed: job description text is empty")
	}

	raw, err := r.run(ctx, BuildResearcherPrompt(jdText), false)
	if err != nil {
		return stageFailure[types.JDAnalysis](r.Name, err)
	}

	var analysis types.JDAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return stageFailure[types.JDAnalysis](r.Name, fmt.Errorf("解析 JD 分析失败: %w", err))
	}
	normalizeAnalysis(&analysis)
	r.logger.Printf("代理 '%s': 岗位 %q，技术要求 %d 项", r.Name, analysis.RoleTitle, len(analysis.TechnicalRequirements))
	return Ok(analysis)
}

// normalizeAnalysis 缺失的数组补成空数组，便于前端直接遍历
func normalizeAnalysis(a *types.JDAnalysis) {
	for _, s := range []*[]string{
		&a.TechnicalRequirements,
		&a.SoftSkills,
		&a.CulturalFitIndicators,
		&a.EducationRequirements,
		&a.NiceToHaves,
	} {
		if *s == nil {
			*s = []string{}
		}
	}
}
